package datasource

import (
	"context"
	"errors"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/map-search/internal/core/model"
	"github.com/mohammed-shakir/map-search/internal/core/observability"
)

// Cache keeps recently used datasets in memory. Cached datasets are shared
// between callers and must not be mutated.
type Cache struct {
	src    Source
	logger *slog.Logger
	lru    *lru.Cache[string, *model.Dataset]
	group  singleflight.Group
}

func NewCache(src Source, size int, logger *slog.Logger) *Cache {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	c, _ := lru.New[string, *model.Dataset](size)
	return &Cache{src: src, logger: logger, lru: c}
}

func (c *Cache) Load(ctx context.Context, layer string) (*model.Dataset, error) {
	if ds, ok := c.lru.Get(layer); ok {
		observability.IncDatasetCacheHit()
		return ds, nil
	}
	observability.IncDatasetCacheMiss()

	v, err, shared := c.group.Do(layer, func() (any, error) {
		if ds, ok := c.lru.Get(layer); ok {
			return ds, nil
		}
		ds, err := c.src.Load(ctx, layer)
		if err != nil {
			return nil, err
		}
		c.lru.Add(layer, ds)
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("dataset load coalesced", "layer", layer)
	}
	return v.(*model.Dataset), nil
}

// Invalidate drops layer so the next Load reads it again.
func (c *Cache) Invalidate(layer string) bool {
	c.group.Forget(layer)
	ok := c.lru.Remove(layer)
	if ok {
		c.logger.Info("dataset evicted", "layer", layer)
	}
	return ok
}

// Layers delegates to the wrapped source when it can list layers.
func (c *Cache) Layers() ([]string, error) {
	ll, ok := c.src.(interface{ Layers() ([]string, error) })
	if !ok {
		return nil, errors.New("source cannot list layers")
	}
	return ll.Layers()
}

func (c *Cache) Purge() { c.lru.Purge() }

func (c *Cache) Len() int { return c.lru.Len() }
