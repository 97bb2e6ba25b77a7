package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/map-search/internal/convert"
	"github.com/mohammed-shakir/map-search/internal/core/model"
)

type Option func(*redis.Options)

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

// Redis keeps templates in one hash, field = template name, value = JSON.
// Templates are validated on write; reads trust what is stored.
type Redis struct {
	rdb *redis.Client
	reg *convert.Registry
	key string
}

func NewRedis(ctx context.Context, addr, key string, reg *convert.Registry, opts ...Option) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if key == "" {
		key = "filter-templates"
	}
	if reg == nil {
		reg = convert.NewRegistry()
	}
	ro := &redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, reg: reg, key: key}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Put(ctx context.Context, templates ...model.FilterTemplate) error {
	if len(templates) == 0 {
		return nil
	}
	fields := make([]any, 0, 2*len(templates))
	for _, t := range templates {
		if err := Validate(r.reg, t); err != nil {
			return err
		}
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode template %s: %w", t.Name, err)
		}
		fields = append(fields, t.Name, b)
	}
	if err := r.rdb.HSet(ctx, r.key, fields...).Err(); err != nil {
		return fmt.Errorf("redis HSET %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, name string) error {
	if err := r.rdb.HDel(ctx, r.key, name).Err(); err != nil {
		return fmt.Errorf("redis HDEL %s %s: %w", r.key, name, err)
	}
	return nil
}

func (r *Redis) Template(ctx context.Context, name string) (model.FilterTemplate, error) {
	raw, err := r.rdb.HGet(ctx, r.key, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.FilterTemplate{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	if err != nil {
		return model.FilterTemplate{}, fmt.Errorf("redis HGET %s %s: %w", r.key, name, err)
	}
	var t model.FilterTemplate
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.FilterTemplate{}, fmt.Errorf("decode template %s: %w", name, err)
	}
	return t, nil
}

// Templates returns every stored template sorted by name.
func (r *Redis) Templates(ctx context.Context) ([]model.FilterTemplate, error) {
	all, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", r.key, err)
	}
	out := make([]model.FilterTemplate, 0, len(all))
	for name, raw := range all {
		var t model.FilterTemplate
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode template %s: %w", name, err)
		}
		out = append(out, t)
	}
	sortByName(out)
	return out, nil
}
