// Package datasource loads datasets by layer name.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mohammed-shakir/map-search/internal/core/model"
)

var ErrLayerNotFound = errors.New("layer not found")

type Source interface {
	Load(ctx context.Context, layer string) (*model.Dataset, error)
}

// Dir reads <root>/<layer>.json files.
type Dir struct {
	root string
}

func NewDir(root string) *Dir { return &Dir{root: root} }

func (d *Dir) Root() string { return d.root }

func (d *Dir) Load(ctx context.Context, layer string) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validLayer(layer) {
		return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, layer)
	}
	fh, err := os.Open(filepath.Join(d.root, layer+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, layer)
	}
	if err != nil {
		return nil, fmt.Errorf("open layer %s: %w", layer, err)
	}
	defer func() { _ = fh.Close() }()

	ds, err := model.ReadDataset(fh)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", layer, err)
	}
	ds.Layer = layer
	ds.ID = model.NewDatasetID()
	return ds, nil
}

// Layers lists the layer names available under root.
func (d *Dir) Layers() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok || !validLayer(name) {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

// layer names become file names
func validLayer(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.ContainsRune(s, 0)
}
