package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/filex"
)

// Sink stores export documents by name.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns the names of the exports held by the sink, in any order.
	List(ctx context.Context) ([]string, error)
}

// DirSink keeps exports as files in a local directory.
type DirSink struct {
	dir string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &DirSink{dir: abs}, nil
}

func (d *DirSink) Dir() string { return d.dir }

func (d *DirSink) Put(_ context.Context, name string, data []byte) error {
	return filex.WriteFileAtomic(filepath.Join(d.dir, filepath.Base(name)), data, 0o600)
}

func (d *DirSink) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, filepath.Base(name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, common.ErrorNotFound
	}
	return data, err
}

func (d *DirSink) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsExportName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Latest returns the newest export name among names, or "" when there is
// none. Export names embed a sortable UTC timestamp.
func Latest(names []string) string {
	var exports []string
	for _, n := range names {
		if IsExportName(n) {
			exports = append(exports, n)
		}
	}
	if len(exports) == 0 {
		return ""
	}
	sort.Slice(exports, func(i, j int) bool { return stamp(exports[i]) > stamp(exports[j]) })
	return exports[0]
}

func stamp(name string) string {
	name = strings.TrimPrefix(filepath.Base(name), namePrefix)
	return strings.TrimSuffix(strings.TrimSuffix(name, zstdExt), jsonExt)
}
