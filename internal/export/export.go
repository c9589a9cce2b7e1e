// Package export dumps the vault's encrypted collections to a sink and
// restores the newest dump into a local-file store. Exports carry sealed
// keys and ciphertext only; nothing is decrypted on the way.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/memvault/internal/logging"
	"github.com/dmitrijs2005/memvault/internal/models"
	"github.com/dmitrijs2005/memvault/internal/store"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

const (
	namePrefix = "vault-export-"
	jsonExt    = ".json"
	zstdExt    = ".zst"
	stampFmt   = "20060102T150405.000Z"
)

// IsExportName reports whether name looks like an export document.
func IsExportName(name string) bool {
	return strings.HasPrefix(name, namePrefix) &&
		(strings.HasSuffix(name, jsonExt) || strings.HasSuffix(name, jsonExt+zstdExt))
}

// Name returns the export file name for t.
func Name(t time.Time, compressed bool) string {
	n := namePrefix + t.UTC().Format(stampFmt) + jsonExt
	if compressed {
		n += zstdExt
	}
	return n
}

func contentType(name string) string {
	if strings.HasSuffix(name, zstdExt) {
		return "application/zstd"
	}
	return "application/json"
}

// Exporter snapshots a store and writes the document to every sink.
type Exporter struct {
	src      store.Snapshotter
	names    store.Names
	sinks    []Sink
	compress bool
	now      func() time.Time
	log      logging.Logger
}

type ExporterOption func(*Exporter)

func WithCompression(on bool) ExporterOption {
	return func(e *Exporter) { e.compress = on }
}

func WithClock(now func() time.Time) ExporterOption {
	return func(e *Exporter) { e.now = now }
}

func WithLogger(l logging.Logger) ExporterOption {
	return func(e *Exporter) { e.log = l }
}

func NewExporter(src store.Snapshotter, names store.Names, sinks []Sink, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		src:   src,
		names: names.WithDefaults(),
		sinks: sinks,
		now:   time.Now,
		log:   logging.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Result describes a completed export.
type Result struct {
	Name     string `json:"name"`
	Keys     int    `json:"keys"`
	Memories int    `json:"memories"`
	Bytes    int    `json:"bytes"`
}

// Encode renders snap as {"<keys collection>": [...], "<memories collection>": [...]}.
func Encode(ctx context.Context, snap *models.Snapshot, names store.Names) ([]byte, error) {
	names = names.WithDefaults()

	var keysJSON, memsJSON []byte
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keysJSON, err = json.Marshal(nonNil(snap.UserKeys))
		return err
	})
	g.Go(func() error {
		var err error
		memsJSON, err = json.Marshal(nonNil(snap.Memories))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	doc := map[string]json.RawMessage{
		names.UserKeys: keysJSON,
		names.Memories: memsJSON,
	}
	return json.Marshal(doc)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(nil))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// Export snapshots the store and uploads the document to all sinks in
// parallel. It fails if any sink fails.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	if len(e.sinks) == 0 {
		return nil, fmt.Errorf("export: no sinks configured")
	}

	snap, err := e.src.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	data, err := Encode(ctx, snap, e.names)
	if err != nil {
		return nil, err
	}
	if e.compress {
		if data, err = compress(data); err != nil {
			return nil, fmt.Errorf("compress export: %w", err)
		}
	}

	name := Name(e.now(), e.compress)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range e.sinks {
		s := s
		g.Go(func() error { return s.Put(gctx, name, data) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Name: name, Keys: len(snap.UserKeys), Memories: len(snap.Memories), Bytes: len(data)}
	e.log.Info(ctx, "vault exported", "name", name, "keys", res.Keys, "memories", res.Memories, "bytes", res.Bytes)
	return res, nil
}
