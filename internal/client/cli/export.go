package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/memvault/internal/export"
	"github.com/dmitrijs2005/memvault/internal/store"
	"github.com/dmitrijs2005/memvault/internal/store/local"
)

var ErrUnsupportedStore = errors.New("store does not support this operation")

// newS3Sink is a test seam for export.NewS3Sink.
var newS3Sink = func(ctx context.Context, cfg export.S3Config) (export.Sink, error) {
	return export.NewS3Sink(ctx, cfg)
}

// sinks returns the directory sink and, when configured, the S3 sink.
func (a *App) sinks(ctx context.Context) ([]export.Sink, error) {
	dir, err := export.NewDirSink(a.config.ExportDir)
	if err != nil {
		return nil, err
	}
	out := []export.Sink{dir}

	if a.config.S3.Enabled() {
		s3, err := newS3Sink(ctx, a.config.S3)
		if err != nil {
			return nil, err
		}
		out = append(out, s3)
	}
	return out, nil
}

func (a *App) printResult(res *export.Result) error {
	if res == nil {
		fmt.Fprintln(a.out, "no export found")
		return nil
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func (a *App) export(ctx context.Context) (err error) {
	st, err := a.openStore(ctx, a.config)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, st.Close(ctx)) }()

	snap, ok := st.(store.Snapshotter)
	if !ok {
		return fmt.Errorf("%w: export", ErrUnsupportedStore)
	}

	sinks, err := a.sinks(ctx)
	if err != nil {
		return err
	}

	res, err := export.NewExporter(snap, a.config.Names(), sinks,
		export.WithCompression(a.config.ExportCompress),
		export.WithLogger(a.logger),
	).Export(ctx)
	if err != nil {
		return err
	}
	return a.printResult(res)
}

// sync restores the local-file store under DataDir from the newest export.
// The S3 sink is the source when configured, the export directory
// otherwise.
func (a *App) sync(ctx context.Context) error {
	sinks, err := a.sinks(ctx)
	if err != nil {
		return err
	}
	src := sinks[len(sinks)-1]

	localCfg := *a.config
	localCfg.LocalMode = true
	if err := localCfg.Validate(); err != nil {
		return err
	}

	dst, err := local.New(localCfg.DataDir, localCfg.Names())
	if err != nil {
		return err
	}

	res, err := export.NewImporter(src, dst, localCfg.Names(), a.logger).SyncLatest(ctx)
	if err != nil {
		return err
	}
	return a.printResult(res)
}
