package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/logging"
	"github.com/dmitrijs2005/memvault/internal/models"
	"github.com/dmitrijs2005/memvault/internal/store"
	"github.com/tidwall/gjson"
)

// Importer restores the newest export from a sink into a store.
type Importer struct {
	src   Sink
	dst   store.Restorer
	names store.Names
	log   logging.Logger
}

func NewImporter(src Sink, dst store.Restorer, names store.Names, log logging.Logger) *Importer {
	if log == nil {
		log = logging.Nop()
	}
	return &Importer{src: src, dst: dst, names: names.WithDefaults(), log: log}
}

// Decode parses an export document produced by Encode. Collections absent
// from the document decode as empty.
func Decode(data []byte, names store.Names) (*models.Snapshot, error) {
	names = names.WithDefaults()
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: export is not valid JSON", common.ErrMalformedPayload)
	}

	snap := &models.Snapshot{}
	res := gjson.GetManyBytes(data, gjsonPath(names.UserKeys), gjsonPath(names.Memories))

	if raw := res[0]; raw.Exists() {
		if !raw.IsArray() {
			return nil, fmt.Errorf("%w: %s is not an array", common.ErrMalformedPayload, names.UserKeys)
		}
		if err := json.Unmarshal([]byte(raw.Raw), &snap.UserKeys); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrMalformedPayload, names.UserKeys, err)
		}
	}
	if raw := res[1]; raw.Exists() {
		if !raw.IsArray() {
			return nil, fmt.Errorf("%w: %s is not an array", common.ErrMalformedPayload, names.Memories)
		}
		if err := json.Unmarshal([]byte(raw.Raw), &snap.Memories); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrMalformedPayload, names.Memories, err)
		}
	}
	return snap, nil
}

var gjsonEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

func gjsonPath(key string) string { return gjsonEscaper.Replace(key) }

// SyncLatest replaces the destination's content with the newest export. It
// returns nil, nil when the sink holds no export.
func (i *Importer) SyncLatest(ctx context.Context) (*Result, error) {
	names, err := i.src.List(ctx)
	if err != nil {
		return nil, err
	}
	latest := Latest(names)
	if latest == "" {
		return nil, nil
	}

	data, err := i.src.Get(ctx, latest)
	if err != nil {
		return nil, err
	}
	size := len(data)
	if strings.HasSuffix(latest, zstdExt) {
		if data, err = decompress(data); err != nil {
			return nil, fmt.Errorf("%w: decompress %s: %v", common.ErrMalformedPayload, latest, err)
		}
	}

	snap, err := Decode(data, i.names)
	if err != nil {
		return nil, err
	}
	if err := i.dst.Restore(ctx, snap); err != nil {
		return nil, err
	}

	res := &Result{Name: latest, Keys: len(snap.UserKeys), Memories: len(snap.Memories), Bytes: size}
	i.log.Info(ctx, "synced from export", "name", latest, "keys", res.Keys, "memories", res.Memories)
	return res, nil
}
