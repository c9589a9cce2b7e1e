package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/cryptox"
	"github.com/dmitrijs2005/memvault/internal/models"
	"github.com/dmitrijs2005/memvault/internal/payload"
	"github.com/dmitrijs2005/memvault/internal/store"
	"github.com/google/uuid"
)

// EncryptOptions tag a memory on write.
type EncryptOptions struct {
	// Type defaults to "conversation".
	Type string
	// IsShortTerm gives the memory a five hour lifetime.
	IsShortTerm bool
	// ExpiresAt, when set, hides and later removes the memory after that
	// instant regardless of its term.
	ExpiresAt *time.Time
}

// DecryptOptions select memories on read.
type DecryptOptions struct {
	// Type defaults to "conversation".
	Type string
	// Limit defaults to 30.
	Limit int
}

// Entry is one decrypted memory.
type Entry struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"createdAt"`
	Data        any       `json:"data"`
	IsShortTerm bool      `json:"isShortTerm"`
}

func (e Entry) clone() Entry {
	e.Data = payload.Clone(e.Data)
	return e
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = e.clone()
	}
	return out
}

// cachedList is a decrypted read result. It is only served for the same
// type and limit and only until the first record in it would die.
type cachedList struct {
	typ        string
	limit      int
	validUntil time.Time
	entries    []Entry
}

func (c cachedList) usable(typ string, limit int, now time.Time) bool {
	return c.typ == typ && c.limit == limit && now.Before(c.validUntil)
}

// deathTime is the first instant at which m stops being live.
func deathTime(m *models.Memory) time.Time {
	t := m.CreatedAt.Add(common.HardRetention)
	if m.IsShortTerm && m.ShortTermExpiresAt != nil && m.ShortTermExpiresAt.Before(t) {
		t = *m.ShortTermExpiresAt
	}
	if m.ExpiresAt != nil && m.ExpiresAt.Before(t) {
		t = *m.ExpiresAt
	}
	return t
}

// EncryptMemory serializes v, encrypts it under the user's key and stores
// it, then applies the retention budget. v may be a []byte, a string or any
// JSON-encodable value. It returns the new record id.
func (v *Vault) EncryptMemory(ctx context.Context, userID string, value any, opts EncryptOptions) (string, error) {
	defer v.track("encrypt_memory")()

	if err := validateUserID(userID); err != nil {
		return "", err
	}
	master, err := v.master.Key()
	if err != nil {
		return "", err
	}

	plain, format, err := payload.Serialize(value)
	if err != nil {
		return "", fmt.Errorf("serialize memory: %w", err)
	}
	if len(plain) > common.MaxPayloadBytes {
		v.metrics.rejected()
		return "", common.ErrPayloadTooLarge
	}

	dek, err := v.userKey(ctx, master, userID)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(dek)

	sealed, err := cryptox.Seal(dek, plain)
	if err != nil {
		return "", fmt.Errorf("encrypt memory: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate memory id: %w", err)
	}

	now := v.now().UTC()
	typ := opts.Type
	if typ == "" {
		typ = common.DefaultMemoryType
	}
	rec := &models.Memory{
		ID:          id.String(),
		UserID:      userID,
		Type:        typ,
		Payload:     sealed,
		Format:      format,
		Meta:        models.MemoryMeta{Bytes: len(plain)},
		CreatedAt:   now,
		IsShortTerm: opts.IsShortTerm,
		Version:     common.RecordVersion,
	}
	if opts.IsShortTerm {
		exp := now.Add(common.ShortTermTTL)
		rec.ShortTermExpiresAt = &exp
	}
	if opts.ExpiresAt != nil {
		exp := opts.ExpiresAt.UTC()
		rec.ExpiresAt = &exp
	}

	if err := v.store.InsertMemory(ctx, rec); err != nil {
		return "", err
	}
	v.metrics.written()

	if _, err := v.retention.Enforce(ctx, userID, now); err != nil {
		v.metrics.retentionFailed()
		v.log.Error(ctx, "retention failed", "user_id", userID, "error", err)
	}
	v.listGen.bump(userID, func() { v.lists.Remove(userID) })

	return rec.ID, nil
}

// DecryptMemories returns up to opts.Limit of the user's live memories of
// opts.Type, newest first. Records that fail to decrypt or decode are
// skipped and logged; they never fail the whole read. Returned entries are
// copies owned by the caller.
func (v *Vault) DecryptMemories(ctx context.Context, userID string, opts DecryptOptions) ([]Entry, error) {
	defer v.track("decrypt_memories")()

	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	master, err := v.master.Key()
	if err != nil {
		return nil, err
	}

	typ := opts.Type
	if typ == "" {
		typ = common.DefaultMemoryType
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = common.DefaultReadLimit
	}
	now := v.now().UTC()

	if v.listCache {
		if c, ok := v.lists.Get(userID); ok && c.usable(typ, limit, now) {
			v.log.Debug(ctx, "cache hit", "cache", ListCacheName, "user_id", userID)
			return cloneEntries(c.entries), nil
		}
	}

	gen := v.listGen.current(userID)

	if _, err := v.retention.Sweep(ctx, userID, now); err != nil {
		return nil, err
	}

	recs, err := v.store.FindMemories(ctx, models.MemoryQuery{
		UserID: userID,
		Type:   typ,
		Limit:  limit,
		LiveAt: now,
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return []Entry{}, nil
	}

	dek, err := v.userKey(ctx, master, userID)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(dek)

	entries := make([]Entry, 0, len(recs))
	validUntil := now.Add(common.HardRetention)
	for _, rec := range recs {
		plain, err := cryptox.Open(dek, rec.Payload)
		if err != nil {
			v.metrics.skipped("decrypt")
			v.log.Warn(ctx, "skipping undecryptable memory", "user_id", userID, "record_id", rec.ID, "error", err)
			continue
		}
		data, ok := payload.Deserialize(plain, rec.Format)
		if !ok || data == nil {
			v.metrics.skipped("decode")
			v.log.Warn(ctx, "skipping undecodable memory", "user_id", userID, "record_id", rec.ID, "format", string(rec.Format))
			continue
		}
		if d := deathTime(rec); d.Before(validUntil) {
			validUntil = d
		}
		entries = append(entries, Entry{
			ID:          rec.ID,
			Type:        rec.Type,
			CreatedAt:   rec.CreatedAt,
			Data:        data,
			IsShortTerm: rec.IsShortTerm,
		})
	}
	v.metrics.returned(len(entries))

	if v.listCache {
		v.listGen.fill(userID, gen, func() {
			v.lists.Add(userID, cachedList{typ: typ, limit: limit, validUntil: validUntil, entries: cloneEntries(entries)})
		})
	}
	return entries, nil
}

// PurgeUserMemories irreversibly deletes every memory and the key of the
// user. A later write for the same user gets a fresh key.
func (v *Vault) PurgeUserMemories(ctx context.Context, userID string) error {
	defer v.track("purge_user_memories")()

	if err := validateUserID(userID); err != nil {
		return err
	}
	if _, err := v.master.Key(); err != nil {
		return err
	}

	// Bumped on both sides of the delete: a lookup that started before
	// the delete finished must not cache what it read.
	v.keyGen.bump(userID, func() { v.keys.Remove(userID) })
	v.listGen.bump(userID, func() { v.lists.Remove(userID) })

	var err error
	if p, ok := v.store.(store.Purger); ok {
		err = p.PurgeUser(ctx, userID)
	} else {
		err = v.purgeSequential(ctx, userID)
	}

	v.keyGen.bump(userID, func() { v.keys.Remove(userID) })
	v.listGen.bump(userID, func() { v.lists.Remove(userID) })
	if err != nil {
		return err
	}

	v.metrics.purged()
	v.log.Info(ctx, "user memories purged", "user_id", userID)
	return nil
}

func (v *Vault) purgeSequential(ctx context.Context, userID string) error {
	if _, err := v.store.DeleteMemories(ctx, models.MemoryFilter{UserID: userID}); err != nil {
		return err
	}
	return v.store.DeleteKey(ctx, userID)
}
