// Package local implements the vault store on top of plain JSON files, for
// deployments without an external database.
//
// Each collection lives in its own file under the data directory:
//
//	<dir>/<userKeys>.json
//	<dir>/<memories>.json
//
// with the shape {"updatedAt": "...", "docs": [...]}. Every write rewrites the
// affected file atomically. The store is meant for a single process; callers
// in the same process are serialized by an internal lock.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/filex"
	"github.com/dmitrijs2005/memvault/internal/models"
	"github.com/dmitrijs2005/memvault/internal/store"
)

type collection[T any] struct {
	UpdatedAt time.Time `json:"updatedAt"`
	Docs      []T       `json:"docs"`
}

// Store is the local-file backend.
type Store struct {
	dir   string
	names store.Names
	mu    sync.RWMutex
	now   func() time.Time
}

var (
	_ store.Store       = (*Store)(nil)
	_ store.Trimmer     = (*Store)(nil)
	_ store.Purger      = (*Store)(nil)
	_ store.Snapshotter = (*Store)(nil)
	_ store.Restorer    = (*Store)(nil)
)

// New opens (creating if needed) a local store rooted at dir.
func New(dir string, names store.Names) (*Store, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return &Store{dir: abs, names: names.WithDefaults(), now: time.Now}, nil
}

// Dir returns the absolute data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func readCollection[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrStoreUnavailable, path, err)
	}

	var c collection[T]
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", common.ErrStoreUnavailable, path, err)
	}
	return c.Docs, nil
}

func writeCollection[T any](path string, docs []T, now time.Time) error {
	if docs == nil {
		docs = []T{}
	}
	data, err := json.MarshalIndent(collection[T]{UpdatedAt: now.UTC(), Docs: docs}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", common.ErrStoreUnavailable, path, err)
	}
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) loadKeys() ([]*models.UserKey, error) {
	return readCollection[*models.UserKey](s.path(s.names.UserKeys))
}

func (s *Store) saveKeys(keys []*models.UserKey) error {
	return writeCollection(s.path(s.names.UserKeys), keys, s.now())
}

func (s *Store) loadMemories() ([]*models.Memory, error) {
	return readCollection[*models.Memory](s.path(s.names.Memories))
}

func (s *Store) saveMemories(mems []*models.Memory) error {
	return writeCollection(s.path(s.names.Memories), mems, s.now())
}

func (s *Store) InsertKeyIfAbsent(_ context.Context, k *models.UserKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.loadKeys()
	if err != nil {
		return err
	}
	for _, existing := range keys {
		if existing.UserID == k.UserID {
			return common.ErrAlreadyExists
		}
	}

	c := *k
	return s.saveKeys(append(keys, &c))
}

func (s *Store) FindKey(_ context.Context, userID string) (*models.UserKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.loadKeys()
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.UserID == userID {
			return k, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (s *Store) DeleteKey(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteKeyLocked(userID)
}

func (s *Store) deleteKeyLocked(userID string) error {
	keys, err := s.loadKeys()
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(keys, func(k *models.UserKey) bool { return k.UserID == userID })
	return s.saveKeys(kept)
}

func (s *Store) InsertMemory(_ context.Context, m *models.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mems, err := s.loadMemories()
	if err != nil {
		return err
	}
	c := *m
	return s.saveMemories(append(mems, &c))
}

// sortChronological orders by CreatedAt, breaking ties with the id so that
// records written within the same clock tick keep a stable order.
func sortChronological(mems []*models.Memory, ascending bool) {
	sort.SliceStable(mems, func(i, j int) bool {
		a, b := mems[i], mems[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if ascending {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}

func (s *Store) FindMemories(_ context.Context, q models.MemoryQuery) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mems, err := s.loadMemories()
	if err != nil {
		return nil, err
	}

	var out []*models.Memory
	for _, m := range mems {
		if m.UserID != q.UserID {
			continue
		}
		if q.Type != "" && m.Type != q.Type {
			continue
		}
		if !q.LiveAt.IsZero() && !m.Live(q.LiveAt) {
			continue
		}
		out = append(out, m)
	}

	sortChronological(out, q.Ascending)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) CountMemories(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mems, err := s.loadMemories()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range mems {
		if m.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteMemories(_ context.Context, f models.MemoryFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteMemoriesLocked(f)
}

func (s *Store) deleteMemoriesLocked(f models.MemoryFilter) (int, error) {
	mems, err := s.loadMemories()
	if err != nil {
		return 0, err
	}
	before := len(mems)
	kept := slices.DeleteFunc(mems, f.Matches)
	removed := before - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.saveMemories(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// TrimMemories loads the user's records, drops those that are not live at
// now, keeps the newest keep of the remainder and writes them back oldest
// first.
func (s *Store) TrimMemories(_ context.Context, userID string, now time.Time, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mems, err := s.loadMemories()
	if err != nil {
		return 0, err
	}

	var others, mine []*models.Memory
	for _, m := range mems {
		if m.UserID != userID {
			others = append(others, m)
			continue
		}
		if m.Live(now) {
			mine = append(mine, m)
		}
	}

	sortChronological(mine, false)
	if len(mine) > keep {
		mine = mine[:keep]
	}
	slices.Reverse(mine)

	removed := len(mems) - len(others) - len(mine)
	if removed == 0 {
		return 0, nil
	}
	if err := s.saveMemories(append(others, mine...)); err != nil {
		return 0, err
	}
	return removed, nil
}

// PurgeUser removes the user's memories and key while holding the store lock
// for both files.
func (s *Store) PurgeUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.deleteMemoriesLocked(models.MemoryFilter{UserID: userID}); err != nil {
		return err
	}
	return s.deleteKeyLocked(userID)
}

func (s *Store) Snapshot(_ context.Context) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.loadKeys()
	if err != nil {
		return nil, err
	}
	mems, err := s.loadMemories()
	if err != nil {
		return nil, err
	}
	return &models.Snapshot{UserKeys: keys, Memories: mems}, nil
}

// Restore replaces both collections with the content of snap.
func (s *Store) Restore(_ context.Context, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveKeys(snap.UserKeys); err != nil {
		return err
	}
	return s.saveMemories(snap.Memories)
}

func (s *Store) Close(context.Context) error { return nil }
