// Package store defines the persistence contract of the vault. Two families
// of backends implement it: document stores (MongoDB, PostgreSQL) and a
// local-file store for self-hosted or offline deployments. The vault and its
// retention policy only ever see these interfaces, never a concrete backend.
package store

import (
	"context"
	"time"

	"github.com/dmitrijs2005/memvault/internal/models"
)

// KeyStore persists sealed user keys.
type KeyStore interface {
	// InsertKeyIfAbsent atomically creates k. If a key for k.UserID already
	// exists it returns common.ErrAlreadyExists and leaves the stored key as is.
	InsertKeyIfAbsent(ctx context.Context, k *models.UserKey) error

	// FindKey returns the user's key or common.ErrorNotFound.
	FindKey(ctx context.Context, userID string) (*models.UserKey, error)

	// DeleteKey removes the user's key. Deleting a missing key is not an error.
	DeleteKey(ctx context.Context, userID string) error
}

// MemoryStore persists encrypted memories.
type MemoryStore interface {
	InsertMemory(ctx context.Context, m *models.Memory) error

	// FindMemories returns the user's memories ordered by CreatedAt, newest
	// first unless q.Ascending is set.
	FindMemories(ctx context.Context, q models.MemoryQuery) ([]*models.Memory, error)

	CountMemories(ctx context.Context, userID string) (int, error)

	// DeleteMemories removes every memory matching f and reports how many
	// were removed.
	DeleteMemories(ctx context.Context, f models.MemoryFilter) (int, error)
}

// Store is a complete vault backend.
type Store interface {
	KeyStore
	MemoryStore
	Close(ctx context.Context) error
}

// Trimmer is implemented by backends for which loading a user's records and
// rewriting the newest keep of them is cheaper than a sequence of queries.
// Implementations must drop records that are not live at now and preserve
// chronological order.
type Trimmer interface {
	TrimMemories(ctx context.Context, userID string, now time.Time, keep int) (int, error)
}

// Purger is implemented by backends that can remove a user's memories and
// key in a single atomic step.
type Purger interface {
	PurgeUser(ctx context.Context, userID string) error
}

// Snapshotter is implemented by backends that can dump both collections.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*models.Snapshot, error)
}

// Restorer is implemented by backends that can replace their whole content
// with a snapshot.
type Restorer interface {
	Restore(ctx context.Context, s *models.Snapshot) error
}

// Names holds the configurable collection (or table) names.
type Names struct {
	UserKeys string
	Memories string
}

// DefaultNames returns the collection names used when none are configured.
func DefaultNames() Names {
	return Names{UserKeys: "vaultUserKeys", Memories: "vaultMemories"}
}

// WithDefaults fills empty names from DefaultNames.
func (n Names) WithDefaults() Names {
	d := DefaultNames()
	if n.UserKeys == "" {
		n.UserKeys = d.UserKeys
	}
	if n.Memories == "" {
		n.Memories = d.Memories
	}
	return n
}
