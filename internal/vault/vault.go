// Package vault implements the encrypted memory vault: per-user data keys
// sealed under a master key, AES-256-GCM encrypted memory records, a bounded
// per-user retention budget and read-side caching.
//
// The vault is backend-agnostic; it talks to storage only through the
// interfaces of package store.
package vault

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/memvault/internal/cache"
	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/logging"
	"github.com/dmitrijs2005/memvault/internal/store"
)

// Cache names, also used as metric labels.
const (
	KeyCacheName  = "keys"
	ListCacheName = "memories"
)

// Options tune a Vault. The zero value is usable.
type Options struct {
	// CacheTTL bounds the lifetime of cache entries; it is clamped to
	// [1m, 5m] and defaults to 5m.
	CacheTTL time.Duration
	// CacheSize bounds each cache by entry count; defaults to 500.
	CacheSize int
	// ListCache enables the decrypted memory-list cache on the read path.
	// Every write and purge invalidates the user's entry.
	ListCache bool
	// Limit is the per-user retention budget; defaults to 30.
	Limit int

	Clock   func() time.Time
	Logger  logging.Logger
	Metrics *Metrics
}

// Vault is the facade used by request handlers. It is safe for concurrent
// use by many goroutines for the same or different users.
type Vault struct {
	store     store.Store
	master    *MasterKey
	keys      *cache.Cache[[]byte]
	lists     *cache.Cache[cachedList]
	keyGen    *generations
	listGen   *generations
	listCache bool
	retention *Retention
	now       func() time.Time
	log       logging.Logger
	metrics   *Metrics
}

// New builds a Vault over st.
func New(st store.Store, master *MasterKey, opts Options) *Vault {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Limit <= 0 {
		opts.Limit = common.TotalMemoryLimit
	}
	log := opts.Logger.With("component", "vault")

	keys := cache.New[[]byte](KeyCacheName, opts.CacheSize, opts.CacheTTL, nil).WithStats(opts.Metrics)
	lists := cache.New[cachedList](ListCacheName, opts.CacheSize, opts.CacheTTL, nil).WithStats(opts.Metrics)

	return &Vault{
		store:     st,
		master:    master,
		keys:      keys,
		lists:     lists,
		keyGen:    newGenerations(),
		listGen:   newGenerations(),
		listCache: opts.ListCache,
		retention: NewRetention(st, opts.Limit, log, opts.Metrics),
		now:       opts.Clock,
		log:       log,
		metrics:   opts.Metrics,
	}
}

// Store returns the backing store.
func (v *Vault) Store() store.Store { return v.store }

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return common.ErrInvalidUserID
	}
	return nil
}

func (v *Vault) track(op string) func() {
	start := time.Now()
	return func() { v.metrics.observe(op, time.Since(start).Seconds()) }
}

// Close releases the backing store.
func (v *Vault) Close(ctx context.Context) error {
	v.keys.Purge()
	v.lists.Purge()
	return v.store.Close(ctx)
}
