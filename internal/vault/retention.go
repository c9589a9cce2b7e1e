package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/logging"
	"github.com/dmitrijs2005/memvault/internal/models"
	"github.com/dmitrijs2005/memvault/internal/store"
)

// Retention caps the number of live memories per user and removes dead
// ones. Short-term and long-term memories share one budget, so a burst of
// short-term writes can evict long-term memories before they age out.
type Retention struct {
	store   store.Store
	limit   int
	log     logging.Logger
	metrics *Metrics
}

func NewRetention(st store.Store, limit int, log logging.Logger, m *Metrics) *Retention {
	if log == nil {
		log = logging.Nop()
	}
	return &Retention{store: st, limit: limit, log: log, metrics: m}
}

// Sweep deletes the user's records that are dead at now: expired short-term
// records, records past their absolute expiry and records older than the
// hard retention cap. Backends implementing store.Trimmer also have the
// budget applied, since their sweep rewrites the whole set anyway.
func (r *Retention) Sweep(ctx context.Context, userID string, now time.Time) (int, error) {
	if t, ok := r.store.(store.Trimmer); ok {
		return r.trim(ctx, t, userID, now)
	}

	n, err := r.store.DeleteMemories(ctx, models.MemoryFilter{
		UserID:        userID,
		ExpiredAt:     now,
		CreatedBefore: now.Add(-common.HardRetention),
	})
	if err != nil {
		return 0, fmt.Errorf("sweep expired memories: %w", err)
	}
	r.metrics.evicted(n)
	return n, nil
}

// Enforce sweeps dead records and then evicts the oldest records until at
// most limit remain. Order is by createdAt, so the outcome does not depend
// on the order in which concurrent writes reached the store.
func (r *Retention) Enforce(ctx context.Context, userID string, now time.Time) (int, error) {
	if t, ok := r.store.(store.Trimmer); ok {
		return r.trim(ctx, t, userID, now)
	}

	swept, err := r.Sweep(ctx, userID, now)
	if err != nil {
		return swept, err
	}

	count, err := r.store.CountMemories(ctx, userID)
	if err != nil {
		return swept, fmt.Errorf("count memories: %w", err)
	}
	if count <= r.limit {
		return swept, nil
	}

	oldest, err := r.store.FindMemories(ctx, models.MemoryQuery{
		UserID:    userID,
		Ascending: true,
		Limit:     count - r.limit,
	})
	if err != nil {
		return swept, fmt.Errorf("find oldest memories: %w", err)
	}

	ids := make([]string, 0, len(oldest))
	for _, m := range oldest {
		ids = append(ids, m.ID)
	}
	n, err := r.store.DeleteMemories(ctx, models.MemoryFilter{UserID: userID, IDs: ids})
	if err != nil {
		return swept, fmt.Errorf("evict oldest memories: %w", err)
	}
	r.metrics.evicted(n)
	r.log.Debug(ctx, "retention evicted oldest memories", "user_id", userID, "evicted", n)
	return swept + n, nil
}

func (r *Retention) trim(ctx context.Context, t store.Trimmer, userID string, now time.Time) (int, error) {
	n, err := t.TrimMemories(ctx, userID, now, r.limit)
	if err != nil {
		return 0, fmt.Errorf("trim memories: %w", err)
	}
	r.metrics.evicted(n)
	return n, nil
}
