package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/cryptox"
	"github.com/dmitrijs2005/memvault/internal/models"
	"github.com/dmitrijs2005/memvault/internal/store"
	"github.com/dmitrijs2005/memvault/internal/store/local"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testMasterKey() *MasterKey {
	return MasterKeyFromString(base64.StdEncoding.EncodeToString(cryptox.GenerateKey()))
}

// plainStore hides the optional interfaces of the wrapped store so the
// query-based retention and purge paths are exercised.
type plainStore struct {
	store.Store
	noSweep bool
	inserts atomic.Int32
}

func (p *plainStore) InsertMemory(ctx context.Context, m *models.Memory) error {
	p.inserts.Add(1)
	return p.Store.InsertMemory(ctx, m)
}

func (p *plainStore) InsertKeyIfAbsent(ctx context.Context, k *models.UserKey) error {
	p.inserts.Add(1)
	return p.Store.InsertKeyIfAbsent(ctx, k)
}

func (p *plainStore) DeleteMemories(ctx context.Context, f models.MemoryFilter) (int, error) {
	if p.noSweep && !f.ExpiredAt.IsZero() {
		return 0, nil
	}
	return p.Store.DeleteMemories(ctx, f)
}

func newLocal(t *testing.T) *local.Store {
	t.Helper()
	st, err := local.New(t.TempDir(), store.Names{})
	require.NoError(t, err)
	return st
}

type fixture struct {
	vault *Vault
	store store.Store
	clock *fakeClock
}

func newFixture(t *testing.T, st store.Store, opts Options) *fixture {
	t.Helper()
	clock := newClock()
	opts.Clock = clock.Now
	return &fixture{vault: New(st, testMasterKey(), opts), store: st, clock: clock}
}

// backends runs fn against the local store directly (Trimmer and Purger
// paths) and through plainStore (query paths).
func backends(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Run("local", func(t *testing.T) {
		fn(t, newFixture(t, newLocal(t), Options{}))
	})
	t.Run("query", func(t *testing.T) {
		fn(t, newFixture(t, &plainStore{Store: newLocal(t)}, Options{}))
	})
}

func TestScenario_ConversationRoundTripAndEviction(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		firstID, err := f.vault.EncryptMemory(ctx, "u1", map[string]any{
			"type":           "conversation",
			"userMessage":    "hi",
			"jarvisResponse": "hello",
		}, EncryptOptions{})
		require.NoError(t, err)

		got, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		data, ok := got[0].Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "hi", data["userMessage"])
		assert.Equal(t, firstID, got[0].ID)
		assert.Equal(t, common.DefaultMemoryType, got[0].Type)

		for i := 0; i < 35; i++ {
			f.clock.Advance(time.Second)
			_, err := f.vault.EncryptMemory(ctx, "u1", fmt.Sprintf("memory %d", i), EncryptOptions{})
			require.NoError(t, err)
		}

		got, err = f.vault.DecryptMemories(ctx, "u1", DecryptOptions{Limit: 100})
		require.NoError(t, err)
		require.Len(t, got, common.TotalMemoryLimit)
		assert.Equal(t, "memory 34", got[0].Data)
		assert.Equal(t, "memory 5", got[29].Data)
		for _, e := range got {
			assert.NotEqual(t, firstID, e.ID)
		}

		n, err := f.store.CountMemories(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, common.TotalMemoryLimit, n)
	})
}

func TestRetention_OrdersByCreatedAtNotArrival(t *testing.T) {
	ctx := context.Background()
	st := newLocal(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert 32 records in reverse chronological order.
	for i := 31; i >= 0; i-- {
		require.NoError(t, st.InsertMemory(ctx, &models.Memory{
			ID:        fmt.Sprintf("m-%02d", i),
			UserID:    "u1",
			Type:      common.DefaultMemoryType,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	r := NewRetention(&plainStore{Store: st}, common.TotalMemoryLimit, nil, nil)
	n, err := r.Enforce(ctx, "u1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := st.FindMemories(ctx, models.MemoryQuery{UserID: "u1", Ascending: true})
	require.NoError(t, err)
	require.Len(t, left, 30)
	assert.Equal(t, "m-02", left[0].ID)
}

func TestDecrypt_TypeFilterAndLimit(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			f.clock.Advance(time.Second)
			_, err := f.vault.EncryptMemory(ctx, "u1", []byte{byte(i)}, EncryptOptions{Type: "note"})
			require.NoError(t, err)
		}
		_, err := f.vault.EncryptMemory(ctx, "u1", "chat", EncryptOptions{})
		require.NoError(t, err)

		notes, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{Type: "note", Limit: 2})
		require.NoError(t, err)
		require.Len(t, notes, 2)
		assert.Equal(t, []byte{2}, notes[0].Data)
		assert.Equal(t, []byte{1}, notes[1].Data)

		chats, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
		require.NoError(t, err)
		require.Len(t, chats, 1)
	})
}

func TestShortTermExpiry_FilteredOnRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &plainStore{Store: newLocal(t), noSweep: true}, Options{})

	_, err := f.vault.EncryptMemory(ctx, "u1", "fleeting", EncryptOptions{IsShortTerm: true})
	require.NoError(t, err)
	_, err = f.vault.EncryptMemory(ctx, "u1", "lasting", EncryptOptions{})
	require.NoError(t, err)

	f.clock.Advance(4 * time.Hour)
	got, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	f.clock.Advance(time.Hour + time.Second)
	got, err = f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "lasting", got[0].Data)

	n, err := f.store.CountMemories(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "record is hidden even though no sweep removed it")
}

func TestShortTermExpiry_SweptOnRead(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		_, err := f.vault.EncryptMemory(ctx, "u1", "fleeting", EncryptOptions{IsShortTerm: true})
		require.NoError(t, err)

		f.clock.Advance(common.ShortTermTTL + time.Second)
		got, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
		require.NoError(t, err)
		assert.Empty(t, got)

		n, err := f.store.CountMemories(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestAbsoluteExpiry(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		exp := f.clock.Now().Add(time.Minute)
		_, err := f.vault.EncryptMemory(ctx, "u1", "soon gone", EncryptOptions{ExpiresAt: &exp})
		require.NoError(t, err)

		got, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
		require.NoError(t, err)
		require.Len(t, got, 1)

		f.clock.Advance(2 * time.Minute)
		got, err = f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestHardRetentionCap(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		_, err := f.vault.EncryptMemory(ctx, "u1", "old", EncryptOptions{})
		require.NoError(t, err)

		f.clock.Advance(common.HardRetention + time.Second)
		got, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestSizeLimit(t *testing.T) {
	ctx := context.Background()
	ps := &plainStore{Store: newLocal(t)}
	f := newFixture(t, ps, Options{})

	_, err := f.vault.EncryptMemory(ctx, "u1", make([]byte, common.MaxPayloadBytes+1), EncryptOptions{})
	assert.ErrorIs(t, err, common.ErrPayloadTooLarge)
	assert.Zero(t, ps.inserts.Load(), "rejected write must not touch the store")

	_, err = f.vault.EncryptMemory(ctx, "u1", strings.Repeat("x", common.MaxPayloadBytes), EncryptOptions{})
	require.NoError(t, err)

	got, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Data, common.MaxPayloadBytes)
}

func TestPurge_RemovesEverythingAndRotatesKey(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		before, err := f.vault.GetOrCreateUserKey(ctx, "u1")
		require.NoError(t, err)
		_, err = f.vault.EncryptMemory(ctx, "u1", "secret", EncryptOptions{})
		require.NoError(t, err)

		require.NoError(t, f.vault.PurgeUserMemories(ctx, "u1"))

		got, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = f.store.FindKey(ctx, "u1")
		assert.ErrorIs(t, err, common.ErrorNotFound)

		after, err := f.vault.GetOrCreateUserKey(ctx, "u1")
		require.NoError(t, err)
		assert.NotEqual(t, before, after)
	})
}

func TestGetOrCreateUserKey_ConcurrentFirstUse(t *testing.T) {
	ctx := context.Background()
	st := newLocal(t)
	master := testMasterKey()

	const n = 16
	keys := make([][]byte, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		// Separate vaults stand in for separate processes: no shared cache.
		v := New(st, master, Options{})
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			keys[i], errs[i] = v.GetOrCreateUserKey(ctx, "fresh-user")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, keys[i], common.KeySize)
		assert.Equal(t, keys[0], keys[i])
	}

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.UserKeys, 1)
}

func TestGetOrCreateUserKey_CacheAvoidsStore(t *testing.T) {
	ctx := context.Background()
	ps := &plainStore{Store: newLocal(t)}
	f := newFixture(t, ps, Options{})

	k1, err := f.vault.GetOrCreateUserKey(ctx, "u1")
	require.NoError(t, err)

	// The store's copy is gone but the cached key is still served.
	require.NoError(t, ps.Store.DeleteKey(ctx, "u1"))
	k2, err := f.vault.GetOrCreateUserKey(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Equal(t, int32(1), ps.inserts.Load())
}

func TestRegisterUserKey_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newLocal(t), Options{})

	r1, err := f.vault.RegisterUserKey(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, r1.Created)
	assert.True(t, r1.CreatedAt.Equal(f.clock.Now()))

	f.clock.Advance(time.Hour)
	r2, err := f.vault.RegisterUserKey(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, r2.Created)
	assert.True(t, r2.CreatedAt.Equal(r1.CreatedAt))
}

func TestKeyIsolation_ForeignRecordSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newLocal(t), Options{})

	_, err := f.vault.EncryptMemory(ctx, "alice", "for alice only", EncryptOptions{})
	require.NoError(t, err)
	_, err = f.vault.EncryptMemory(ctx, "bob", "bob's", EncryptOptions{})
	require.NoError(t, err)

	recs, err := f.store.FindMemories(ctx, models.MemoryQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	stolen := *recs[0]
	stolen.ID = "stolen"
	stolen.UserID = "bob"
	stolen.CreatedAt = stolen.CreatedAt.Add(time.Second)
	require.NoError(t, f.store.InsertMemory(ctx, &stolen))

	got, err := f.vault.DecryptMemories(ctx, "bob", DecryptOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1, "record sealed under another user's key is skipped")
	assert.Equal(t, "bob's", got[0].Data)
}

func TestCorruptUserKey(t *testing.T) {
	ctx := context.Background()
	st := newLocal(t)
	f := newFixture(t, st, Options{})

	bad := models.NewUserKey("u1", cryptox.Payload{Ciphertext: "AAAA", IV: "AAAAAAAAAAAAAAAA", AuthTag: "AAAAAAAAAAAAAAAAAAAAAA=="}, f.clock.Now())
	require.NoError(t, st.InsertKeyIfAbsent(ctx, bad))

	_, err := f.vault.GetOrCreateUserKey(ctx, "u1")
	assert.ErrorIs(t, err, common.ErrKeyDecryptionFailed)

	_, err = f.vault.EncryptMemory(ctx, "u1", "x", EncryptOptions{})
	assert.ErrorIs(t, err, common.ErrKeyDecryptionFailed)
}

func TestMasterKeyErrors(t *testing.T) {
	ctx := context.Background()
	st := newLocal(t)

	missing := New(st, MasterKeyFromString(""), Options{})
	_, err := missing.EncryptMemory(ctx, "u1", "x", EncryptOptions{})
	assert.ErrorIs(t, err, common.ErrMasterKeyMissing)
	assert.ErrorIs(t, err, common.ErrConfiguration)

	short := New(st, MasterKeyFromString(base64.StdEncoding.EncodeToString([]byte("short"))), Options{})
	_, err = short.DecryptMemories(ctx, "u1", DecryptOptions{})
	assert.ErrorIs(t, err, common.ErrMasterKeyInvalidLength)
	assert.ErrorIs(t, err, common.ErrConfiguration)

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.UserKeys)
	assert.Empty(t, snap.Memories)
}

func TestInvalidUserID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newLocal(t), Options{})

	_, err := f.vault.EncryptMemory(ctx, " ", "x", EncryptOptions{})
	assert.ErrorIs(t, err, common.ErrInvalidUserID)
	_, err = f.vault.DecryptMemories(ctx, "", DecryptOptions{})
	assert.ErrorIs(t, err, common.ErrInvalidUserID)
	_, err = f.vault.RegisterUserKey(ctx, "")
	assert.ErrorIs(t, err, common.ErrInvalidUserID)
	assert.ErrorIs(t, f.vault.PurgeUserMemories(ctx, ""), common.ErrInvalidUserID)
}

func TestListCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newLocal(t), Options{ListCache: true})

	_, err := f.vault.EncryptMemory(ctx, "u1", map[string]any{"k": "v"}, EncryptOptions{})
	require.NoError(t, err)

	first, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	first[0].Data.(map[string]any)["k"] = "mutated"

	again, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "v", again[0].Data.(map[string]any)["k"], "callers cannot mutate cached entries")

	f.clock.Advance(time.Second)
	_, err = f.vault.EncryptMemory(ctx, "u1", "second", EncryptOptions{})
	require.NoError(t, err)

	after, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)
	assert.Len(t, after, 2, "write invalidates the cached list")

	require.NoError(t, f.vault.PurgeUserMemories(ctx, "u1"))
	after, err = f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)
	assert.Empty(t, after, "purge invalidates the cached list")
}

func TestListCache_NotServedPastExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newLocal(t), Options{ListCache: true})

	exp := f.clock.Now().Add(30 * time.Second)
	_, err := f.vault.EncryptMemory(ctx, "u1", "brief", EncryptOptions{ExpiresAt: &exp})
	require.NoError(t, err)

	got, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	f.clock.Advance(time.Minute)
	got, err = f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	f := newFixture(t, newLocal(t), Options{Metrics: m})

	_, err := f.vault.EncryptMemory(ctx, "u1", "a", EncryptOptions{})
	require.NoError(t, err)
	_, err = f.vault.EncryptMemory(ctx, "u1", make([]byte, common.MaxPayloadBytes+1), EncryptOptions{})
	require.Error(t, err)
	_, err = f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.memoriesWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payloadRejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keysCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.memoriesReturned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues(KeyCacheName, "hit")))
}

// gateStore pauses the first FindKey or FindMemories call after it has read
// from the wrapped store, until release is closed.
type gateStore struct {
	store.Store
	holdKey      atomic.Bool
	holdMemories atomic.Bool
	reached      chan struct{}
	release      chan struct{}
}

func newGateStore(st store.Store) *gateStore {
	return &gateStore{Store: st, reached: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateStore) hold() {
	close(g.reached)
	<-g.release
}

func (g *gateStore) FindKey(ctx context.Context, userID string) (*models.UserKey, error) {
	rec, err := g.Store.FindKey(ctx, userID)
	if g.holdKey.CompareAndSwap(true, false) {
		g.hold()
	}
	return rec, err
}

func (g *gateStore) FindMemories(ctx context.Context, q models.MemoryQuery) ([]*models.Memory, error) {
	recs, err := g.Store.FindMemories(ctx, q)
	if g.holdMemories.CompareAndSwap(true, false) {
		g.hold()
	}
	return recs, err
}

func TestPurge_DuringKeyLookupDoesNotCacheOldKey(t *testing.T) {
	ctx := context.Background()
	backing := newLocal(t)
	master := testMasterKey()

	old, err := New(backing, master, Options{}).GetOrCreateUserKey(ctx, "u1")
	require.NoError(t, err)

	gate := newGateStore(backing)
	v := New(gate, master, Options{})
	gate.holdKey.Store(true)

	type result struct {
		key []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		k, err := v.GetOrCreateUserKey(ctx, "u1")
		done <- result{k, err}
	}()

	<-gate.reached
	require.NoError(t, v.PurgeUserMemories(ctx, "u1"))
	close(gate.release)

	inFlight := <-done
	require.NoError(t, inFlight.err)
	assert.Equal(t, old, inFlight.key)

	fresh, err := v.GetOrCreateUserKey(ctx, "u1")
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh, "purged key must not be served after purge")

	stored, err := New(backing, master, Options{}).GetOrCreateUserKey(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, fresh, stored, "served key matches the persisted one")
}

func TestListCache_ReadOverlappingWriteIsNotCached(t *testing.T) {
	ctx := context.Background()
	gate := newGateStore(newLocal(t))
	f := newFixture(t, gate, Options{ListCache: true})

	_, err := f.vault.EncryptMemory(ctx, "u1", "first", EncryptOptions{})
	require.NoError(t, err)

	gate.holdMemories.Store(true)
	type result struct {
		entries []Entry
		err     error
	}
	done := make(chan result, 1)
	go func() {
		e, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
		done <- result{e, err}
	}()

	<-gate.reached
	f.clock.Advance(time.Second)
	_, err = f.vault.EncryptMemory(ctx, "u1", "second", EncryptOptions{})
	require.NoError(t, err)
	close(gate.release)

	stale := <-done
	require.NoError(t, stale.err)
	assert.Len(t, stale.entries, 1)

	got, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2, "list read before the write must not be cached")
	assert.Equal(t, "second", got[0].Data)
}

func TestDecrypt_SkipsNullPayload(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		_, err := f.vault.EncryptMemory(ctx, "u1", nil, EncryptOptions{})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
		_, err = f.vault.EncryptMemory(ctx, "u1", "kept", EncryptOptions{})
		require.NoError(t, err)

		got, err := f.vault.DecryptMemories(ctx, "u1", DecryptOptions{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "kept", got[0].Data)
	})
}
