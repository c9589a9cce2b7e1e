package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/cryptox"
	"github.com/dmitrijs2005/memvault/internal/models"
	"github.com/dmitrijs2005/memvault/internal/payload"
	"github.com/dmitrijs2005/memvault/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, store.Names{})
	require.NoError(t, err)
	return s, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var memoryCols = []string{"id", "user_id", "type", "ciphertext", "iv", "auth_tag", "format", "meta_bytes",
	"created_at", "is_short_term", "short_term_expires_at", "expires_at", "version"}

func TestNew_RejectsBadTableNames(t *testing.T) {
	_, err := New(nil, store.Names{UserKeys: `keys"; DROP TABLE x; --`})
	assert.ErrorIs(t, err, common.ErrConfiguration)

	s, err := New(nil, store.Names{UserKeys: "k", Memories: "MyMemories"})
	require.NoError(t, err)
	assert.Equal(t, `"MyMemories"`, s.t.memories)
}

func TestInsertKeyIfAbsent(t *testing.T) {
	ctx := context.Background()
	k := models.NewUserKey("u1", cryptox.Payload{Ciphertext: "c", IV: "i", AuthTag: "t"}, now)

	t.Run("created", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectExec(q(`INSERT INTO "vaultUserKeys"`)).
			WithArgs("u1", "c", "i", "t", now, now, common.RecordVersion).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.InsertKeyIfAbsent(ctx, k))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectExec(q(`INSERT INTO "vaultUserKeys"`)).
			WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

		assert.ErrorIs(t, s.InsertKeyIfAbsent(ctx, k), common.ErrAlreadyExists)
	})

	t.Run("db down", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectExec(q(`INSERT INTO "vaultUserKeys"`)).
			WillReturnError(errors.New("connection refused"))

		err := s.InsertKeyIfAbsent(ctx, k)
		assert.ErrorIs(t, err, common.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, common.ErrAlreadyExists)
	})
}

func TestFindKey(t *testing.T) {
	ctx := context.Background()
	s, mock := newStoreWithMock(t)

	rows := sqlmock.NewRows([]string{"user_id", "encrypted_key", "iv", "auth_tag", "created_at", "last_rotated_at", "version"}).
		AddRow("u1", "c", "i", "t", now, now, int64(1))
	mock.ExpectQuery(q(`FROM "vaultUserKeys" WHERE user_id = $1`)).WithArgs("u1").WillReturnRows(rows)

	k, err := s.FindKey(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c", k.EncryptedKey)
	assert.Equal(t, 1, k.Version)

	mock.ExpectQuery(q(`FROM "vaultUserKeys"`)).WithArgs("u2").WillReturnError(sql.ErrNoRows)
	_, err = s.FindKey(ctx, "u2")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestInsertMemory_NullableTimes(t *testing.T) {
	ctx := context.Background()
	s, mock := newStoreWithMock(t)

	exp := now.Add(common.ShortTermTTL)
	m := &models.Memory{
		ID: "m1", UserID: "u1", Type: "conversation",
		Payload:   cryptox.Payload{Ciphertext: "c", IV: "i", AuthTag: "t"},
		Format:    payload.FormatJSON,
		Meta:      models.MemoryMeta{Bytes: 7},
		CreatedAt: now, IsShortTerm: true, ShortTermExpiresAt: &exp,
		Version: 1,
	}

	mock.ExpectExec(q(`INSERT INTO "vaultMemories"`)).
		WithArgs("m1", "u1", "conversation", "c", "i", "t", "json", 7, now, true, exp, nil, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.InsertMemory(ctx, m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindQuery(t *testing.T) {
	s, _ := newStoreWithMock(t)

	query, params := s.findQuery(models.MemoryQuery{UserID: "u1"})
	assert.Contains(t, query, `WHERE user_id = $1 ORDER BY created_at DESC, id DESC`)
	assert.Equal(t, []any{"u1"}, params)

	query, params = s.findQuery(models.MemoryQuery{UserID: "u1", Type: "note", LiveAt: now, Limit: 30, Ascending: true})
	assert.Contains(t, query, `AND type = $2`)
	assert.Contains(t, query, `short_term_expires_at >= $3`)
	assert.Contains(t, query, `expires_at >= $3`)
	assert.Contains(t, query, `created_at >= $4`)
	assert.Contains(t, query, `ORDER BY created_at ASC, id ASC LIMIT $5`)
	assert.Equal(t, []any{"u1", "note", now, now.Add(-common.HardRetention), 30}, params)
}

func TestFindMemories_Scans(t *testing.T) {
	ctx := context.Background()
	s, mock := newStoreWithMock(t)

	exp := now.Add(time.Hour)
	rows := sqlmock.NewRows(memoryCols).
		AddRow("m2", "u1", "conversation", "c2", "i2", "t2", "text", int64(3), now, false, nil, exp, int64(1)).
		AddRow("m1", "u1", "conversation", "c1", "i1", "t1", "buffer", int64(2), now.Add(-time.Minute), true, exp, nil, int64(1))
	mock.ExpectQuery(q(`FROM "vaultMemories" WHERE user_id = $1`)).WithArgs("u1", 2).WillReturnRows(rows)

	got, err := s.FindMemories(ctx, models.MemoryQuery{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, payload.FormatText, got[0].Format)
	assert.Nil(t, got[0].ShortTermExpiresAt)
	require.NotNil(t, got[0].ExpiresAt)
	assert.True(t, got[0].ExpiresAt.Equal(exp))

	assert.True(t, got[1].IsShortTerm)
	require.NotNil(t, got[1].ShortTermExpiresAt)
	assert.Nil(t, got[1].ExpiresAt)
}

func TestDeleteQuery(t *testing.T) {
	s, _ := newStoreWithMock(t)

	query, params := s.deleteQuery(models.MemoryFilter{UserID: "u1"})
	assert.Equal(t, `DELETE FROM "vaultMemories" WHERE user_id = $1`, query)
	assert.Equal(t, []any{"u1"}, params)

	query, params = s.deleteQuery(models.MemoryFilter{
		UserID:        "u1",
		IDs:           []string{"a", "b"},
		ExpiredAt:     now,
		CreatedBefore: now.Add(-common.HardRetention),
	})
	assert.Equal(t, `DELETE FROM "vaultMemories" WHERE user_id = $1 AND (id IN ($2, $3) OR (is_short_term AND short_term_expires_at < $4) OR expires_at < $4 OR created_at < $5)`, query)
	assert.Len(t, params, 5)
}

func TestCountAndDeleteMemories(t *testing.T) {
	ctx := context.Background()
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(q(`SELECT COUNT(*) FROM "vaultMemories" WHERE user_id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(31)))
	n, err := s.CountMemories(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 31, n)

	mock.ExpectExec(q(`DELETE FROM "vaultMemories" WHERE user_id = $1 AND (id IN ($2))`)).
		WithArgs("u1", "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	removed, err := s.DeleteMemories(ctx, models.MemoryFilter{UserID: "u1", IDs: []string{"m1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestPurgeUser(t *testing.T) {
	ctx := context.Background()

	t.Run("commits", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(`DELETE FROM "vaultMemories" WHERE user_id = $1`)).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectExec(q(`DELETE FROM "vaultUserKeys" WHERE user_id = $1`)).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.PurgeUser(ctx, "u1"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(`DELETE FROM "vaultMemories"`)).WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectExec(q(`DELETE FROM "vaultUserKeys"`)).WillReturnError(errors.New("lock timeout"))
		mock.ExpectRollback()

		err := s.PurgeUser(ctx, "u1")
		assert.ErrorIs(t, err, common.ErrStoreUnavailable)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(q(`FROM "vaultUserKeys" ORDER BY user_id`)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "encrypted_key", "iv", "auth_tag", "created_at", "last_rotated_at", "version"}).
			AddRow("u1", "c", "i", "t", now, now, int64(1)))
	mock.ExpectQuery(q(`FROM "vaultMemories" ORDER BY created_at ASC, id ASC`)).
		WillReturnRows(sqlmock.NewRows(memoryCols).
			AddRow("m1", "u1", "conversation", "c", "i", "t", "json", int64(2), now, false, nil, nil, int64(1)))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.UserKeys, 1)
	assert.Len(t, snap.Memories, 1)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	s, _ := newStoreWithMock(t)

	orig := runMigrations
	t.Cleanup(func() { runMigrations = orig })

	var got schema
	runMigrations = func(_ context.Context, _ *sql.DB, sc schema) error {
		got = sc
		return nil
	}
	require.NoError(t, s.Migrate(ctx))
	assert.Equal(t, `"vaultUserKeys"`, got.keys)
	assert.Equal(t, `"vaultMemories_user_created"`, got.byUserIndex)
	assert.Equal(t, "vaultMemories_migrations", got.versionTable)

	runMigrations = func(context.Context, *sql.DB, schema) error { return errors.New("boom") }
	assert.ErrorIs(t, s.Migrate(ctx), common.ErrStoreUnavailable)
}

func TestSchemaMigrations(t *testing.T) {
	tb, err := newTables(store.Names{})
	require.NoError(t, err)

	ms := newSchema(tb).migrations()
	require.Len(t, ms, 1)
	assert.Equal(t, int64(1), ms[0].Version)
}
