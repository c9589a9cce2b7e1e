// Package postgres implements the vault store on PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/dbx"
	"github.com/dmitrijs2005/memvault/internal/models"
	"github.com/dmitrijs2005/memvault/internal/payload"
	"github.com/dmitrijs2005/memvault/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func quoteIdent(s string) string {
	return pgx.Identifier{s}.Sanitize()
}

type tables struct {
	rawMemories string
	keys        string
	memories    string
}

func newTables(n store.Names) (tables, error) {
	n = n.WithDefaults()
	for _, name := range []string{n.UserKeys, n.Memories} {
		if !identRe.MatchString(name) {
			return tables{}, fmt.Errorf("%w: invalid table name %q", common.ErrConfiguration, name)
		}
	}
	return tables{
		rawMemories: n.Memories,
		keys:        quoteIdent(n.UserKeys),
		memories:    quoteIdent(n.Memories),
	}, nil
}

// Store is the PostgreSQL backend.
type Store struct {
	db *sql.DB
	t  tables
}

var (
	_ store.Store       = (*Store)(nil)
	_ store.Purger      = (*Store)(nil)
	_ store.Snapshotter = (*Store)(nil)
	_ store.Restorer    = (*Store)(nil)
)

// Open connects to dsn, checks the connection and runs migrations.
func Open(ctx context.Context, dsn string, names store.Names) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: db open error: %v", common.ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", common.ErrStoreUnavailable, err)
	}

	s, err := New(db, names)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. It does not run migrations.
func New(db *sql.DB, names store.Names) (*Store, error) {
	t, err := newTables(names)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, t: t}, nil
}

func dbError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", common.ErrStoreUnavailable, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) InsertKeyIfAbsent(ctx context.Context, k *models.UserKey) error {
	query := `INSERT INTO ` + s.t.keys + ` (user_id, encrypted_key, iv, auth_tag, created_at, last_rotated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		k.UserID, k.EncryptedKey, k.IV, k.AuthTag, k.CreatedAt, k.LastRotatedAt, k.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return dbError("insert key", err)
	}
	return nil
}

const keyColumns = `user_id, encrypted_key, iv, auth_tag, created_at, last_rotated_at, version`

func scanKey(row dbx.Scanner) (*models.UserKey, error) {
	k := &models.UserKey{}
	err := row.Scan(&k.UserID, &k.EncryptedKey, &k.IV, &k.AuthTag, &k.CreatedAt, &k.LastRotatedAt, &k.Version)
	return k, err
}

func (s *Store) FindKey(ctx context.Context, userID string) (*models.UserKey, error) {
	query := `SELECT ` + keyColumns + ` FROM ` + s.t.keys + ` WHERE user_id = $1`

	k, err := scanKey(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, dbError("find key", err)
	}
	return k, nil
}

func (s *Store) deleteKey(ctx context.Context, db dbx.DBTX, userID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM `+s.t.keys+` WHERE user_id = $1`, userID); err != nil {
		return dbError("delete key", err)
	}
	return nil
}

func (s *Store) DeleteKey(ctx context.Context, userID string) error {
	return s.deleteKey(ctx, s.db, userID)
}

const memoryColumns = `id, user_id, type, ciphertext, iv, auth_tag, format, meta_bytes, created_at, is_short_term, short_term_expires_at, expires_at, version`

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (s *Store) insertMemory(ctx context.Context, db dbx.DBTX, m *models.Memory) error {
	query := `INSERT INTO ` + s.t.memories + ` (` + memoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := db.ExecContext(ctx, query,
		m.ID, m.UserID, m.Type,
		m.Payload.Ciphertext, m.Payload.IV, m.Payload.AuthTag,
		string(m.Format), m.Meta.Bytes, m.CreatedAt, m.IsShortTerm,
		nullTime(m.ShortTermExpiresAt), nullTime(m.ExpiresAt), m.Version)
	if err != nil {
		return dbError("insert memory", err)
	}
	return nil
}

func (s *Store) InsertMemory(ctx context.Context, m *models.Memory) error {
	return s.insertMemory(ctx, s.db, m)
}

func scanMemory(row dbx.Scanner) (*models.Memory, error) {
	var (
		m          models.Memory
		format     string
		shortUntil sql.NullTime
		expires    sql.NullTime
	)
	err := row.Scan(&m.ID, &m.UserID, &m.Type,
		&m.Payload.Ciphertext, &m.Payload.IV, &m.Payload.AuthTag,
		&format, &m.Meta.Bytes, &m.CreatedAt, &m.IsShortTerm,
		&shortUntil, &expires, &m.Version)
	if err != nil {
		return nil, err
	}
	m.Format = payload.Format(format)
	m.ShortTermExpiresAt = timePtr(shortUntil)
	m.ExpiresAt = timePtr(expires)
	return &m, nil
}

// args accumulates positional parameters for a dynamically built query.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

func (s *Store) findQuery(q models.MemoryQuery) (string, []any) {
	var a args
	var sb strings.Builder

	sb.WriteString(`SELECT ` + memoryColumns + ` FROM ` + s.t.memories + ` WHERE user_id = ` + a.add(q.UserID))
	if q.Type != "" {
		sb.WriteString(` AND type = ` + a.add(q.Type))
	}
	if !q.LiveAt.IsZero() {
		at := a.add(q.LiveAt)
		sb.WriteString(` AND (NOT is_short_term OR short_term_expires_at IS NULL OR short_term_expires_at >= ` + at + `)`)
		sb.WriteString(` AND (expires_at IS NULL OR expires_at >= ` + at + `)`)
		sb.WriteString(` AND created_at >= ` + a.add(q.LiveAt.Add(-common.HardRetention)))
	}

	if q.Ascending {
		sb.WriteString(` ORDER BY created_at ASC, id ASC`)
	} else {
		sb.WriteString(` ORDER BY created_at DESC, id DESC`)
	}
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ` + a.add(q.Limit))
	}
	return sb.String(), a
}

func (s *Store) FindMemories(ctx context.Context, q models.MemoryQuery) ([]*models.Memory, error) {
	query, params := s.findQuery(q)
	return s.queryMemories(ctx, s.db, query, params...)
}

func (s *Store) queryMemories(ctx context.Context, db dbx.DBTX, query string, params ...any) ([]*models.Memory, error) {
	out, err := dbx.QueryAll(ctx, db, scanMemory, query, params...)
	if err != nil {
		return nil, dbError("find memories", err)
	}
	return out, nil
}

func (s *Store) CountMemories(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.t.memories+` WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, dbError("count memories", err)
	}
	return n, nil
}

func (s *Store) deleteQuery(f models.MemoryFilter) (string, []any) {
	var a args
	query := `DELETE FROM ` + s.t.memories + ` WHERE user_id = ` + a.add(f.UserID)
	if f.All() {
		return query, a
	}

	var or []string
	if len(f.IDs) > 0 {
		ph := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			ph[i] = a.add(id)
		}
		or = append(or, `id IN (`+strings.Join(ph, ", ")+`)`)
	}
	if !f.ExpiredAt.IsZero() {
		at := a.add(f.ExpiredAt)
		or = append(or,
			`(is_short_term AND short_term_expires_at < `+at+`)`,
			`expires_at < `+at)
	}
	if !f.CreatedBefore.IsZero() {
		or = append(or, `created_at < `+a.add(f.CreatedBefore))
	}
	return query + ` AND (` + strings.Join(or, ` OR `) + `)`, a
}

func (s *Store) deleteMemories(ctx context.Context, db dbx.DBTX, f models.MemoryFilter) (int, error) {
	query, params := s.deleteQuery(f)
	res, err := db.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, dbError("delete memories", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("delete memories", err)
	}
	return int(n), nil
}

func (s *Store) DeleteMemories(ctx context.Context, f models.MemoryFilter) (int, error) {
	return s.deleteMemories(ctx, s.db, f)
}

// PurgeUser deletes the user's memories and key in one transaction.
func (s *Store) PurgeUser(ctx context.Context, userID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.deleteMemories(ctx, tx, models.MemoryFilter{UserID: userID}); err != nil {
			return err
		}
		return s.deleteKey(ctx, tx, userID)
	})
}

func (s *Store) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}

	var err error
	snap.UserKeys, err = dbx.QueryAll(ctx, s.db, scanKey, `SELECT `+keyColumns+` FROM `+s.t.keys+` ORDER BY user_id`)
	if err != nil {
		return nil, dbError("snapshot keys", err)
	}

	snap.Memories, err = s.queryMemories(ctx, s.db,
		`SELECT `+memoryColumns+` FROM `+s.t.memories+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Restore replaces the content of both tables with snap in one transaction.
func (s *Store) Restore(ctx context.Context, snap *models.Snapshot) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.t.memories); err != nil {
			return dbError("restore memories", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.t.keys); err != nil {
			return dbError("restore keys", err)
		}

		for _, k := range snap.UserKeys {
			_, err := tx.ExecContext(ctx, `INSERT INTO `+s.t.keys+` (`+keyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				k.UserID, k.EncryptedKey, k.IV, k.AuthTag, k.CreatedAt, k.LastRotatedAt, k.Version)
			if err != nil {
				return dbError("restore keys", err)
			}
		}
		for _, m := range snap.Memories {
			if err := s.insertMemory(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

