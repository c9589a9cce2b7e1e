// Package mongo implements the vault store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/models"
	"github.com/dmitrijs2005/memvault/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Index names created by EnsureIndexes.
const (
	IndexUserKeyUnique     = "userKeys_userId_unique"
	IndexMemoriesByUser    = "memories_userId_createdAt"
	IndexMemoriesRetention = "memories_createdAt_ttl_30d"
)

// Store is the MongoDB backend.
type Store struct {
	client   *mongo.Client
	keys     *mongo.Collection
	memories *mongo.Collection
	owned    bool
}

var (
	_ store.Store       = (*Store)(nil)
	_ store.Snapshotter = (*Store)(nil)
	_ store.Restorer    = (*Store)(nil)
)

// Connect dials uri, checks the connection and ensures indexes on the
// database dbName. The returned store owns the client and disconnects it on
// Close.
func Connect(ctx context.Context, uri, dbName string, names store.Names) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", common.ErrStoreUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: ping: %v", common.ErrStoreUnavailable, err)
	}

	s := New(client.Database(dbName), names)
	s.client = client
	s.owned = true

	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. The caller keeps ownership of the
// client.
func New(db *mongo.Database, names store.Names) *Store {
	names = names.WithDefaults()
	return &Store{
		client:   db.Client(),
		keys:     db.Collection(names.UserKeys),
		memories: db.Collection(names.Memories),
	}
}

func userKeyIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(IndexUserKeyUnique),
		},
	}
}

func memoryIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName(IndexMemoriesByUser),
		},
		{
			Keys: bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().
				SetName(IndexMemoriesRetention).
				SetExpireAfterSeconds(int32(common.HardRetention / time.Second)),
		},
	}
}

// EnsureIndexes creates the unique key index and the memory indexes. It is
// idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.keys.Indexes().CreateMany(ctx, userKeyIndexes()); err != nil {
		return fmt.Errorf("%w: create indexes for %s: %v", common.ErrStoreUnavailable, s.keys.Name(), err)
	}
	if _, err := s.memories.Indexes().CreateMany(ctx, memoryIndexes()); err != nil {
		return fmt.Errorf("%w: create indexes for %s: %v", common.ErrStoreUnavailable, s.memories.Name(), err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", common.ErrStoreUnavailable, op, err)
}

func (s *Store) InsertKeyIfAbsent(ctx context.Context, k *models.UserKey) error {
	_, err := s.keys.InsertOne(ctx, k)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.ErrAlreadyExists
		}
		return unavailable("insert key", err)
	}
	return nil
}

func (s *Store) FindKey(ctx context.Context, userID string) (*models.UserKey, error) {
	var k models.UserKey
	err := s.keys.FindOne(ctx, bson.M{"userId": userID}).Decode(&k)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, common.ErrorNotFound
		}
		return nil, unavailable("find key", err)
	}
	return &k, nil
}

func (s *Store) DeleteKey(ctx context.Context, userID string) error {
	if _, err := s.keys.DeleteOne(ctx, bson.M{"userId": userID}); err != nil {
		return unavailable("delete key", err)
	}
	return nil
}

func (s *Store) InsertMemory(ctx context.Context, m *models.Memory) error {
	if _, err := s.memories.InsertOne(ctx, m); err != nil {
		return unavailable("insert memory", err)
	}
	return nil
}

// liveFilter matches records that are not expired at t and are younger than
// the hard retention cap. A null or missing field matches {field: nil}.
func liveFilter(t time.Time) bson.A {
	return bson.A{
		bson.M{"$or": bson.A{
			bson.M{"isShortTerm": bson.M{"$ne": true}},
			bson.M{"shortTermExpiresAt": nil},
			bson.M{"shortTermExpiresAt": bson.M{"$gte": t}},
		}},
		bson.M{"$or": bson.A{
			bson.M{"expiresAt": nil},
			bson.M{"expiresAt": bson.M{"$gte": t}},
		}},
		bson.M{"createdAt": bson.M{"$gte": t.Add(-common.HardRetention)}},
	}
}

func findFilter(q models.MemoryQuery) bson.M {
	f := bson.M{"userId": q.UserID}
	if q.Type != "" {
		f["type"] = q.Type
	}
	if !q.LiveAt.IsZero() {
		f["$and"] = liveFilter(q.LiveAt)
	}
	return f
}

func findOptions(q models.MemoryQuery) *options.FindOptionsBuilder {
	dir := -1
	if q.Ascending {
		dir = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: dir}, {Key: "_id", Value: dir}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

func deleteFilter(f models.MemoryFilter) bson.M {
	filter := bson.M{"userId": f.UserID}
	if f.All() {
		return filter
	}

	var or bson.A
	if len(f.IDs) > 0 {
		or = append(or, bson.M{"_id": bson.M{"$in": f.IDs}})
	}
	if !f.ExpiredAt.IsZero() {
		or = append(or,
			bson.M{"isShortTerm": true, "shortTermExpiresAt": bson.M{"$lt": f.ExpiredAt}},
			bson.M{"expiresAt": bson.M{"$lt": f.ExpiredAt}},
		)
	}
	if !f.CreatedBefore.IsZero() {
		or = append(or, bson.M{"createdAt": bson.M{"$lt": f.CreatedBefore}})
	}
	filter["$or"] = or
	return filter
}

func (s *Store) FindMemories(ctx context.Context, q models.MemoryQuery) ([]*models.Memory, error) {
	cur, err := s.memories.Find(ctx, findFilter(q), findOptions(q))
	if err != nil {
		return nil, unavailable("find memories", err)
	}

	var out []*models.Memory
	if err := cur.All(ctx, &out); err != nil {
		return nil, unavailable("decode memories", err)
	}
	return out, nil
}

func (s *Store) CountMemories(ctx context.Context, userID string) (int, error) {
	n, err := s.memories.CountDocuments(ctx, bson.M{"userId": userID})
	if err != nil {
		return 0, unavailable("count memories", err)
	}
	return int(n), nil
}

func (s *Store) DeleteMemories(ctx context.Context, f models.MemoryFilter) (int, error) {
	res, err := s.memories.DeleteMany(ctx, deleteFilter(f))
	if err != nil {
		return 0, unavailable("delete memories", err)
	}
	return int(res.DeletedCount), nil
}

func (s *Store) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}

	cur, err := s.keys.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "userId", Value: 1}}))
	if err != nil {
		return nil, unavailable("snapshot keys", err)
	}
	if err := cur.All(ctx, &snap.UserKeys); err != nil {
		return nil, unavailable("snapshot keys", err)
	}

	cur, err = s.memories.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, unavailable("snapshot memories", err)
	}
	if err := cur.All(ctx, &snap.Memories); err != nil {
		return nil, unavailable("snapshot memories", err)
	}
	return snap, nil
}

// Restore replaces both collections with snap. It is not atomic: a failure
// half way leaves the collections partially restored.
func (s *Store) Restore(ctx context.Context, snap *models.Snapshot) error {
	if _, err := s.keys.DeleteMany(ctx, bson.M{}); err != nil {
		return unavailable("restore keys", err)
	}
	if len(snap.UserKeys) > 0 {
		if _, err := s.keys.InsertMany(ctx, snap.UserKeys); err != nil {
			return unavailable("restore keys", err)
		}
	}

	if _, err := s.memories.DeleteMany(ctx, bson.M{}); err != nil {
		return unavailable("restore memories", err)
	}
	if len(snap.Memories) > 0 {
		if _, err := s.memories.InsertMany(ctx, snap.Memories); err != nil {
			return unavailable("restore memories", err)
		}
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}
