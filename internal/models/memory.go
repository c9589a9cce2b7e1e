package models

import (
	"time"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/cryptox"
	"github.com/dmitrijs2005/memvault/internal/payload"
)

// MemoryMeta carries non-secret facts about the plaintext.
type MemoryMeta struct {
	Bytes int `json:"bytes" bson:"bytes"`
}

// Memory is one encrypted memory record. Records are immutable once written
// and are only ever deleted.
type Memory struct {
	ID                 string          `json:"_id" bson:"_id"`
	UserID             string          `json:"userId" bson:"userId"`
	Type               string          `json:"type" bson:"type"`
	Payload            cryptox.Payload `json:"payload" bson:"payload"`
	Format             payload.Format  `json:"format" bson:"format"`
	Meta               MemoryMeta      `json:"meta" bson:"meta"`
	CreatedAt          time.Time       `json:"createdAt" bson:"createdAt"`
	IsShortTerm        bool            `json:"isShortTerm" bson:"isShortTerm"`
	ShortTermExpiresAt *time.Time      `json:"shortTermExpiresAt" bson:"shortTermExpiresAt"`
	ExpiresAt          *time.Time      `json:"expiresAt" bson:"expiresAt"`
	Version            int             `json:"version" bson:"version"`
}

// Expired reports whether m is dead at now because its short-term window or
// its absolute expiry has passed.
func (m *Memory) Expired(now time.Time) bool {
	if m.IsShortTerm && m.ShortTermExpiresAt != nil && now.After(*m.ShortTermExpiresAt) {
		return true
	}
	if m.ExpiresAt != nil && now.After(*m.ExpiresAt) {
		return true
	}
	return false
}

// Live reports whether m should still be visible to readers at now. Besides
// expiry it applies the 30-day hard cap on every record.
func (m *Memory) Live(now time.Time) bool {
	if m.Expired(now) {
		return false
	}
	return !m.CreatedAt.Before(now.Add(-common.HardRetention))
}

// MemoryQuery selects a user's memories for reading.
type MemoryQuery struct {
	UserID string
	// Type restricts results to one tag; empty means every type.
	Type string
	// Limit caps the result size; zero or negative means no cap.
	Limit int
	// Ascending returns oldest first instead of the default newest first.
	Ascending bool
	// LiveAt, when set, drops records that are not Live at that instant.
	LiveAt time.Time
}

// MemoryFilter selects a user's memories for deletion.
//
// A filter with no criteria matches every memory of the user. Otherwise a
// memory matches when it satisfies at least one criterion.
type MemoryFilter struct {
	UserID string
	// IDs matches the listed record ids.
	IDs []string
	// ExpiredAt matches records that are Expired at that instant.
	ExpiredAt time.Time
	// CreatedBefore matches records created strictly before that instant.
	CreatedBefore time.Time
}

// All reports whether f carries no criteria besides the user.
func (f MemoryFilter) All() bool {
	return len(f.IDs) == 0 && f.ExpiredAt.IsZero() && f.CreatedBefore.IsZero()
}

// Matches evaluates f against m in memory. Backends without a query engine
// use it directly; the others translate the same rules into their filters.
func (f MemoryFilter) Matches(m *Memory) bool {
	if m.UserID != f.UserID {
		return false
	}
	if f.All() {
		return true
	}
	for _, id := range f.IDs {
		if m.ID == id {
			return true
		}
	}
	if !f.ExpiredAt.IsZero() && expiredBefore(m, f.ExpiredAt) {
		return true
	}
	if !f.CreatedBefore.IsZero() && m.CreatedAt.Before(f.CreatedBefore) {
		return true
	}
	return false
}

// expiredBefore mirrors the sweep predicate used by the query backends:
// expiry timestamps strictly before t.
func expiredBefore(m *Memory, t time.Time) bool {
	if m.IsShortTerm && m.ShortTermExpiresAt != nil && m.ShortTermExpiresAt.Before(t) {
		return true
	}
	return m.ExpiresAt != nil && m.ExpiresAt.Before(t)
}

// Snapshot is a full copy of both vault collections, still encrypted.
type Snapshot struct {
	UserKeys []*UserKey
	Memories []*Memory
}
