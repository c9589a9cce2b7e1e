// Package models defines the persisted vault records and the query/filter
// values exchanged with storage backends.
package models

import (
	"time"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/cryptox"
)

// UserKey is the per-user data encryption key, sealed under the master key.
// There is at most one UserKey per UserID; backends enforce this with a
// unique index or constraint.
type UserKey struct {
	UserID        string    `json:"userId" bson:"userId"`
	EncryptedKey  string    `json:"encryptedKey" bson:"encryptedKey"`
	IV            string    `json:"iv" bson:"iv"`
	AuthTag       string    `json:"authTag" bson:"authTag"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
	LastRotatedAt time.Time `json:"lastRotatedAt" bson:"lastRotatedAt"`
	Version       int       `json:"version" bson:"version"`
}

// NewUserKey builds a fresh key record from a sealed DEK.
func NewUserKey(userID string, sealed cryptox.Payload, now time.Time) *UserKey {
	return &UserKey{
		UserID:        userID,
		EncryptedKey:  sealed.Ciphertext,
		IV:            sealed.IV,
		AuthTag:       sealed.AuthTag,
		CreatedAt:     now,
		LastRotatedAt: now,
		Version:       common.RecordVersion,
	}
}

// Sealed returns the encrypted DEK in codec form.
func (k *UserKey) Sealed() cryptox.Payload {
	return cryptox.Payload{Ciphertext: k.EncryptedKey, IV: k.IV, AuthTag: k.AuthTag}
}
