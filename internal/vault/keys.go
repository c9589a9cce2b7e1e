package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/cryptox"
	"github.com/dmitrijs2005/memvault/internal/models"
)

// KeyRegistration reports the outcome of RegisterUserKey.
type KeyRegistration struct {
	Created   bool      `json:"created"`
	CreatedAt time.Time `json:"createdAt"`
}

func cloneKey(dek []byte) []byte {
	out := make([]byte, len(dek))
	copy(out, dek)
	return out
}

// openKey decrypts a stored key record with the master key.
func (v *Vault) openKey(master []byte, rec *models.UserKey) ([]byte, error) {
	dek, err := cryptox.Open(master, rec.Sealed())
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %v", common.ErrKeyDecryptionFailed, rec.UserID, err)
	}
	if len(dek) != common.KeySize {
		return nil, fmt.Errorf("%w: user %s: unexpected key length %d", common.ErrKeyDecryptionFailed, rec.UserID, len(dek))
	}
	return dek, nil
}

// createKey generates and seals a new DEK and tries to persist it. When
// another caller won the race it reports created=false and returns the
// winner's record.
func (v *Vault) createKey(ctx context.Context, master []byte, userID string) (*models.UserKey, []byte, bool, error) {
	dek := cryptox.GenerateKey()
	sealed, err := cryptox.Seal(master, dek)
	if err != nil {
		return nil, nil, false, fmt.Errorf("seal user key: %w", err)
	}

	rec := models.NewUserKey(userID, sealed, v.now().UTC())
	err = v.store.InsertKeyIfAbsent(ctx, rec)
	switch {
	case err == nil:
		v.metrics.keyCreated()
		v.log.Info(ctx, "user key created", "user_id", userID)
		return rec, dek, true, nil
	case errors.Is(err, common.ErrAlreadyExists):
		common.WipeByteArray(dek)
		winner, err := v.store.FindKey(ctx, userID)
		if err != nil {
			return nil, nil, false, err
		}
		won, err := v.openKey(master, winner)
		if err != nil {
			return nil, nil, false, err
		}
		return winner, won, false, nil
	default:
		common.WipeByteArray(dek)
		return nil, nil, false, err
	}
}

// GetOrCreateUserKey returns the user's 32-byte DEK, creating and persisting
// one on first use. Concurrent first calls for the same user, in this or
// another process, converge on a single stored key. The returned slice is
// owned by the caller.
func (v *Vault) GetOrCreateUserKey(ctx context.Context, userID string) ([]byte, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	master, err := v.master.Key()
	if err != nil {
		return nil, err
	}
	return v.userKey(ctx, master, userID)
}

func (v *Vault) userKey(ctx context.Context, master []byte, userID string) ([]byte, error) {
	if dek, ok := v.keys.Get(userID); ok {
		v.log.Debug(ctx, "cache hit", "cache", KeyCacheName, "user_id", userID)
		return cloneKey(dek), nil
	}

	gen := v.keyGen.current(userID)

	var dek []byte
	rec, err := v.store.FindKey(ctx, userID)
	switch {
	case err == nil:
		dek, err = v.openKey(master, rec)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, common.ErrorNotFound):
		_, dek, _, err = v.createKey(ctx, master, userID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	v.keyGen.fill(userID, gen, func() { v.keys.Add(userID, cloneKey(dek)) })
	return dek, nil
}

// RegisterUserKey creates the user's key if it does not exist yet. It is
// idempotent: for an existing key it reports Created=false with the stored
// creation time and writes nothing.
func (v *Vault) RegisterUserKey(ctx context.Context, userID string) (KeyRegistration, error) {
	defer v.track("register_user_key")()

	if err := validateUserID(userID); err != nil {
		return KeyRegistration{}, err
	}
	master, err := v.master.Key()
	if err != nil {
		return KeyRegistration{}, err
	}

	gen := v.keyGen.current(userID)
	rec, err := v.store.FindKey(ctx, userID)
	if err == nil {
		return KeyRegistration{Created: false, CreatedAt: rec.CreatedAt}, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return KeyRegistration{}, err
	}

	rec, dek, created, err := v.createKey(ctx, master, userID)
	if err != nil {
		return KeyRegistration{}, err
	}
	if !v.keyGen.fill(userID, gen, func() { v.keys.Add(userID, dek) }) {
		common.WipeByteArray(dek)
	}
	return KeyRegistration{Created: created, CreatedAt: rec.CreatedAt}, nil
}
