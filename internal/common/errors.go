// Package common defines shared constants and sentinel errors used across
// the vault, its storage backends and the transport layer. Callers should use
// errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Store-level errors.
	ErrorNotFound       = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrStoreUnavailable = errors.New("store unavailable")

	// Configuration errors. Both master key errors wrap ErrConfiguration.
	ErrConfiguration          = errors.New("configuration error")
	ErrMasterKeyMissing       = fmt.Errorf("%w: MASTER_KEY_BASE64 is required for vault operations", ErrConfiguration)
	ErrMasterKeyInvalidLength = fmt.Errorf("%w: master key must decode to a 32-byte key", ErrConfiguration)

	// Caller errors.
	ErrPayloadTooLarge = errors.New("memory payload exceeds 64KB limit")
	ErrInvalidUserID   = errors.New("userId is required")

	// Per-record decryption errors.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrMalformedPayload     = errors.New("malformed payload")

	// Per-user key errors.
	ErrKeyDecryptionFailed = errors.New("user key decryption failed")

	// Caller identity errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrInvalidToken)
	ErrUnauthorized = errors.New("unauthorized")
)
