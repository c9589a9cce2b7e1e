package vault

import (
	"encoding/base64"
	"os"
	"strings"
	"sync"

	"github.com/dmitrijs2005/memvault/internal/common"
)

// MasterKeyEnv is the environment variable read by MasterKeyFromEnv.
const MasterKeyEnv = "MASTER_KEY_BASE64"

// MasterKey lazily loads and validates the process master key. Processes
// that never touch the vault never fail on a missing key. Once a valid key
// has been loaded it is kept for the life of the provider; invalid input is
// not cached so a corrected configuration is picked up on the next call.
type MasterKey struct {
	source func() string

	mu  sync.Mutex
	key []byte
}

// NewMasterKey returns a provider reading the base64 key from source.
func NewMasterKey(source func() string) *MasterKey {
	return &MasterKey{source: source}
}

// MasterKeyFromString returns a provider for a fixed base64 value.
func MasterKeyFromString(b64 string) *MasterKey {
	return NewMasterKey(func() string { return b64 })
}

// MasterKeyFromEnv returns a provider reading MASTER_KEY_BASE64.
func MasterKeyFromEnv() *MasterKey {
	return NewMasterKey(func() string { return os.Getenv(MasterKeyEnv) })
}

// Key returns a copy of the 32-byte master key. It fails with
// common.ErrMasterKeyMissing or common.ErrMasterKeyInvalidLength, both of
// which match common.ErrConfiguration.
func (m *MasterKey) Key() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key != nil {
		return cloneKey(m.key), nil
	}

	raw := ""
	if m.source != nil {
		raw = strings.TrimSpace(m.source())
	}
	if raw == "" {
		return nil, common.ErrMasterKeyMissing
	}

	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(key) != common.KeySize {
		return nil, common.ErrMasterKeyInvalidLength
	}

	m.key = key
	return cloneKey(key), nil
}

// Reset wipes and forgets the loaded key. Copies already returned by Key
// are not affected.
func (m *MasterKey) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key != nil {
		common.WipeByteArray(m.key)
		m.key = nil
	}
}
