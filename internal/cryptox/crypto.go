// Package cryptox implements the authenticated encryption used by the vault:
// AES-256-GCM with a fresh random 96-bit nonce per seal, and a detached
// authentication tag so that nonce, ciphertext and tag can be stored as three
// independent base64 fields.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/memvault/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// NonceSize is the GCM standard nonce length (96 bits).
	NonceSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

// ErrInvalidKeySize is returned when a key is not exactly 32 bytes long.
var ErrInvalidKeySize = errors.New("key must be 32 bytes")

// Sealed is the output of Encrypt: the nonce, the ciphertext without the
// tag, and the detached GCM authentication tag.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
	AuthTag    []byte
}

// Payload is the storage form of Sealed. Every field is standard base64 so
// the triple round-trips exactly through JSON, BSON and SQL text columns.
type Payload struct {
	Ciphertext string `json:"ciphertext" bson:"ciphertext"`
	IV         string `json:"iv" bson:"iv"`
	AuthTag    string `json:"authTag" bson:"authTag"`
}

// DeriveMasterKey stretches a passphrase into a 32-byte key with Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, common.KeySize)
}

// GenerateKey returns a new random 32-byte key.
func GenerateKey() []byte {
	return common.GenerateRandByteArray(common.KeySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != common.KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key with AES-256-GCM.
//
// A new random nonce is drawn for every call; nonces are never derived from
// the plaintext, so encrypting the same value twice yields different output.
func Encrypt(key, plaintext []byte) (*Sealed, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	out := aesgcm.Seal(nil, nonce, plaintext, nil)
	split := len(out) - TagSize

	return &Sealed{
		Nonce:      nonce,
		Ciphertext: out[:split],
		AuthTag:    out[split:],
	}, nil
}

// Decrypt opens s with key.
//
// It returns common.ErrMalformedPayload when the nonce or tag have the wrong
// length and common.ErrAuthenticationFailed when the tag does not verify,
// which covers both tampering and a wrong key.
func Decrypt(key []byte, s *Sealed) ([]byte, error) {
	if s == nil || len(s.Nonce) != NonceSize || len(s.AuthTag) != TagSize {
		return nil, common.ErrMalformedPayload
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.AuthTag...)

	plaintext, err := aesgcm.Open(nil, s.Nonce, buf, nil)
	if err != nil {
		return nil, common.ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Encode converts s into its base64 storage form.
func (s *Sealed) Encode() Payload {
	return Payload{
		Ciphertext: base64.StdEncoding.EncodeToString(s.Ciphertext),
		IV:         base64.StdEncoding.EncodeToString(s.Nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(s.AuthTag),
	}
}

// Decode parses the base64 fields of p. Any decoding failure is reported as
// common.ErrMalformedPayload.
func (p Payload) Decode() (*Sealed, error) {
	ct, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", common.ErrMalformedPayload, err)
	}
	iv, err := base64.StdEncoding.DecodeString(p.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", common.ErrMalformedPayload, err)
	}
	tag, err := base64.StdEncoding.DecodeString(p.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("%w: authTag: %v", common.ErrMalformedPayload, err)
	}
	return &Sealed{Nonce: iv, Ciphertext: ct, AuthTag: tag}, nil
}

// Seal is Encrypt followed by Encode.
func Seal(key, plaintext []byte) (Payload, error) {
	s, err := Encrypt(key, plaintext)
	if err != nil {
		return Payload{}, err
	}
	return s.Encode(), nil
}

// Open is Decode followed by Decrypt.
func Open(key []byte, p Payload) ([]byte, error) {
	s, err := p.Decode()
	if err != nil {
		return nil, err
	}
	return Decrypt(key, s)
}
