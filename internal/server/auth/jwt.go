// Package auth issues and verifies the HS256 tokens that carry a caller's
// user id to the vault RPC surface. The user id is the token subject.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/memvault/internal/common"
)

const issuer = "memvault"

// Tokens mints and verifies access tokens with a shared secret.
type Tokens struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// NewTokens returns a Tokens signing with secret. Issued tokens are valid
// for validity.
func NewTokens(secret string, validity time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), validity: validity, now: time.Now}
}

// Issue returns a signed token whose subject is userID.
func (t *Tokens) Issue(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", common.ErrInvalidUserID
	}

	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.validity)),
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// UserID verifies tokenString and returns its subject. Expired tokens fail
// with common.ErrTokenExpired, every other rejection with
// common.ErrInvalidToken.
func (t *Tokens) UserID(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", common.ErrInvalidToken
	}
	return claims.Subject, nil
}
