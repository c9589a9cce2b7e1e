package common

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeRandHexString(t *testing.T) {
	s, err := MakeRandHexString(16)
	require.NoError(t, err)
	assert.Len(t, s, 32)

	_, err = hex.DecodeString(s)
	require.NoError(t, err, "must be valid hex")

	empty, err := MakeRandHexString(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGenerateRandByteArray(t *testing.T) {
	a := GenerateRandByteArray(KeySize)
	b := GenerateRandByteArray(KeySize)

	assert.Len(t, a, KeySize)
	assert.Len(t, b, KeySize)
	assert.NotEqual(t, a, b, "two 32-byte random draws must differ")
}

func TestWipeByteArray(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, buf)

	assert.NotPanics(t, func() { WipeByteArray(nil) })
}

func TestMasterKeyErrorsAreConfigurationErrors(t *testing.T) {
	assert.True(t, errors.Is(ErrMasterKeyMissing, ErrConfiguration))
	assert.True(t, errors.Is(ErrMasterKeyInvalidLength, ErrConfiguration))
	assert.False(t, errors.Is(ErrPayloadTooLarge, ErrConfiguration))
}

func TestMemoryBudget(t *testing.T) {
	assert.Equal(t, 30, TotalMemoryLimit)
	assert.Equal(t, 65536, MaxPayloadBytes)
}
