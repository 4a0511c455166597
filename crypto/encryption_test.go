package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	s, err := NewSealer(key)
	require.NoError(t, err)
	assert.False(t, s.Ephemeral)

	sealed, err := s.Seal("shopowner@upi")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "shopowner")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "shopowner@upi", opened)
}

func TestSameKeyStringOpensAcrossSealers(t *testing.T) {
	a, err := NewSealer("a passphrase that is not base64 of 32 bytes")
	require.NoError(t, err)
	b, err := NewSealer("a passphrase that is not base64 of 32 bytes")
	require.NoError(t, err)

	sealed, err := a.Seal("merchant@bank")
	require.NoError(t, err)
	opened, err := b.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "merchant@bank", opened)
}

func TestEmptyValuesPassThrough(t *testing.T) {
	s, err := NewSealer("")
	require.NoError(t, err)
	assert.True(t, s.Ephemeral)

	sealed, err := s.Seal("")
	require.NoError(t, err)
	assert.Equal(t, "", sealed)

	opened, err := s.Open("")
	require.NoError(t, err)
	assert.Equal(t, "", opened)
}

func TestOpenRejectsTampering(t *testing.T) {
	s, err := NewSealer("k")
	require.NoError(t, err)

	_, err = s.Open("AAAA")
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	other, err := NewSealer("different")
	require.NoError(t, err)
	sealed, err := other.Seal("x@upi")
	require.NoError(t, err)
	_, err = s.Open(sealed)
	assert.Error(t, err)
}
