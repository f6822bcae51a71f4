package seal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_SealOpenRoundTrip(t *testing.T) {
	k, err := NewKey()
	require.NoError(t, err)

	plaintext := []byte(`{"elements":[{"id":"a"}]}`)
	sealed, err := k.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := k.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestKey_SealProducesFreshNonce(t *testing.T) {
	k, err := NewKey()
	require.NoError(t, err)

	a, err := k.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := k.Seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "identical plaintext must not produce identical ciphertext")
}

func TestKey_OpenRejectsTampering(t *testing.T) {
	k, err := NewKey()
	require.NoError(t, err)

	sealed, err := k.Seal([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01

	_, err = k.Open(sealed)
	assert.Error(t, err)
}

func TestKey_OpenRejectsWrongKey(t *testing.T) {
	k1, err := NewKey()
	require.NoError(t, err)
	k2, err := NewKey()
	require.NoError(t, err)

	sealed, err := k1.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = k2.Open(sealed)
	assert.Error(t, err)
}

func TestKey_OpenRejectsShortPayload(t *testing.T) {
	k, err := NewKey()
	require.NoError(t, err)

	_, err = k.Open([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParseKey_RoundTrip(t *testing.T) {
	k, err := NewKey()
	require.NoError(t, err)

	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestParseKey_Invalid(t *testing.T) {
	_, err := ParseKey("!!!not-base64!!!")
	assert.Error(t, err)

	_, err = ParseKey("c2hvcnQ")
	assert.Error(t, err, "wrong length must be rejected")
}
