package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementHash_Deterministic(t *testing.T) {
	e := Element{ID: "a", Type: TypeRectangle, X: 10, Version: 3, VersionNonce: 41}

	h1, err := ElementHash(e)
	require.NoError(t, err)
	h2, err := ElementHash(e)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestElementHash_ChangesWithContent(t *testing.T) {
	base := Element{ID: "a", Type: TypeRectangle, X: 10}
	moved := base
	moved.X = 11
	bumped := base
	bumped.Version = 1

	h0, err := ElementHash(base)
	require.NoError(t, err)
	h1, err := ElementHash(moved)
	require.NoError(t, err)
	h2, err := ElementHash(bumped)
	require.NoError(t, err)

	assert.NotEqual(t, h0, h1, "geometry is part of the content hash")
	assert.NotEqual(t, h0, h2, "version stamps are part of the content hash")
}

func TestSceneHash_OrderSensitive(t *testing.T) {
	a := Element{ID: "a", Type: TypeRectangle}
	b := Element{ID: "b", Type: TypeEllipse}

	h1, err := SceneHash([]Element{a, b})
	require.NoError(t, err)
	h2, err := SceneHash([]Element{b, a})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "stacking order is part of scene identity")
}

func TestHashWithDomain_Separation(t *testing.T) {
	data := []byte("same bytes")

	assert.NotEqual(t,
		hashWithDomain(domainElement, data),
		hashWithDomain(domainScene, data),
		"domains must separate hash spaces for identical payloads")
}

func TestFileIDFor_StableAndDistinct(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}

	id1 := FileIDFor(png)
	id2 := FileIDFor(png)
	other := FileIDFor([]byte{0xFF, 0xD8})

	assert.Equal(t, id1, id2, "same bytes must map to the same file id")
	assert.NotEqual(t, id1, other)
	assert.Len(t, string(id1), 64)
}

func TestRandomIDSource_Unique(t *testing.T) {
	src := RandomIDSource{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := src.NewID()
		assert.False(t, seen[id], "ids must not repeat")
		seen[id] = true
	}
}
