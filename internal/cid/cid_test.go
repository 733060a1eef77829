package cid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFromBytesRejectsEmpty(t *testing.T) {
	g := NewCIDGenerator()
	_, err := g.GenerateFromBytes(nil)
	assert.Error(t, err)
}

func TestGenerateFromBytesRoundTripsThroughString(t *testing.T) {
	g := NewCIDGenerator()
	c, err := g.GenerateFromBytes([]byte(`{"edition":7}`))
	require.NoError(t, err)
	assert.True(t, g.IsSHA256CID(c))

	parsed, err := ParseCIDString(c.String())
	require.NoError(t, err)
	assert.True(t, g.CompareCIDs(c, parsed))
}

func TestGenerateFromBytesIsDeterministic(t *testing.T) {
	g := NewCIDGenerator()
	c1, err := g.GenerateFromBytes([]byte("same payload"))
	require.NoError(t, err)
	c2, err := g.GenerateFromBytes([]byte("same payload"))
	require.NoError(t, err)
	assert.True(t, c1.Equals(c2))

	c3, err := g.GenerateFromBytes([]byte("different payload"))
	require.NoError(t, err)
	assert.False(t, c1.Equals(c3))
}

func TestExtractHashRecoversOriginalDigest(t *testing.T) {
	g := NewCIDGenerator()
	c, err := g.GenerateFromBytes([]byte("hello"))
	require.NoError(t, err)

	digest, err := g.ExtractHash(c)
	require.NoError(t, err)
	assert.Len(t, digest, 32) // sha-256
}

func TestValidateCIDStringRejectsGarbage(t *testing.T) {
	assert.Error(t, ValidateCIDString("not-a-cid"))
}

func TestBytesToCIDRoundTrips(t *testing.T) {
	g := NewCIDGenerator()
	c, err := g.GenerateFromBytes([]byte("round trip"))
	require.NoError(t, err)

	restored, err := BytesToCID(CIDToBytes(c))
	require.NoError(t, err)
	assert.True(t, c.Equals(restored))
}
