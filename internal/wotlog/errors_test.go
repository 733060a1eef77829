package wotlog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWotErrorUnwrap(t *testing.T) {
	underlying := errors.New("boom")
	err := NewIdentity(KindUnknownIdentity, "getIdentity", underlying, "abc123")

	require.Error(t, err)
	assert.True(t, errors.Is(err, underlying))
	assert.Contains(t, err.Error(), "abc123")
	assert.Contains(t, err.Error(), "unknown_identity")
}

func TestWotErrorIsMatchesKindOnly(t *testing.T) {
	err := NewTrust(KindTransactionConflict, "setTrust", errors.New("retry"), "truster", "trustee")

	assert.True(t, errors.Is(err, &WotError{Kind: KindTransactionConflict}))
	assert.False(t, errors.Is(err, &WotError{Kind: KindInterrupted}))
}

func TestKindOf(t *testing.T) {
	err := NewError(KindMalformedURL, "parseURI", errors.New("bad uri"))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindMalformedURL, kind)
	assert.True(t, IsKind(err, KindMalformedURL))
	assert.False(t, IsKind(err, KindDuplicateObject))

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}
