package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-wot/wotd/internal/crypto"
)

func TestEncodeThenParseRoundTrips(t *testing.T) {
	keyPair, err := crypto.NewEd25519KeyPair()
	require.NoError(t, err)
	signer := crypto.NewEd25519Signer(keyPair)
	verifier := crypto.NewEd25519Verifier()
	codecUnderTest := NewIdentityFileCodec(verifier)

	file := &IdentityFile{
		ID:                 "some-id",
		Nickname:           "alice",
		PublishesTrustList: true,
		Contexts:           []string{"general"},
		Properties:         map[string]string{"bio": "hello"},
		TrustList: []TrustListEntry{
			{TrusteeID: "bob-id", Value: 100, Comment: "trusted peer"},
		},
	}

	raw, err := codecUnderTest.Encode(file, signer)
	require.NoError(t, err)

	parsed, err := codecUnderTest.Parse(raw, keyPair.PublicKeyBase64())
	require.NoError(t, err)

	assert.Equal(t, file.ID, parsed.ID)
	assert.Equal(t, file.Nickname, parsed.Nickname)
	assert.Equal(t, file.PublishesTrustList, parsed.PublishesTrustList)
	assert.Equal(t, file.Contexts, parsed.Contexts)
	assert.Equal(t, file.Properties, parsed.Properties)
	require.Len(t, parsed.TrustList, 1)
	assert.Equal(t, file.TrustList[0].TrusteeID, parsed.TrustList[0].TrusteeID)
}

func TestParseRejectsSignatureFromOtherKey(t *testing.T) {
	keyPair, err := crypto.NewEd25519KeyPair()
	require.NoError(t, err)
	signer := crypto.NewEd25519Signer(keyPair)
	verifier := crypto.NewEd25519Verifier()
	codecUnderTest := NewIdentityFileCodec(verifier)

	file := &IdentityFile{ID: "some-id", Nickname: "alice"}
	raw, err := codecUnderTest.Encode(file, signer)
	require.NoError(t, err)

	otherKeyPair, err := crypto.NewEd25519KeyPair()
	require.NoError(t, err)

	_, err = codecUnderTest.Parse(raw, otherKeyPair.PublicKeyBase64())
	assert.Error(t, err)
}

func TestParseRejectsOverlongNickname(t *testing.T) {
	verifier := crypto.NewEd25519Verifier()
	codecUnderTest := NewIdentityFileCodec(verifier)

	raw := []byte(`<IdentityFile><ID>x</ID><Nickname>` + strings.Repeat("a", 51) + `</Nickname></IdentityFile>`)
	_, err := codecUnderTest.Parse(raw, "")
	assert.Error(t, err)
}

func TestParseRejectsAtSignInNickname(t *testing.T) {
	verifier := crypto.NewEd25519Verifier()
	codecUnderTest := NewIdentityFileCodec(verifier)

	raw := []byte(`<IdentityFile><ID>x</ID><Nickname>alice@example</Nickname></IdentityFile>`)
	_, err := codecUnderTest.Parse(raw, "")
	assert.Error(t, err)
}

func TestParseRejectsOversizedDocument(t *testing.T) {
	verifier := crypto.NewEd25519Verifier()
	codecUnderTest := NewIdentityFileCodec(verifier)

	huge := make([]byte, MaxIdentityFileSize+1)
	_, err := codecUnderTest.Parse(huge, "")
	assert.Error(t, err)
}
