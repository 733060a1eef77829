package graphstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-wot/wotd/internal/crypto"
)

func TestBuildPriorityDateBreaksTieOverCapacity(t *testing.T) {
	pad, err := newPriorityPad(crypto.NewSecureRandomnessProvider())
	require.NoError(t, err)

	subject := randomIdentityID(t)

	older := BuildPriority(pad, mustDate(t, "2024-01-01"), 100, 1, subject, 1)
	newer := BuildPriority(pad, mustDate(t, "2024-01-02"), 16, 1, subject, 1)

	assert.Less(t, newer, older, "a newer date must sort first regardless of lower capacity")
}

func TestBuildPriorityCapacityBreaksTieOverEdition(t *testing.T) {
	// Scenario 3 from the end-to-end tests: same date, H1 capacity 40
	// edition 5 must sort before H2 capacity 16 edition 99.
	pad, err := newPriorityPad(crypto.NewSecureRandomnessProvider())
	require.NoError(t, err)

	subjectX := randomIdentityID(t)
	date := mustDate(t, "2024-01-02")

	h1 := BuildPriority(pad, date, 40, 1, subjectX, 5)
	h2 := BuildPriority(pad, date, 16, 1, subjectX, 99)

	assert.Less(t, h1, h2, "higher capacity must win the tie even with a smaller edition")
}

func TestBuildPrioritySameInputsAreDeterministic(t *testing.T) {
	pad, err := newPriorityPad(crypto.NewSecureRandomnessProvider())
	require.NoError(t, err)

	subject := randomIdentityID(t)
	date := mustDate(t, "2024-06-01")

	a := BuildPriority(pad, date, 40, 1, subject, 5)
	b := BuildPriority(pad, date, 40, 1, subject, 5)
	assert.Equal(t, a, b)
}

func TestObfuscationIsBijectiveWithinAPad(t *testing.T) {
	pad, err := newPriorityPad(crypto.NewSecureRandomnessProvider())
	require.NoError(t, err)

	a := randomIdentityID(t)
	b := randomIdentityID(t)
	if a == b {
		t.Skip("collision in random generation")
	}
	assert.NotEqual(t, pad.obfuscate(a), pad.obfuscate(b))
	assert.Equal(t, a, pad.obfuscate(pad.obfuscate(a))) // XOR is its own inverse
}

func mustDate(t *testing.T, layout string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", layout)
	require.NoError(t, err)
	return parsed
}
