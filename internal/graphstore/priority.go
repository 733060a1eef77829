package graphstore

import (
	"fmt"
	"time"

	"github.com/go-wot/wotd/internal/crypto"
)

// PriorityPad is the process-local random pad XOR-ed into a subject id
// before it enters the priority key, so that an attacker cannot brute
// force a routing key that sorts lexicographically first. It need not be
// cryptographically strong: the anonymizing transport and parse-time
// jitter already hide download order from an outside observer. Exported
// so the Slow Downloader (C6) can build EditionHint.Priority values
// outside this package.
type PriorityPad struct {
	pad [32]byte
}

// NewPriorityPad generates a fresh, process-local pad.
func NewPriorityPad(rng crypto.RandomnessProvider) (*PriorityPad, error) {
	return newPriorityPad(rng)
}

func newPriorityPad(rng crypto.RandomnessProvider) (*PriorityPad, error) {
	raw, err := rng.GenerateRandom(32)
	if err != nil {
		return nil, fmt.Errorf("generate priority pad: %w", err)
	}
	p := &PriorityPad{}
	copy(p.pad[:], raw)
	return p, nil
}

func (p *PriorityPad) obfuscate(id IdentityID) IdentityID {
	var out IdentityID
	for i := range id {
		out[i] = id[i] ^ p.pad[i]
	}
	return out
}

// BuildPriority renders the fixed-width §4.6 key:
// (date DESC, capacity DESC, scoreSign DESC, obfuscated(subjectId) ASC, edition DESC)
//
// Descending fields are encoded by subtracting from their maximum so that
// plain ascending string comparison yields the descending order; the
// ascending obfuscated-id field is left as-is.
func BuildPriority(pad *PriorityPad, date time.Time, sourceCapacity int, sourceScoreSign int8, subjectID IdentityID, edition int64) string {
	// date DESC: invert by using a far-future anchor minus the date's
	// ordinal day count, so that a later date sorts to a smaller number.
	day := dateOrdinal(date)
	invDay := maxDateOrdinal - day

	invCapacity := 100 - sourceCapacity // capacity in [0,100]
	invSign := 1 - int(sourceScoreSign) // sign in {-1,+1} -> {2,0}

	obf := pad.obfuscate(subjectID)

	invEdition := maxEdition - edition

	return fmt.Sprintf("%08d%03d%01d%s%019d", invDay, invCapacity, invSign, obf.String(), invEdition)
}

const maxDateOrdinal = 99999999          // comfortably beyond year 9999
const maxEdition = int64(9000000000000000000) // 19 digits, within int64 range

func dateOrdinal(t time.Time) int {
	u := t.UTC()
	return u.Year()*10000 + int(u.Month())*100 + u.Day()
}

// TruncateToDay rounds an instant down to UTC midnight, matching the
// EditionHint.Date field's "rounded to UTC day" semantics.
func TruncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
