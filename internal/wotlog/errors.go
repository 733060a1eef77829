package wotlog

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy the engine reports across its
// external interfaces.
type Kind int

const (
	KindInvalidParameter Kind = iota
	KindUnknownIdentity
	KindUnknownTrust
	KindUnknownEditionHint
	KindDuplicateObject
	KindMalformedURL
	KindTransactionConflict
	KindTransportFailure
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindUnknownIdentity:
		return "unknown_identity"
	case KindUnknownTrust:
		return "unknown_trust"
	case KindUnknownEditionHint:
		return "unknown_edition_hint"
	case KindDuplicateObject:
		return "duplicate_object"
	case KindMalformedURL:
		return "malformed_url"
	case KindTransactionConflict:
		return "transaction_conflict"
	case KindTransportFailure:
		return "transport_failure"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// WotError wraps an underlying error with the operation that failed, the
// taxonomy Kind, and whatever identifying context is available.
type WotError struct {
	Kind Kind
	Op   string
	Err  error

	IdentityID string
	TrusterID  string
	TrusteeID  string
}

func (e *WotError) Error() string {
	switch {
	case e.IdentityID != "":
		return fmt.Sprintf("%s: %s: %v (identity: %s)", e.Op, e.Kind, e.Err, e.IdentityID)
	case e.TrusterID != "" || e.TrusteeID != "":
		return fmt.Sprintf("%s: %s: %v (truster: %s, trustee: %s)", e.Op, e.Kind, e.Err, e.TrusterID, e.TrusteeID)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *WotError) Unwrap() error {
	return e.Err
}

// Is implements error taxonomy matching: errors.Is(err, &WotError{Kind: KindUnknownIdentity})
// reports true for any WotError with a matching Kind, regardless of Op/context.
func (e *WotError) Is(target error) bool {
	t, ok := target.(*WotError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewError(kind Kind, op string, err error) *WotError {
	return &WotError{Kind: kind, Op: op, Err: err}
}

func NewIdentity(kind Kind, op string, err error, identityID string) *WotError {
	return &WotError{Kind: kind, Op: op, Err: err, IdentityID: identityID}
}

func NewTrust(kind Kind, op string, err error, trusterID, trusteeID string) *WotError {
	return &WotError{Kind: kind, Op: op, Err: err, TrusterID: trusterID, TrusteeID: trusteeID}
}

// KindOf reports the Kind of err if it (or something it wraps) is a
// *WotError, and ok=false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var we *WotError
	if errors.As(err, &we) {
		return we.Kind, true
	}
	return 0, false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
