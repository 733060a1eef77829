// Package transport defines the out-of-scope NetworkClient collaborator
// of §6 and a deterministic in-memory Stub implementation used by every
// engine test, plus a real libp2p-backed binding.
package transport

import (
	"context"
	"time"
)

// ParsedTrustList is what a successfully fetched and parsed identity
// document hands back to the Fast/Slow downloaders: the edition it was
// published at and the trust assertions it carries.
type ParsedTrustList struct {
	Edition   int64
	TrustList []TrustAssertion
}

// TrustAssertion is one outgoing trust edge from a freshly parsed
// identity document.
type TrustAssertion struct {
	TrusteeID string
	Value     int8
	Comment   string
}

// Handle is the opaque subscription handle returned by Subscribe.
type Handle interface {
	// Updates yields one ParsedTrustList per new edition observed, or an
	// error if the transport failed; the channel closes when the
	// subscription ends via Unsubscribe.
	Updates() <-chan Update
}

// Update is a single event delivered on a transport-owned thread.
type Update struct {
	List *ParsedTrustList
	Err  error
}

// NetworkClient is the out-of-scope anonymizing-network transport (§6).
// Fast Downloader (C5) uses Subscribe/Unsubscribe; Slow Downloader (C6)
// uses Fetch/Insert.
type NetworkClient interface {
	Subscribe(ctx context.Context, identityID, requestKey string) (Handle, error)
	Unsubscribe(h Handle) error

	// Fetch retrieves the document at requestKey+edition. A 404 or
	// malformed response must be reported via ErrNotFound /
	// ErrParseFailed respectively so C6 can distinguish "nothing there"
	// from "transport broke" without inspecting error strings.
	Fetch(ctx context.Context, requestKey string, edition int64) (*ParsedTrustList, error)

	// Insert publishes bytes at insertKey+edition (used only by a node
	// publishing its own OwnIdentity trust lists; not exercised by the
	// download path but part of the §6 contract).
	Insert(ctx context.Context, insertKey string, edition int64, payload []byte) error
}

// RetryBackoff is the schedule the Fast Downloader uses for indefinite
// retry on TransportFailure (§4.5, §7).
var RetryBackoff = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
}
