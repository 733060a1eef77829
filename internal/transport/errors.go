package transport

import "errors"

// ErrNotFound is returned by Fetch when the transport has no data for
// the requested key+edition (routed by C6 to onFetchedAndParsingFailed,
// §4.6).
var ErrNotFound = errors.New("transport: requested key/edition not found")

// ErrParseFailed is returned by Fetch when data was retrieved but could
// not be parsed as an identity document.
var ErrParseFailed = errors.New("transport: fetched document failed to parse")

// ErrTransportFailure wraps a transient transport-layer failure; the
// Fast Downloader retries it forever, the Slow Downloader discards it
// and moves to the next hint (§4.5/§4.6, §7).
var ErrTransportFailure = errors.New("transport: transient failure")
