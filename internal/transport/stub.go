package transport

import (
	"context"
	"sync"
)

// Stub is a deterministic, in-memory NetworkClient used by every engine
// test and by cmd/wotd -transport=stub for manual smoke-testing without
// a real network. Documents are registered with Publish and delivered
// synchronously to Fetch and to any live subscription.
type Stub struct {
	mu   sync.Mutex
	docs map[string][]docVersion // keyed by requestKey/insertKey

	subs map[string][]*stubHandle // keyed by identityID
}

type docVersion struct {
	edition int64
	list    *ParsedTrustList
	failed  bool
}

type stubHandle struct {
	ch     chan Update
	closed bool
}

func (h *stubHandle) Updates() <-chan Update { return h.ch }

func NewStub() *Stub {
	return &Stub{
		docs: make(map[string][]docVersion),
		subs: make(map[string][]*stubHandle),
	}
}

// Publish registers a new edition of key, either as a successfully
// parsed trust list or (if list is nil) a parse failure, and delivers it
// to any subscription registered under identityID.
func (s *Stub) Publish(identityID, key string, edition int64, list *ParsedTrustList) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[key] = append(s.docs[key], docVersion{edition: edition, list: list, failed: list == nil})

	for _, h := range s.subs[identityID] {
		if h.closed {
			continue
		}
		if list == nil {
			h.ch <- Update{Err: ErrParseFailed}
		} else {
			h.ch <- Update{List: list}
		}
	}
}

func (s *Stub) Subscribe(ctx context.Context, identityID, requestKey string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &stubHandle{ch: make(chan Update, 16)}
	s.subs[identityID] = append(s.subs[identityID], h)
	return h, nil
}

func (s *Stub) Unsubscribe(handle Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := handle.(*stubHandle)
	if !ok {
		return nil
	}
	if !h.closed {
		h.closed = true
		close(h.ch)
	}
	return nil
}

func (s *Stub) Fetch(ctx context.Context, requestKey string, edition int64) (*ParsedTrustList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.docs[requestKey]
	for _, v := range versions {
		if v.edition == edition {
			if v.failed {
				return nil, ErrParseFailed
			}
			return v.list, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Stub) Insert(ctx context.Context, insertKey string, edition int64, payload []byte) error {
	return nil
}
