// Package wotapi is the ambient HTTP status/query API named in
// SPEC_FULL.md §3: a thin surface over shouldFetchIdentity, score
// lookups, and hint-queue depth, plus the few mutation routes wotctl
// uses — distinct from the out-of-scope full HTTP UI of the original
// spec's §1.
package wotapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/go-wot/wotd/internal/downloadpolicy"
	"github.com/go-wot/wotd/internal/graphstore"
	"github.com/go-wot/wotd/internal/maintenance"
	"github.com/go-wot/wotd/internal/trustgraph"
)

// Service exposes status/query routes against the Graph Store, plus the
// mutation routes wotctl needs to drive an engine from the outside
// (creating an OwnIdentity, setting a trust edge, deleting/restoring an
// OwnIdentity). It is still the ambient debug/ops surface named in §3,
// not the out-of-scope full UI.
type Service struct {
	store     graphstore.Store
	graph     *trustgraph.Graph
	scheduler *maintenance.Scheduler
	server    *http.Server
}

// scheduler may be nil: OnOwnIdentityDeleted is skipped in that case,
// which only matters to callers that never construct a Scheduler.
func New(store graphstore.Store, graph *trustgraph.Graph, scheduler *maintenance.Scheduler, addr string) *Service {
	s := &Service{store: store, graph: graph, scheduler: scheduler}
	router := s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"*"},
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handlers.LoggingHandler(os.Stdout, c.Handler(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Service) setupRoutes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/identities/{id}", s.handleGetIdentity).Methods("GET")
	api.HandleFunc("/identities/{id}/should-fetch", s.handleShouldFetch).Methods("GET")
	api.HandleFunc("/scores/{owner}/{subject}", s.handleGetScore).Methods("GET")
	api.HandleFunc("/hints/depth", s.handleHintQueueDepth).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/own-identities", s.handleCreateOwnIdentity).Methods("POST")
	api.HandleFunc("/own-identities/{id}", s.handleDeleteOwnIdentity).Methods("DELETE")
	api.HandleFunc("/own-identities/{id}/restore", s.handleRestoreOwnIdentity).Methods("POST")
	api.HandleFunc("/trusts", s.handleSetTrust).Methods("POST")

	return r
}

type createOwnIdentityRequest struct {
	ID                 string `json:"id"`
	RequestKey         string `json:"request_key"`
	InsertKey          string `json:"insert_key"`
	Nickname           string `json:"nickname"`
	PublishesTrustList bool   `json:"publishes_trust_list"`
}

func (s *Service) handleCreateOwnIdentity(w http.ResponseWriter, r *http.Request) {
	var req createOwnIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := graphstore.ParseIdentityID(req.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ident, err := s.graph.CreateOwnIdentity(r.Context(), id, req.RequestKey, req.InsertKey, req.Nickname, req.PublishesTrustList)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, ident)
}

type setTrustRequest struct {
	Truster string `json:"truster"`
	Trustee string `json:"trustee"`
	Value   int8   `json:"value"`
	Comment string `json:"comment"`
}

func (s *Service) handleSetTrust(w http.ResponseWriter, r *http.Request) {
	var req setTrustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	truster, err := graphstore.ParseIdentityID(req.Truster)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trustee, err := graphstore.ParseIdentityID(req.Trustee)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.graph.SetTrust(r.Context(), truster, trustee, req.Value, req.Comment); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleDeleteOwnIdentity retires an OwnIdentity and notifies the
// Maintenance Scheduler so its next sweep stops treating the identity's
// trust list as live (§7's OnOwnIdentityDeleted hook).
func (s *Service) handleDeleteOwnIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := graphstore.ParseIdentityID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.graph.DeleteOwnIdentity(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.scheduler != nil {
		s.scheduler.OnOwnIdentityDeleted(r.Context())
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type restoreOwnIdentityRequest struct {
	InsertKey string `json:"insert_key"`
}

func (s *Service) handleRestoreOwnIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := graphstore.ParseIdentityID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req restoreOwnIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.graph.RestoreOwnIdentity(r.Context(), id, req.InsertKey); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Service) Start() error {
	return s.server.ListenAndServe()
}

func (s *Service) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Service) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := graphstore.ParseIdentityID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var ident *graphstore.Identity
	err = s.store.WithTx(r.Context(), func(tx graphstore.Tx) error {
		ident, err = tx.GetIdentity(id)
		return err
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ident == nil {
		http.Error(w, "identity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, ident)
}

func (s *Service) handleShouldFetch(w http.ResponseWriter, r *http.Request) {
	id, err := graphstore.ParseIdentityID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var shouldFetch, isFast bool
	err = s.store.WithTx(r.Context(), func(tx graphstore.Tx) error {
		shouldFetch, err = downloadpolicy.ShouldFetchIdentity(tx, id)
		if err != nil {
			return err
		}
		isFast, err = downloadpolicy.IsFastPartition(tx, id)
		return err
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"should_fetch": shouldFetch, "fast_partition": isFast})
}

func (s *Service) handleGetScore(w http.ResponseWriter, r *http.Request) {
	owner, err := graphstore.ParseIdentityID(mux.Vars(r)["owner"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	subject, err := graphstore.ParseIdentityID(mux.Vars(r)["subject"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var score *graphstore.Score
	err = s.store.WithTx(r.Context(), func(tx graphstore.Tx) error {
		score, err = tx.GetScore(owner, subject)
		return err
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if score == nil {
		http.Error(w, "no score recorded for this pair", http.StatusNotFound)
		return
	}
	writeJSON(w, score)
}

// handleHintQueueDepth reports only whether the queue is non-empty: the
// Graph Store's priority index is built for "give me the single best
// hint" (§4.1), not a count scan, so a precise depth isn't available
// without a dedicated counting query this interface doesn't expose.
func (s *Service) handleHintQueueDepth(w http.ResponseWriter, r *http.Request) {
	var hasPending bool
	err := s.store.WithTx(r.Context(), func(tx graphstore.Tx) error {
		hint, err := tx.NextEditionHint()
		if err != nil {
			return err
		}
		hasPending = hint != nil
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"has_pending_hints": hasPending})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
	}
}
