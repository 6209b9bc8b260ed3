// Package pending implements the Pending-Action Store (C12): a
// persisted mapping from signature_id to the ticket and context that
// put it into await-review, plus the set of signature_ids currently
// awaiting a human decision.
package pending

import (
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/store"
)

// Entry is one pending action awaiting review.
type Entry struct {
	SignatureID    string    `json:"signature_id"`
	TicketID       string    `json:"ticket_id"`
	Signature      any       `json:"signature"`
	MatchedRunbook string    `json:"matched_runbook,omitempty"`
	ServerMessage  string    `json:"server_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type document struct {
	Entries map[string]Entry `json:"entries"`
}

// Store holds pending actions, persisted via internal/store after
// every mutation.
type Store struct {
	fs  *store.FileStore
	log *zap.Logger
	doc document
}

// New loads Store from disk (if present) or starts empty.
func New(fs *store.FileStore, log *zap.Logger) (*Store, error) {
	doc := document{Entries: make(map[string]Entry)}
	if err := fs.LoadJSON(store.FilePendingActions, &doc); err != nil {
		return nil, err
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]Entry)
	}
	return &Store{fs: fs, log: log, doc: doc}, nil
}

func (s *Store) save() {
	if err := s.fs.SaveJSON(store.FilePendingActions, s.doc); err != nil {
		s.log.Error("pending action store: save failed", zap.Error(err))
	}
}

// Put records a new pending action, entering await-review for its
// signature_id: the caller must have already opened a pending-review
// ActionTicket.
func (s *Store) Put(e Entry) {
	s.doc.Entries[e.SignatureID] = e
	s.save()
}

// Get returns the pending entry for a signature_id, if any.
func (s *Store) Get(signatureID string) (Entry, bool) {
	e, ok := s.doc.Entries[signatureID]
	return e, ok
}

// IsAwaitingReview reports whether signatureID currently has a pending
// entry — further escalations for it must be suppressed.
func (s *Store) IsAwaitingReview(signatureID string) bool {
	_, ok := s.doc.Entries[signatureID]
	return ok
}

// Resolve removes a signature_id from the pending set, called on
// explicit execute_pending_action or cancel_pending_action.
func (s *Store) Resolve(signatureID string) {
	delete(s.doc.Entries, signatureID)
	s.save()
}

// All returns every currently pending entry, for UI/diagnostics.
func (s *Store) All() []Entry {
	out := make([]Entry, 0, len(s.doc.Entries))
	for _, e := range s.doc.Entries {
		out = append(out, e)
	}
	return out
}
