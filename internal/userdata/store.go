// Package userdata is the remote side of progress sync: per-user documents
// holding the five state slots, exposed over HTTP and consumed by the
// progress store's debounced syncer.
package userdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/medprep/qbank/internal/progress"
)

// Update is a partial sync payload. Only fields present in the request body
// are applied; absent slots keep their stored value.
type Update struct {
	TestHistory    json.RawMessage `json:"testHistory,omitempty"`
	Performance    json.RawMessage `json:"performance,omitempty"`
	QuestionStatus json.RawMessage `json:"questionStatus,omitempty"`
	Notes          json.RawMessage `json:"notes,omitempty"`
	UsedQuestions  json.RawMessage `json:"usedQuestions,omitempty"`
}

// Store persists one document per username.
type Store interface {
	// EnsureUser creates an empty document if none exists.
	EnsureUser(ctx context.Context, username string) error
	// Get returns the user's document; a user with no document gets the
	// zero Document (nil testHistory, so clients do not overwrite local
	// state with nothing).
	Get(ctx context.Context, username string) (progress.Document, error)
	// Update applies a partial payload and stamps a new lastSync.
	Update(ctx context.Context, username string, upd Update) (time.Time, error)
}

// emptyDocument is what registration seeds: present but empty slots.
func emptyDocument() progress.Document {
	return progress.Document{
		TestHistory:    []progress.HistoryEntry{},
		Performance:    map[string]progress.TopicPerf{},
		QuestionStatus: map[int]progress.Status{},
		Notes:          map[int]string{},
		UsedQuestions:  []int{},
	}
}

// apply overlays the present fields of an update onto a document.
func apply(doc *progress.Document, upd Update) error {
	fields := []struct {
		name string
		raw  json.RawMessage
		dst  any
	}{
		{"testHistory", upd.TestHistory, &doc.TestHistory},
		{"performance", upd.Performance, &doc.Performance},
		{"questionStatus", upd.QuestionStatus, &doc.QuestionStatus},
		{"notes", upd.Notes, &doc.Notes},
		{"usedQuestions", upd.UsedQuestions, &doc.UsedQuestions},
	}
	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return fmt.Errorf("decoding %s: %w", f.name, err)
		}
	}
	return nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]progress.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]progress.Document)}
}

func (s *MemoryStore) EnsureUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[username]; !ok {
		s.docs[username] = emptyDocument()
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, username string) (progress.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[username], nil
}

func (s *MemoryStore) Update(_ context.Context, username string, upd Update) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[username]
	if !ok {
		doc = emptyDocument()
	}
	if err := apply(&doc, upd); err != nil {
		return time.Time{}, err
	}
	doc.LastSync = time.Now().UTC()
	s.docs[username] = doc
	return doc.LastSync, nil
}
