package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Syncer pushes and pulls the five-slot document against the remote API.
type Syncer interface {
	Push(ctx context.Context, doc Document) error
	Pull(ctx context.Context) (*Document, error)
}

// Store holds the user's practice state in memory and writes through to a
// SlotStore. Every mutating operation persists all five slots and schedules
// a debounced remote sync; local state stays authoritative when the remote
// is unreachable.
type Store struct {
	slots    SlotStore
	syncer   Syncer
	debounce time.Duration

	mu          sync.Mutex
	history     []HistoryEntry
	performance map[string]TopicPerf
	status      map[int]Status
	notes       map[int]string
	used        map[int]bool
	syncTimer   *time.Timer
}

// Option configures a Store.
type Option func(*Store)

// WithSyncer enables debounced remote sync through the given syncer.
func WithSyncer(s Syncer, debounce time.Duration) Option {
	return func(st *Store) {
		st.syncer = s
		st.debounce = debounce
	}
}

// NewStore loads all five slots. A slot that is missing or holds data that
// no longer unmarshals falls back to its empty default.
func NewStore(ctx context.Context, slots SlotStore, opts ...Option) (*Store, error) {
	s := &Store{
		slots:    slots,
		debounce: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadAll(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadAll(ctx context.Context) error {
	s.history = loadSlot(ctx, s.slots, SlotHistory, []HistoryEntry{})
	s.performance = loadSlot(ctx, s.slots, SlotPerformance, map[string]TopicPerf{})
	s.status = loadSlot(ctx, s.slots, SlotQuestionStatus, map[int]Status{})
	s.notes = loadSlot(ctx, s.slots, SlotNotes, map[int]string{})

	usedList := loadSlot(ctx, s.slots, SlotUsedQuestions, []int{})
	s.used = make(map[int]bool, len(usedList))
	for _, id := range usedList {
		s.used[id] = true
	}
	return nil
}

// loadSlot reads and decodes one slot, falling back to def on absence or
// corrupt data. Decode failures are logged, never fatal.
func loadSlot[T any](ctx context.Context, slots SlotStore, name string, def T) T {
	data, err := slots.Load(ctx, name)
	if err != nil {
		slog.Warn("slot load failed, using default", "slot", name, "error", err)
		return def
	}
	if len(data) == 0 {
		return def
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("slot data corrupt, using default", "slot", name, "error", err)
		return def
	}
	return v
}

// Save persists all five slots and schedules the debounced remote sync.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	err := s.persistLocked(ctx)
	s.scheduleSyncLocked()
	s.mu.Unlock()
	return err
}

func (s *Store) persistLocked(ctx context.Context) error {
	usedList := s.usedListLocked()
	for _, slot := range []struct {
		name string
		v    any
	}{
		{SlotHistory, s.history},
		{SlotPerformance, s.performance},
		{SlotQuestionStatus, s.status},
		{SlotNotes, s.notes},
		{SlotUsedQuestions, usedList},
	} {
		data, err := json.Marshal(slot.v)
		if err != nil {
			return fmt.Errorf("encoding slot %s: %w", slot.name, err)
		}
		if err := s.slots.Save(ctx, slot.name, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) usedListLocked() []int {
	list := make([]int, 0, len(s.used))
	for id := range s.used {
		list = append(list, id)
	}
	slices.Sort(list)
	return list
}

// scheduleSyncLocked coalesces bursts of saves into one outbound push.
func (s *Store) scheduleSyncLocked() {
	if s.syncer == nil {
		return
	}
	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}
	s.syncTimer = time.AfterFunc(s.debounce, s.pushNow)
}

func (s *Store) pushNow() {
	s.mu.Lock()
	doc := s.documentLocked()
	s.mu.Unlock()

	if err := s.syncer.Push(context.Background(), doc); err != nil {
		slog.Warn("remote sync failed", "error", err)
	}
}

// Flush pushes any pending sync immediately. Intended for shutdown.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.syncTimer != nil {
		s.syncTimer.Stop()
		s.syncTimer = nil
	}
	if s.syncer == nil {
		s.mu.Unlock()
		return nil
	}
	doc := s.documentLocked()
	s.mu.Unlock()
	return s.syncer.Push(ctx, doc)
}

func (s *Store) documentLocked() Document {
	return Document{
		TestHistory:    slices.Clone(s.history),
		Performance:    cloneMap(s.performance),
		QuestionStatus: cloneMap(s.status),
		Notes:          cloneMap(s.notes),
		UsedQuestions:  s.usedListLocked(),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LoadFromRemote pulls the remote document. When it carries a non-nil test
// history the remote copy overwrites every local slot, which is then
// persisted locally without scheduling a sync back. A remote copy with a nil
// history leaves local state untouched.
func (s *Store) LoadFromRemote(ctx context.Context) error {
	if s.syncer == nil {
		return nil
	}
	doc, err := s.syncer.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pulling remote state: %w", err)
	}
	if doc == nil || doc.TestHistory == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = slices.Clone(doc.TestHistory)
	s.performance = cloneMap(doc.Performance)
	s.status = cloneMap(doc.QuestionStatus)
	s.notes = cloneMap(doc.Notes)
	s.used = make(map[int]bool, len(doc.UsedQuestions))
	for _, id := range doc.UsedQuestions {
		s.used[id] = true
	}
	if s.performance == nil {
		s.performance = map[string]TopicPerf{}
	}
	if s.status == nil {
		s.status = map[int]Status{}
	}
	if s.notes == nil {
		s.notes = map[int]string{}
	}
	return s.persistLocked(ctx)
}

// Reset clears all five slots and persists the empty state.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.history = []HistoryEntry{}
	s.performance = map[string]TopicPerf{}
	s.status = map[int]Status{}
	s.notes = map[int]string{}
	s.used = map[int]bool{}
	err := s.persistLocked(ctx)
	s.scheduleSyncLocked()
	s.mu.Unlock()
	return err
}

// History returns a copy of the test history, newest ordering as stored.
func (s *Store) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Entry returns the history entry for a session id.
func (s *Store) Entry(id string) (HistoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.history {
		if e.ID == id {
			return e, true
		}
	}
	return HistoryEntry{}, false
}

// UpsertHistory replaces the entry with the same session id or appends a new
// one, then persists. Keeps the one-entry-per-session invariant.
func (s *Store) UpsertHistory(ctx context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	replaced := false
	for i, e := range s.history {
		if e.ID == entry.ID {
			s.history[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		s.history = append(s.history, entry)
	}
	err := s.persistLocked(ctx)
	s.scheduleSyncLocked()
	s.mu.Unlock()
	return err
}

// Status returns the stored status for a question id.
func (s *Store) Status(id int) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[id]
	return st, ok
}

// Statuses returns a copy of the question status map.
func (s *Store) Statuses() map[int]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.status)
}

// RecordSubmit overwrites the question's status, bumps the topic aggregate
// once, and persists. Each call is one submit event; the caller guards
// against re-submitting within a session.
func (s *Store) RecordSubmit(ctx context.Context, id int, st Status, topic string) error {
	s.mu.Lock()
	s.status[id] = st
	perf := s.performance[topic]
	perf.Total++
	if st.Correct {
		perf.Correct++
	}
	s.performance[topic] = perf
	err := s.persistLocked(ctx)
	s.scheduleSyncLocked()
	s.mu.Unlock()
	return err
}

// SetStatusFlag updates the flagged bit on an existing status record.
// Missing records are left absent; the session's own flag map is the source
// of truth until the question is submitted.
func (s *Store) SetStatusFlag(ctx context.Context, id int, flagged bool) error {
	s.mu.Lock()
	st, ok := s.status[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	st.Flagged = flagged
	s.status[id] = st
	err := s.persistLocked(ctx)
	s.scheduleSyncLocked()
	s.mu.Unlock()
	return err
}

// Performance returns a copy of the per-topic aggregate.
func (s *Store) Performance() map[string]TopicPerf {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.performance)
}

// Note returns the note for a question id, empty when absent.
func (s *Store) Note(id int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes[id]
}

// Notes returns a copy of the notes map.
func (s *Store) Notes() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.notes)
}

// SaveNote stores free text against a question id. Empty text deletes.
func (s *Store) SaveNote(ctx context.Context, id int, text string) error {
	s.mu.Lock()
	if text == "" {
		delete(s.notes, id)
	} else {
		s.notes[id] = text
	}
	err := s.persistLocked(ctx)
	s.scheduleSyncLocked()
	s.mu.Unlock()
	return err
}

// MarkUsed unions the given ids into the used set and persists.
func (s *Store) MarkUsed(ctx context.Context, ids []int) error {
	s.mu.Lock()
	for _, id := range ids {
		s.used[id] = true
	}
	err := s.persistLocked(ctx)
	s.scheduleSyncLocked()
	s.mu.Unlock()
	return err
}

// IsUsed reports whether a question id was ever included in a started test.
func (s *Store) IsUsed(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[id]
}

// UsedQuestions returns the used set as a sorted list.
func (s *Store) UsedQuestions() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedListLocked()
}
