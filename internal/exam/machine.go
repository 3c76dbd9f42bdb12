package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/medprep/qbank/internal/progress"
	"github.com/medprep/qbank/internal/question"
	"github.com/medprep/qbank/internal/taxonomy"
)

// Each question gets 90 seconds of countdown budget in timed mode.
const secondsPerQuestion = 90

var (
	// ErrNoActiveSession is returned by operations that require a live test.
	ErrNoActiveSession = errors.New("no active test session")
	// ErrStaleFetch marks a question fetch that completed after the user
	// navigated elsewhere; the caller discards it and re-requests.
	ErrStaleFetch = errors.New("question fetch superseded by navigation")
	// ErrSessionNotFound is returned when a history entry does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// Clock abstracts wall-clock time for per-question timing.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// QuestionResolver resolves a question id into its parsed form.
type QuestionResolver interface {
	Get(ctx context.Context, id int) (*question.Question, error)
}

// MachineConfig holds dependencies for the test session machine.
type MachineConfig struct {
	Store     *progress.Store
	Questions QuestionResolver
	Index     *taxonomy.Index
	Clock     Clock
	Events    EventLogger
	Shuffle   func(n int, swap func(i, j int))
}

// Machine owns the single active TestSession and every transition on it.
// All mutating entry points take the machine lock; timer ticks are driven
// externally via Tick.
type Machine struct {
	store     *progress.Store
	questions QuestionResolver
	index     *taxonomy.Index
	clock     Clock
	events    EventLogger
	shuffle   func(n int, swap func(i, j int))

	mu            sync.Mutex
	session       *TestSession
	correct       map[int]bool
	currentIdx    int
	enteredAt     time.Time
	timers        map[int]int64 // accumulated ms per question id
	remainingSecs int
	elapsedSecs   int
	autoFinished  bool
}

// NewMachine creates a test session machine.
func NewMachine(cfg MachineConfig) *Machine {
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	shuffle := cfg.Shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	return &Machine{
		store:     cfg.Store,
		questions: cfg.Questions,
		index:     cfg.Index,
		clock:     clock,
		events:    events,
		shuffle:   shuffle,
	}
}

// BuildAndStart assembles a question set from the selection and filter,
// draws a random subset of at most count ids, marks them used, and starts
// the session. An empty candidate pool or non-positive count yields a
// ValidationError with no state change.
func (m *Machine) BuildAndStart(ctx context.Context, sel Selection, filter Filter, count int, tutorMode, timedMode bool) (TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && !m.session.Completed {
		return TestSession{}, &ValidationError{Msg: "a test is already in progress"}
	}
	if count <= 0 {
		return TestSession{}, &ValidationError{Msg: "question count must be positive"}
	}

	candidates := m.candidates(sel, filter)
	if len(candidates) == 0 {
		return TestSession{}, &ValidationError{Msg: "no questions match the current selection"}
	}

	m.shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	selected := candidates[:min(count, len(candidates))]

	now := m.clock.Now()
	session := &TestSession{
		ID:          newSessionID(),
		Date:        now,
		TutorMode:   tutorMode,
		TimedMode:   timedMode,
		QuestionIDs: append([]int(nil), selected...),
		Answers:     map[int]string{},
		Submitted:   map[int]bool{},
		Flagged:     map[int]bool{},
		StartTime:   now,
		Total:       len(selected),
	}

	if err := m.store.MarkUsed(ctx, selected); err != nil {
		return TestSession{}, fmt.Errorf("marking questions used: %w", err)
	}

	m.session = session
	m.correct = map[int]bool{}
	m.currentIdx = 0
	m.enteredAt = now
	m.timers = map[int]int64{}
	m.elapsedSecs = 0
	m.remainingSecs = 0
	m.autoFinished = false
	if timedMode {
		m.remainingSecs = secondsPerQuestion * session.Total
	}

	m.logEvent(Event{
		SessionID: session.ID,
		EventType: EventTestStarted,
		Data:      map[string]any{"total": session.Total, "mode": session.Mode()},
	})

	return *session, nil
}

// candidates resolves the selection against the index, then applies the
// filter against stored progress. Order is index traversal order.
func (m *Machine) candidates(sel Selection, filter Filter) []int {
	var ids []int
	switch {
	case sel.Topic == "":
		ids = m.index.AllIDs()
	case len(sel.Subtopics) == 0:
		for _, sub := range m.index.Subtopics(sel.Topic) {
			ids = append(ids, m.index.IDsFor(sel.Topic, sub)...)
		}
	default:
		for _, sub := range sel.Subtopics {
			ids = append(ids, m.index.IDsFor(sel.Topic, sub)...)
		}
	}

	seen := make(map[int]bool, len(ids))
	statuses := m.store.Statuses()
	var out []int
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		switch filter {
		case FilterUnused:
			if m.store.IsUsed(id) {
				continue
			}
		case FilterIncorrect:
			st, ok := statuses[id]
			if !ok || !st.Answered || st.Correct {
				continue
			}
		case FilterFlagged:
			if st, ok := statuses[id]; !ok || !st.Flagged {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}

// SelectAnswer overwrites the current question's chosen letter. Re-selecting
// replaces the prior pick; a submitted question no longer accepts answers.
func (m *Machine) SelectAnswer(letter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked() {
		return ErrNoActiveSession
	}
	id := m.session.QuestionIDs[m.currentIdx]
	if m.session.Submitted[id] {
		return &ValidationError{Msg: "question already submitted"}
	}
	m.session.Answers[id] = letter
	return nil
}

// SubmitResult reports the outcome of a submission.
type SubmitResult struct {
	Correct       bool
	CorrectAnswer string
}

// SubmitCurrent locks in the current question's answer. Submitting without
// a selected answer is a ValidationError; re-submitting an already-submitted
// question returns the prior outcome with no further effect.
func (m *Machine) SubmitCurrent(ctx context.Context) (SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked() {
		return SubmitResult{}, ErrNoActiveSession
	}
	id := m.session.QuestionIDs[m.currentIdx]

	q, err := m.questions.Get(ctx, id)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("resolving question %d: %w", id, err)
	}

	if m.session.Submitted[id] {
		return SubmitResult{Correct: m.correct[id], CorrectAnswer: q.CorrectAnswer}, nil
	}

	answer, ok := m.session.Answers[id]
	if !ok {
		return SubmitResult{}, &ValidationError{Msg: "select an answer before submitting"}
	}

	correct := answer == q.CorrectAnswer
	m.session.Submitted[id] = true
	m.correct[id] = correct
	m.session.Answered++
	if correct {
		m.session.Correct++
	}

	// Only time banked by leaving the question counts; the interval still
	// in flight is folded in on the next navigation or suspend.
	now := m.clock.Now()
	timeSpent := m.timers[id]
	st := progress.Status{
		Answered:    true,
		Correct:     correct,
		UserAnswer:  answer,
		Flagged:     m.session.Flagged[id],
		TimeSpentMS: timeSpent,
		Date:        now,
	}
	if err := m.store.RecordSubmit(ctx, id, st, m.index.TopicFor(id).Topic); err != nil {
		return SubmitResult{}, fmt.Errorf("recording submission: %w", err)
	}

	m.logEvent(Event{
		SessionID: m.session.ID,
		EventType: EventQuestionSubmitted,
		Data:      map[string]any{"question_id": id, "correct": correct},
	})

	return SubmitResult{Correct: correct, CorrectAnswer: q.CorrectAnswer}, nil
}

// Next advances to the following question; out of range is a no-op.
func (m *Machine) Next() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goToLocked(m.currentIdx + 1)
}

// Prev moves to the preceding question; out of range is a no-op.
func (m *Machine) Prev() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goToLocked(m.currentIdx - 1)
}

// GoTo jumps to an index; out of range is a no-op.
func (m *Machine) GoTo(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goToLocked(idx)
}

func (m *Machine) goToLocked(idx int) {
	if !m.activeLocked() {
		return
	}
	if idx < 0 || idx >= m.session.Total || idx == m.currentIdx {
		return
	}
	m.finalizeTimerLocked()
	m.currentIdx = idx
}

// finalizeTimerLocked folds the in-flight elapsed time into the current
// question's accumulator and restarts the clock.
func (m *Machine) finalizeTimerLocked() {
	if m.session == nil {
		return
	}
	id := m.session.QuestionIDs[m.currentIdx]
	now := m.clock.Now()
	m.timers[id] += now.Sub(m.enteredAt).Milliseconds()
	m.enteredAt = now
}

// ToggleFlag flips the current question's flag in the session and, when a
// status record exists, in the stored status too.
func (m *Machine) ToggleFlag(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked() {
		return ErrNoActiveSession
	}
	id := m.session.QuestionIDs[m.currentIdx]
	m.session.Flagged[id] = !m.session.Flagged[id]
	return m.store.SetStatusFlag(ctx, id, m.session.Flagged[id])
}

// Suspend snapshots the active session into history and clears it. Only
// valid while a test is active.
func (m *Machine) Suspend(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked() {
		return ErrNoActiveSession
	}
	m.finalizeTimerLocked()

	entry := m.session.snapshot()
	entry.Suspended = true
	entry.Completed = false
	// Score and correct count are only reported for finished tests; a
	// suspended entry carries zeros until it is resumed and finished.
	entry.Score = 0
	entry.Correct = 0
	entry.CurrentIdx = m.currentIdx
	entry.QuestionTimers = copyMap(m.timers)
	if m.session.TimedMode {
		entry.RemainingSecs = m.remainingSecs
	} else {
		entry.ElapsedSecs = m.elapsedSecs
	}

	if err := m.store.UpsertHistory(ctx, entry); err != nil {
		return fmt.Errorf("saving suspended session: %w", err)
	}

	m.logEvent(Event{SessionID: entry.ID, EventType: EventTestSuspended})
	m.clearLocked()
	return nil
}

// Resume reconstructs an active session from a suspended history entry.
// A nonexistent or non-suspended id is a no-op.
func (m *Machine) Resume(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && !m.session.Completed {
		return &ValidationError{Msg: "a test is already in progress"}
	}
	entry, ok := m.store.Entry(sessionID)
	if !ok || !entry.Suspended {
		return nil
	}

	now := m.clock.Now()
	session := &TestSession{
		ID:          entry.ID,
		Date:        entry.Date,
		TutorMode:   entry.TutorMode,
		TimedMode:   entry.TimedMode,
		QuestionIDs: append([]int(nil), entry.QuestionIDs...),
		Answers:     copyMap(entry.Answers),
		Submitted:   copyMap(entry.Submitted),
		Flagged:     copyMap(entry.Flagged),
		StartTime:   entry.Date,
		Total:       entry.Total,
		Answered:    entry.Answered,
	}

	// Suspended entries carry no correct count; rebuild it from the
	// stored per-question statuses.
	m.session = session
	m.correct = map[int]bool{}
	for id, submitted := range session.Submitted {
		if !submitted {
			continue
		}
		if st, ok := m.store.Status(id); ok {
			m.correct[id] = st.Correct
			if st.Correct {
				session.Correct++
			}
		}
	}
	m.currentIdx = 0
	if entry.CurrentIdx >= 0 && entry.CurrentIdx < session.Total {
		m.currentIdx = entry.CurrentIdx
	}
	m.timers = copyMap(entry.QuestionTimers)
	m.enteredAt = now
	m.autoFinished = false
	if session.TimedMode {
		m.remainingSecs = entry.RemainingSecs
	} else {
		m.elapsedSecs = entry.ElapsedSecs
	}

	m.logEvent(Event{SessionID: session.ID, EventType: EventTestResumed})
	return nil
}

// Finish ends the active session, computes the score over submitted
// questions, and upserts the completed history entry. A session finished
// after a suspend replaces its suspended entry.
func (m *Machine) Finish(ctx context.Context) (progress.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishLocked(ctx)
}

func (m *Machine) finishLocked(ctx context.Context) (progress.HistoryEntry, error) {
	if !m.activeLocked() {
		return progress.HistoryEntry{}, ErrNoActiveSession
	}
	m.finalizeTimerLocked()

	s := m.session
	s.Score = 0
	if s.Answered > 0 {
		s.Score = int(math.Round(100 * float64(s.Correct) / float64(s.Answered)))
	}
	s.Completed = true

	entry := s.snapshot()
	entry.Suspended = false
	entry.QuestionTimers = copyMap(m.timers)
	if s.TimedMode {
		entry.RemainingSecs = m.remainingSecs
	} else {
		entry.ElapsedSecs = m.elapsedSecs
	}

	if err := m.store.UpsertHistory(ctx, entry); err != nil {
		return progress.HistoryEntry{}, fmt.Errorf("saving finished session: %w", err)
	}

	m.logEvent(Event{
		SessionID: entry.ID,
		EventType: EventTestFinished,
		Data:      map[string]any{"score": entry.Score, "answered": entry.Answered},
	})
	return entry, nil
}

// Tick advances the session clock by one second. In timed mode the
// countdown reaching zero finishes the test automatically, exactly once.
func (m *Machine) Tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked() {
		return
	}
	if !m.session.TimedMode {
		m.elapsedSecs++
		return
	}

	m.remainingSecs--
	if m.remainingSecs <= 0 && !m.autoFinished {
		m.autoFinished = true
		if _, err := m.finishLocked(ctx); err != nil {
			slog.Error("auto-finish failed", "error", err)
		}
	}
}

func (m *Machine) activeLocked() bool {
	return m.session != nil && !m.session.Completed
}

func (m *Machine) clearLocked() {
	m.session = nil
	m.correct = nil
	m.timers = nil
	m.currentIdx = 0
	m.remainingSecs = 0
	m.elapsedSecs = 0
}

func (m *Machine) logEvent(event Event) {
	if err := m.events.LogEvent(event); err != nil {
		slog.Warn("event log failed", "type", event.EventType, "error", err)
	}
}

// Session returns a copy of the current session, active or just-completed.
func (m *Machine) Session() (TestSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return TestSession{}, false
	}
	cp := *m.session
	cp.QuestionIDs = append([]int(nil), m.session.QuestionIDs...)
	cp.Answers = copyMap(m.session.Answers)
	cp.Submitted = copyMap(m.session.Submitted)
	cp.Flagged = copyMap(m.session.Flagged)
	return cp, true
}

// Active reports whether a test is currently in progress.
func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// CurrentIndex returns the index of the displayed question.
func (m *Machine) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentIdx
}

// CurrentQuestion resolves the displayed question. If the user navigates
// while the fetch is in flight the stale result is discarded.
func (m *Machine) CurrentQuestion(ctx context.Context) (*question.Question, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	id := m.session.QuestionIDs[m.currentIdx]
	m.mu.Unlock()

	q, err := m.questions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.QuestionIDs[m.currentIdx] != id {
		return nil, ErrStaleFetch
	}
	return q, nil
}

// RemainingSeconds returns the countdown value; zero in untimed mode.
func (m *Machine) RemainingSeconds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingSecs
}

// ElapsedSeconds returns the stopwatch value; zero in timed mode.
func (m *Machine) ElapsedSeconds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsedSecs
}
