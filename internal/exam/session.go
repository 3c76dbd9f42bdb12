// Package exam drives the test-taking lifecycle: building a question set,
// answering and submitting, suspend/resume, timing, and review. All durable
// effects go through the progress store; the machine itself emits plain data
// for whatever surface renders it.
package exam

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/medprep/qbank/internal/progress"
)

// ValidationError reports a user-correctable problem (empty candidate pool,
// submitting without an answer). It never accompanies a state change.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Filter narrows the candidate pool when building a test.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterUnused    Filter = "unused"
	FilterIncorrect Filter = "incorrect"
	FilterFlagged   Filter = "flagged"
)

// Selection names the slice of the topic index to draw candidates from.
// A zero Selection means the whole index; empty Subtopics means every
// subtopic of the topic.
type Selection struct {
	Topic     string
	Subtopics []string
}

// TestSession is the active test's state. The machine owns the single live
// instance; snapshots of it are frozen into progress.HistoryEntry at suspend
// and finish boundaries.
type TestSession struct {
	ID          string
	Date        time.Time
	TutorMode   bool
	TimedMode   bool
	QuestionIDs []int
	Answers     map[int]string
	Submitted   map[int]bool
	Flagged     map[int]bool
	StartTime   time.Time
	Completed   bool
	Score       int
	Correct     int
	Total       int
	Answered    int
}

// Mode renders the session's mode label, e.g. "Tutor / Timed".
func (s *TestSession) Mode() string {
	mode := "Exam"
	if s.TutorMode {
		mode = "Tutor"
	}
	if s.TimedMode {
		return mode + " / Timed"
	}
	return mode + " / Untimed"
}

func newSessionID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// snapshot freezes the session into a history entry. Maps are copied so the
// entry never aliases live session state.
func (s *TestSession) snapshot() progress.HistoryEntry {
	return progress.HistoryEntry{
		ID:          s.ID,
		Date:        s.Date,
		Mode:        s.Mode(),
		TutorMode:   s.TutorMode,
		TimedMode:   s.TimedMode,
		QuestionIDs: append([]int(nil), s.QuestionIDs...),
		Answers:     copyMap(s.Answers),
		Submitted:   copyMap(s.Submitted),
		Flagged:     copyMap(s.Flagged),
		Completed:   s.Completed,
		Score:       s.Score,
		Correct:     s.Correct,
		Total:       s.Total,
		Answered:    s.Answered,
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
