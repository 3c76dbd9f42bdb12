// Package progress owns per-user practice state: test history, the
// per-question status map, free-text notes, the used-question set, and the
// per-topic performance aggregate. State lives in five named slots backed by
// a SlotStore, with an optional debounced remote sync.
package progress

import "time"

// Slot names. These double as the field names of the remote sync document.
const (
	SlotHistory        = "testHistory"
	SlotPerformance    = "performance"
	SlotQuestionStatus = "questionStatus"
	SlotNotes          = "notes"
	SlotUsedQuestions  = "usedQuestions"
)

// Status is the per-question record written on every submit. A re-submit in
// a later session overwrites it wholesale.
type Status struct {
	Answered    bool      `json:"answered"`
	Correct     bool      `json:"correct"`
	UserAnswer  string    `json:"userAnswer"`
	Flagged     bool      `json:"flagged"`
	TimeSpentMS int64     `json:"timeSpent"`
	Date        time.Time `json:"date"`
}

// TopicPerf is the per-topic aggregate. It increments once per submit event
// and is never decremented.
type TopicPerf struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// HistoryEntry is an immutable snapshot of a test session taken at suspend
// or finish time. At most one entry exists per session id.
type HistoryEntry struct {
	ID          string         `json:"id"`
	Date        time.Time      `json:"date"`
	Mode        string         `json:"mode"`
	TutorMode   bool           `json:"tutorMode"`
	TimedMode   bool           `json:"timedMode"`
	QuestionIDs []int          `json:"questionIds"`
	Answers     map[int]string `json:"answers"`
	Submitted   map[int]bool   `json:"submitted,omitempty"`
	Flagged     map[int]bool   `json:"flagged"`
	Completed   bool           `json:"completed"`
	Suspended   bool           `json:"suspended"`
	Score       int            `json:"score"`
	Correct     int            `json:"correct"`
	Total       int            `json:"total"`
	Answered    int            `json:"answered"`

	// Suspend snapshot fields; zero on completed entries.
	CurrentIdx     int           `json:"currentIdx"`
	QuestionTimers map[int]int64 `json:"questionTimers,omitempty"`
	RemainingSecs  int           `json:"remainingTime"`
	ElapsedSecs    int           `json:"totalTime"`
}

// Document is the full five-slot state as exchanged with the remote API.
type Document struct {
	TestHistory    []HistoryEntry       `json:"testHistory"`
	Performance    map[string]TopicPerf `json:"performance"`
	QuestionStatus map[int]Status       `json:"questionStatus"`
	Notes          map[int]string       `json:"notes"`
	UsedQuestions  []int                `json:"usedQuestions"`
	LastSync       time.Time            `json:"lastSync,omitzero"`
}
