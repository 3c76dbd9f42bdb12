package exam

// Derived presentation data. Nothing here mutates state; these are the pure
// projections a rendering surface subscribes to.

// NavigatorItem is one row of the question navigator.
type NavigatorItem struct {
	Index      int
	QuestionID int
	Status     string // unanswered, answered, correct, incorrect
	Flagged    bool
	Current    bool
}

// NavigatorState projects the active session into navigator rows. Tutor
// mode exposes correctness per submitted question; exam mode only shows
// that a question was answered.
func (m *Machine) NavigatorState() []NavigatorItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	items := make([]NavigatorItem, m.session.Total)
	for i, id := range m.session.QuestionIDs {
		status := "unanswered"
		switch {
		case m.session.Submitted[id] && m.session.TutorMode:
			if m.correct[id] {
				status = "correct"
			} else {
				status = "incorrect"
			}
		case m.session.Submitted[id]:
			status = "answered"
		case m.session.Answers[id] != "":
			status = "answered"
		}
		items[i] = NavigatorItem{
			Index:      i,
			QuestionID: id,
			Status:     status,
			Flagged:    m.session.Flagged[id],
			Current:    i == m.currentIdx,
		}
	}
	return items
}

// Timer display phases. Countdown presentation only; no transition hangs
// off these.
const (
	PhaseNormal  = "normal"
	PhaseWarning = "warning"
	PhaseDanger  = "danger"
)

// TimerPhase derives the countdown's display phase: warning under five
// minutes remaining, danger at one minute or less.
func (m *Machine) TimerPhase() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || !m.session.TimedMode {
		return PhaseNormal
	}
	switch {
	case m.remainingSecs <= 60:
		return PhaseDanger
	case m.remainingSecs < 300:
		return PhaseWarning
	default:
		return PhaseNormal
	}
}

// ResultsSummary aggregates a finished (or in-flight) session's outcomes.
type ResultsSummary struct {
	Score       int
	Correct     int
	Incorrect   int
	Omitted     int
	TotalTimeMS int64
	AvgTimeMS   int64
}

// Results summarizes the current session.
func (m *Machine) Results() (ResultsSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ResultsSummary{}, false
	}
	s := m.session
	sum := ResultsSummary{
		Score:     s.Score,
		Correct:   s.Correct,
		Incorrect: s.Answered - s.Correct,
		Omitted:   s.Total - s.Answered,
	}
	for _, ms := range m.timers {
		sum.TotalTimeMS += ms
	}
	if s.Total > 0 {
		sum.AvgTimeMS = sum.TotalTimeMS / int64(s.Total)
	}
	return sum, true
}

// ResultFilter selects which question ids a results view lists.
type ResultFilter string

const (
	ResultsAll       ResultFilter = "all"
	ResultsCorrect   ResultFilter = "correct"
	ResultsIncorrect ResultFilter = "incorrect"
	ResultsOmitted   ResultFilter = "omitted"
	ResultsFlagged   ResultFilter = "flagged"
)

// FilterResults returns the current session's question ids matching the
// filter, in session order.
func (m *Machine) FilterResults(filter ResultFilter) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	var out []int
	for _, id := range m.session.QuestionIDs {
		submitted := m.session.Submitted[id]
		switch filter {
		case ResultsCorrect:
			if !submitted || !m.correct[id] {
				continue
			}
		case ResultsIncorrect:
			if !submitted || m.correct[id] {
				continue
			}
		case ResultsOmitted:
			if submitted {
				continue
			}
		case ResultsFlagged:
			if !m.session.Flagged[id] {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}
