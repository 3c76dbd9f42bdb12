package exam

import (
	"context"
)

// ReviewTest builds a read-only synthetic session from a history entry.
// Entries written before the submitted map existed derive it from answers,
// so review still shows those picks as locked in.
func (m *Machine) ReviewTest(sessionID string) (TestSession, error) {
	entry, ok := m.store.Entry(sessionID)
	if !ok {
		return TestSession{}, ErrSessionNotFound
	}

	session := TestSession{
		ID:          entry.ID,
		Date:        entry.Date,
		TutorMode:   entry.TutorMode,
		TimedMode:   entry.TimedMode,
		QuestionIDs: append([]int(nil), entry.QuestionIDs...),
		Answers:     copyMap(entry.Answers),
		Flagged:     copyMap(entry.Flagged),
		Completed:   entry.Completed,
		Score:       entry.Score,
		Correct:     entry.Correct,
		Total:       entry.Total,
		Answered:    entry.Answered,
	}
	if entry.Submitted != nil {
		session.Submitted = copyMap(entry.Submitted)
	} else {
		session.Submitted = make(map[int]bool, len(entry.Answers))
		for id := range entry.Answers {
			session.Submitted[id] = true
		}
	}
	return session, nil
}

// Preview builds a one-question synthetic session for an arbitrary id. A
// previously answered question comes back with its answer locked in.
func (m *Machine) Preview(ctx context.Context, id int) (TestSession, error) {
	if _, err := m.questions.Get(ctx, id); err != nil {
		return TestSession{}, err
	}

	session := TestSession{
		ID:          "preview-" + newSessionID(),
		TutorMode:   true,
		QuestionIDs: []int{id},
		Answers:     map[int]string{},
		Submitted:   map[int]bool{},
		Flagged:     map[int]bool{},
		Total:       1,
	}
	if st, ok := m.store.Status(id); ok && st.Answered {
		session.Answers[id] = st.UserAnswer
		session.Submitted[id] = true
		session.Flagged[id] = st.Flagged
	}
	return session, nil
}
