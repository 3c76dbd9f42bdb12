// Package question turns raw question markup into a normalized model.
package question

import "errors"

// Choice is one answer option.
type Choice struct {
	Letter string `json:"letter"`
	Text   string `json:"text"`
}

// Question is the canonical parsed form of one question asset. Immutable
// once parsed; cached for the process lifetime by the Resolver.
type Question struct {
	ID                int            `json:"id"`
	Stem              string         `json:"stem"` // rich content fragment
	StemImages        []string       `json:"stemImages"`
	Choices           []Choice       `json:"choices"`
	CorrectAnswer     string         `json:"correctAnswer"` // single letter, empty if unparseable
	PercentCorrect    int            `json:"percentCorrect"`
	ChoicePercentages map[string]int `json:"choicePercentages"`
	Explanation       string         `json:"explanation"`
	ExplanationImages []string       `json:"explanationImages"`
	Subject           string         `json:"subject"`
	System            string         `json:"system"`
	Topic             string         `json:"topic"`
}

// ErrNotFound is returned when no asset exists for a question id.
var ErrNotFound = errors.New("question not found")

// ErrUnparseable is returned when an asset exists but carries no
// recognizable question block.
var ErrUnparseable = errors.New("question markup unparseable")
