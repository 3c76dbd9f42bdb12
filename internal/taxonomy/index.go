// Package taxonomy holds the static topic → subtopic → question-id index.
package taxonomy

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Subtopic is a named list of question ids within a topic.
type Subtopic struct {
	Name string `yaml:"name"`
	IDs  []int  `yaml:"ids"`
}

// Topic groups subtopics under a subject heading.
type Topic struct {
	Name      string     `yaml:"topic"`
	Subtopics []Subtopic `yaml:"subtopics"`
}

// Location names the (topic, subtopic) pair a question id belongs to.
type Location struct {
	Topic    string
	Subtopic string
}

// Unknown is returned by TopicFor when an id appears nowhere in the index.
var Unknown = Location{Topic: "Unknown", Subtopic: "Unknown"}

// Index is the read-only topic taxonomy. The file is a list rather than a
// map so traversal order is the file order.
type Index struct {
	topics []Topic
}

// New builds an index from already-decoded topics. Used by tests.
func New(topics []Topic) *Index {
	return &Index{topics: topics}
}

// Load reads the topic index from a YAML file.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topic index: %w", err)
	}

	var topics []Topic
	if err := yaml.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("decoding topic index: %w", err)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("topic index %s is empty", path)
	}

	idx := New(topics)
	slog.Info("topic index loaded", "topics", len(topics), "questions", len(idx.AllIDs()))
	return idx, nil
}

// Topics returns topic names in traversal order.
func (x *Index) Topics() []string {
	names := make([]string, 0, len(x.topics))
	for _, t := range x.topics {
		names = append(names, t.Name)
	}
	return names
}

// Subtopics returns subtopic names for a topic in traversal order,
// or nil for an unknown topic.
func (x *Index) Subtopics(topic string) []string {
	for _, t := range x.topics {
		if t.Name != topic {
			continue
		}
		names := make([]string, 0, len(t.Subtopics))
		for _, s := range t.Subtopics {
			names = append(names, s.Name)
		}
		return names
	}
	return nil
}

// AllIDs returns every question id exactly once, in traversal order.
func (x *Index) AllIDs() []int {
	seen := make(map[int]bool)
	var ids []int
	for _, t := range x.topics {
		for _, s := range t.Subtopics {
			for _, id := range s.IDs {
				if seen[id] {
					continue
				}
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// TopicFor returns the first (topic, subtopic) pair containing the id in
// traversal order, or Unknown.
func (x *Index) TopicFor(id int) Location {
	for _, t := range x.topics {
		for _, s := range t.Subtopics {
			for _, candidate := range s.IDs {
				if candidate == id {
					return Location{Topic: t.Name, Subtopic: s.Name}
				}
			}
		}
	}
	return Unknown
}

// CountFor returns the number of question slots under a topic. Ids listed
// in more than one subtopic count once per listing.
func (x *Index) CountFor(topic string) int {
	for _, t := range x.topics {
		if t.Name != topic {
			continue
		}
		n := 0
		for _, s := range t.Subtopics {
			n += len(s.IDs)
		}
		return n
	}
	return 0
}

// IDsFor returns the raw id list for a (topic, subtopic) pair, or nil.
func (x *Index) IDsFor(topic, subtopic string) []int {
	for _, t := range x.topics {
		if t.Name != topic {
			continue
		}
		for _, s := range t.Subtopics {
			if s.Name == subtopic {
				return s.IDs
			}
		}
	}
	return nil
}
