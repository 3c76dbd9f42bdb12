package question

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/medprep/qbank/internal/taxonomy"
)

// The source markup is a collapsible block: a <details> element whose direct
// children carry the stem and the choices table, with the answer reveal
// nested inside a <ul class="toggle">. The heuristics below (letter-dot
// first cell, the boilerplate denylist, the Subject metadata phase) are
// behavioral contracts for that format, not incidentals.

var (
	choiceLetterRe   = regexp.MustCompile(`^[A-F]\.\s*$`)
	choicePctRe      = regexp.MustCompile(`\((\d+)%\)`)
	correctAnswerRe  = regexp.MustCompile(`(?i)Correct answer\s*([A-F])`)
	percentCorrectRe = regexp.MustCompile(`(?i)(\d+)%\s*Answered\s*correctly`)

	timeSpentRe = regexp.MustCompile(`(?i)^\d+\s*secs?\s*Time\s*Spent`)
	versionRe   = regexp.MustCompile(`(?i)Version$`)
	sparkleRe   = regexp.MustCompile(`^✨`)
	exhibitRe   = regexp.MustCompile(`(?i)Exhibit Display`)
	zoomRe      = regexp.MustCompile(`(?i)Zoom In|Zoom Out|Reset`)
	existingRe  = regexp.MustCompile(`(?i)^Existing`)
	zeroRe      = regexp.MustCompile(`^0$`)
	copyrightRe = regexp.MustCompile(`(?i)Copyright`)
)

// Normalizer parses raw question markup into Questions, falling back to the
// topic index for classification fields the markup does not carry.
type Normalizer struct {
	index *taxonomy.Index
}

// NewNormalizer creates a normalizer backed by the given topic index.
func NewNormalizer(index *taxonomy.Index) *Normalizer {
	return &Normalizer{index: index}
}

// Parse converts one raw document into a Question. Malformed-but-present
// content degrades (empty correctAnswer, empty choices) rather than failing;
// only a document with no collapsible block at all is ErrUnparseable.
func (n *Normalizer) Parse(raw []byte, id int) (*Question, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, ErrUnparseable
	}

	main := findElement(doc, "details", "")
	if main == nil {
		return nil, ErrUnparseable
	}

	toggle := findElement(main, "ul", "toggle")

	q := &Question{
		ID:                id,
		ChoicePercentages: map[string]int{},
	}

	var stemParts []string
	var choicesTable *html.Node

	for _, el := range elementChildren(main) {
		if el.Data == "summary" {
			continue
		}
		if el == toggle {
			break
		}

		if el.Data == "table" && choicesTable == nil {
			if cell := findElement(el, "td", ""); cell != nil && choiceLetterRe.MatchString(strings.TrimSpace(textContent(cell))) {
				choicesTable = el
				continue
			}
		}

		for _, img := range findAll(el, "img") {
			if src := attr(img, "src"); src != "" {
				q.StemImages = append(q.StemImages, src)
			}
		}
		stemParts = append(stemParts, outerHTML(el))
	}
	q.Stem = strings.Join(stemParts, "")
	q.Choices = parseChoices(choicesTable)

	if toggle != nil {
		if reveal := findElement(toggle, "details", ""); reveal != nil {
			n.parseReveal(reveal, q)
		}
	}

	// Classification falls back to the index when the markup is silent.
	loc := n.index.TopicFor(id)
	if q.Subject == "" {
		q.Subject = loc.Topic
	}
	if q.System == "" {
		q.System = loc.Topic
	}
	if q.Topic == "" {
		q.Topic = loc.Subtopic
	}

	return q, nil
}

func parseChoices(table *html.Node) []Choice {
	if table == nil {
		return nil
	}
	var choices []Choice
	for _, row := range findAll(table, "tr") {
		cells := findAll(row, "td")
		if len(cells) < 2 {
			continue
		}
		letter := strings.Replace(strings.TrimSpace(textContent(cells[0])), ".", "", 1)
		text := strings.TrimSpace(textContent(cells[1]))
		if letter != "" && text != "" {
			choices = append(choices, Choice{Letter: letter, Text: text})
		}
	}
	return choices
}

// parseReveal handles the nested answer block: the percentage table, the
// paragraph scan for answer/metadata/explanation, trailing tables, and
// explanation images.
func (n *Normalizer) parseReveal(reveal *html.Node, q *Question) {
	tables := findAll(reveal, "table")
	if len(tables) > 0 {
		for _, row := range findAll(tables[0], "tr") {
			cells := findAll(row, "td")
			if len(cells) < 2 {
				continue
			}
			letter := strings.Replace(strings.TrimSpace(textContent(cells[0])), ".", "", 1)
			if m := choicePctRe.FindStringSubmatch(strings.TrimSpace(textContent(cells[1]))); m != nil {
				pct, _ := strconv.Atoi(m[1])
				q.ChoicePercentages[letter] = pct
			}
		}
	}

	paragraphs := findAll(reveal, "p")
	texts := make([]string, len(paragraphs))
	for i, p := range paragraphs {
		texts[i] = strings.TrimSpace(textContent(p))
	}

	var explanationParts []string
	var objective string
	metadata := false

	for i, t := range texts {
		if m := correctAnswerRe.FindStringSubmatch(t); m != nil {
			q.CorrectAnswer = strings.ToUpper(m[1])
			continue
		}
		if m := percentCorrectRe.FindStringSubmatch(t); m != nil {
			q.PercentCorrect, _ = strconv.Atoi(m[1])
			continue
		}
		if skipBoilerplate(t) {
			continue
		}

		if t == "Educational objective:" {
			if i+1 < len(paragraphs) {
				objective = innerHTML(paragraphs[i+1])
			}
			continue
		}

		if t == "Subject" {
			metadata = true
			continue
		}
		if t == "System" || t == "Topic" {
			continue
		}

		if metadata {
			switch {
			case q.Subject == "":
				q.Subject = t
			case q.System == "":
				q.System = t
			case q.Topic == "":
				q.Topic = t
			}
			continue
		}

		// Everything after the objective block is chrome, not explanation.
		if objective != "" {
			continue
		}

		explanationParts = append(explanationParts, innerHTML(paragraphs[i]))
	}

	var b strings.Builder
	for _, tbl := range tables[min(1, len(tables)):] {
		b.WriteString(outerHTML(tbl))
	}
	for _, part := range explanationParts {
		b.WriteString("<p>")
		b.WriteString(part)
		b.WriteString("</p>")
	}
	if objective != "" {
		b.WriteString(`<div class="edu-objective"><strong>Educational Objective</strong>`)
		b.WriteString(objective)
		b.WriteString(`</div>`)
	}
	q.Explanation = b.String()

	stemSet := make(map[string]bool, len(q.StemImages))
	for _, src := range q.StemImages {
		stemSet[src] = true
	}
	for _, img := range findAll(reveal, "img") {
		if src := attr(img, "src"); src != "" && !stemSet[src] {
			q.ExplanationImages = append(q.ExplanationImages, src)
		}
	}
}

// skipBoilerplate reports whether a paragraph is UI chrome rather than
// content. The denylist is part of the parsing contract.
func skipBoilerplate(t string) bool {
	switch t {
	case "", "Incorrect", "Correct", "Explanation",
		"My Notebook", "Flashcards", "Feedback",
		"Suspend", "End Block":
		return true
	}
	return timeSpentRe.MatchString(t) ||
		versionRe.MatchString(t) ||
		sparkleRe.MatchString(t) ||
		exhibitRe.MatchString(t) ||
		zoomRe.MatchString(t) ||
		existingRe.MatchString(t) ||
		zeroRe.MatchString(t) ||
		copyrightRe.MatchString(t)
}
