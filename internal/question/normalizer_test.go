package question_test

import (
	"strings"
	"testing"

	"github.com/medprep/qbank/internal/question"
	"github.com/medprep/qbank/internal/taxonomy"
)

func testIndex() *taxonomy.Index {
	return taxonomy.New([]taxonomy.Topic{
		{
			Name: "Cardiology",
			Subtopics: []taxonomy.Subtopic{
				{Name: "Arrhythmias", IDs: []int{101, 102}},
			},
		},
	})
}

const fullQuestionHTML = `<html><body>
<details>
  <summary>Question 101</summary>
  <p>A 67-year-old man presents with palpitations.</p>
  <p><img src="img/ecg-101.png"> The ECG is shown above.</p>
  <table>
    <tr><td>A.</td><td>Atrial fibrillation</td></tr>
    <tr><td>B.</td><td>Atrial flutter</td></tr>
    <tr><td>C.</td><td>Ventricular tachycardia</td></tr>
    <tr><td></td><td>orphan row</td></tr>
    <tr><td>D.</td><td>Sinus tachycardia</td></tr>
  </table>
  <ul class="toggle">
    <li>
      <details>
        <summary>Show answer</summary>
        <table>
          <tr><td>A.</td><td>Atrial fibrillation (62%)</td></tr>
          <tr><td>B.</td><td>Atrial flutter (21%)</td></tr>
          <tr><td>C.</td><td>Ventricular tachycardia (9%)</td></tr>
          <tr><td>D.</td><td>Sinus tachycardia (8%)</td></tr>
        </table>
        <p>Correct answer A</p>
        <p>62% Answered correctly</p>
        <p>12 secs Time Spent</p>
        <p>Explanation</p>
        <p>Irregularly irregular rhythm without discrete P waves is diagnostic.</p>
        <p><img src="img/explain-101.png">Rate control is first-line in most patients.</p>
        <p>Educational objective:</p>
        <p>Recognize atrial fibrillation on ECG.</p>
        <p>My Notebook</p>
        <p>Suspend</p>
        <p>Subject</p>
        <p>Internal Medicine</p>
        <p>Cardiovascular</p>
        <p>Supraventricular arrhythmias</p>
        <p>Copyright 2024</p>
        <table>
          <tr><td>AF</td><td>irregular</td></tr>
        </table>
      </details>
    </li>
  </ul>
</details>
</body></html>`

func TestParse_FullDocument(t *testing.T) {
	n := question.NewNormalizer(testIndex())

	q, err := n.Parse([]byte(fullQuestionHTML), 101)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !strings.Contains(q.Stem, "palpitations") {
		t.Errorf("Stem missing narrative: %q", q.Stem)
	}
	if strings.Contains(q.Stem, "Atrial fibrillation</td>") {
		t.Error("Stem should not contain the choices table")
	}
	if strings.Contains(q.Stem, "Question 101") {
		t.Error("Stem should not contain the summary")
	}

	if len(q.StemImages) != 1 || q.StemImages[0] != "img/ecg-101.png" {
		t.Errorf("StemImages = %v", q.StemImages)
	}

	// The orphan row (empty letter) is skipped.
	if len(q.Choices) != 4 {
		t.Fatalf("Choices len = %d, want 4: %v", len(q.Choices), q.Choices)
	}
	if q.Choices[0].Letter != "A" || q.Choices[0].Text != "Atrial fibrillation" {
		t.Errorf("Choices[0] = %+v", q.Choices[0])
	}
	if q.Choices[3].Letter != "D" {
		t.Errorf("Choices[3] = %+v", q.Choices[3])
	}

	if q.CorrectAnswer != "A" {
		t.Errorf("CorrectAnswer = %q, want A", q.CorrectAnswer)
	}
	if q.PercentCorrect != 62 {
		t.Errorf("PercentCorrect = %d, want 62", q.PercentCorrect)
	}
	if q.ChoicePercentages["B"] != 21 || q.ChoicePercentages["D"] != 8 {
		t.Errorf("ChoicePercentages = %v", q.ChoicePercentages)
	}

	if q.Subject != "Internal Medicine" {
		t.Errorf("Subject = %q", q.Subject)
	}
	if q.System != "Cardiovascular" {
		t.Errorf("System = %q", q.System)
	}
	if q.Topic != "Supraventricular arrhythmias" {
		t.Errorf("Topic = %q", q.Topic)
	}

	if !strings.Contains(q.Explanation, "Irregularly irregular") {
		t.Errorf("Explanation missing content: %q", q.Explanation)
	}
	if !strings.Contains(q.Explanation, "Educational Objective") ||
		!strings.Contains(q.Explanation, "Recognize atrial fibrillation") {
		t.Errorf("Explanation missing objective block: %q", q.Explanation)
	}
	// Secondary tables belong to the explanation, the percentage table does not.
	if !strings.Contains(q.Explanation, "irregular</td>") {
		t.Errorf("Explanation missing secondary table: %q", q.Explanation)
	}
	if strings.Contains(q.Explanation, "(62%)") {
		t.Error("Explanation should not contain the percentage table")
	}
	// Boilerplate lines never leak into the explanation.
	for _, chrome := range []string{"Time Spent", "My Notebook", "Suspend", "Copyright"} {
		if strings.Contains(q.Explanation, chrome) {
			t.Errorf("Explanation contains boilerplate %q", chrome)
		}
	}

	if len(q.ExplanationImages) != 1 || q.ExplanationImages[0] != "img/explain-101.png" {
		t.Errorf("ExplanationImages = %v", q.ExplanationImages)
	}
}

func TestParse_NoCollapsibleBlock(t *testing.T) {
	n := question.NewNormalizer(testIndex())

	_, err := n.Parse([]byte(`<html><body><p>nothing here</p></body></html>`), 101)
	if err != question.ErrUnparseable {
		t.Errorf("Parse() error = %v, want ErrUnparseable", err)
	}
}

func TestParse_DegradesGracefully(t *testing.T) {
	n := question.NewNormalizer(testIndex())

	// Present but malformed: no choices table, no reveal block.
	q, err := n.Parse([]byte(`<details><summary>q</summary><p>stem only</p></details>`), 101)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if q.CorrectAnswer != "" {
		t.Errorf("CorrectAnswer = %q, want empty", q.CorrectAnswer)
	}
	if len(q.Choices) != 0 {
		t.Errorf("Choices = %v, want empty", q.Choices)
	}
	if !strings.Contains(q.Stem, "stem only") {
		t.Errorf("Stem = %q", q.Stem)
	}
}

func TestParse_ClassificationFallsBackToIndex(t *testing.T) {
	n := question.NewNormalizer(testIndex())

	q, err := n.Parse([]byte(`<details><p>stem</p></details>`), 101)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if q.Subject != "Cardiology" || q.System != "Cardiology" {
		t.Errorf("Subject/System = %q/%q, want Cardiology", q.Subject, q.System)
	}
	if q.Topic != "Arrhythmias" {
		t.Errorf("Topic = %q, want Arrhythmias", q.Topic)
	}
}

func TestParse_UnindexedIDGetsUnknown(t *testing.T) {
	n := question.NewNormalizer(testIndex())

	q, err := n.Parse([]byte(`<details><p>stem</p></details>`), 999)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if q.Subject != "Unknown" || q.Topic != "Unknown" {
		t.Errorf("Subject/Topic = %q/%q, want Unknown", q.Subject, q.Topic)
	}
}

func TestParse_StemTableWithoutLetterCellStays(t *testing.T) {
	n := question.NewNormalizer(testIndex())

	// A data table in the stem (first cell not "<letter>.") keeps its
	// stem role; only the letter-cell table becomes the choices.
	doc := `<details>
		<table><tr><td>Hemoglobin</td><td>9.1</td></tr></table>
		<table><tr><td>A.</td><td>Iron deficiency</td></tr></table>
	</details>`
	q, err := n.Parse([]byte(doc), 101)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !strings.Contains(q.Stem, "Hemoglobin") {
		t.Errorf("Stem should keep the data table: %q", q.Stem)
	}
	if len(q.Choices) != 1 || q.Choices[0].Letter != "A" {
		t.Errorf("Choices = %v", q.Choices)
	}
}
