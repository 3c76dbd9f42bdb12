// Package report exports the per-topic performance aggregate as a
// spreadsheet.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/medprep/qbank/internal/progress"
)

const sheetName = "Performance"

// Row is one topic's line in the export.
type Row struct {
	Topic    string
	Correct  int
	Total    int
	Accuracy float64 // percent, 0 when nothing answered
}

// Rows orders the aggregate by topic name using an English collator, so
// the export is stable regardless of map iteration.
func Rows(perf map[string]progress.TopicPerf) []Row {
	topics := make([]string, 0, len(perf))
	for topic := range perf {
		topics = append(topics, topic)
	}
	collate.New(language.English).SortStrings(topics)

	rows := make([]Row, 0, len(topics))
	for _, topic := range topics {
		p := perf[topic]
		row := Row{Topic: topic, Correct: p.Correct, Total: p.Total}
		if p.Total > 0 {
			row.Accuracy = 100 * float64(p.Correct) / float64(p.Total)
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteXLSX renders the aggregate as an xlsx workbook with one sheet.
func WriteXLSX(w io.Writer, perf map[string]progress.TopicPerf) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	headers := []string{"Topic", "Correct", "Total", "Accuracy (%)"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, row := range Rows(perf) {
		values := []any{row.Topic, row.Correct, row.Total, row.Accuracy}
		for j, v := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("writing row %d: %w", i+1, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
