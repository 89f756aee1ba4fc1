// Package dataset reads segments from an .xlsx workbook for offline runs and
// writes finished views back out as workbooks.
package dataset

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"view-aspects-go/internal/corpus"
	"view-aspects-go/internal/logger"
)

// row is one segment as read from the sheet; empty cells are empty strings.
type row struct {
	id             int
	transcript     string
	contextual     string
	conversationID string
	summary        string
}

// Workbook is an in-memory segment source loaded from the first sheet.
type Workbook struct {
	rows  map[int]row
	order []int
	Stats Stats
}

type columns struct {
	id, transcript, contextual, conversation, summary int
}

// detectColumns maps header cells to fields. Headers are matched loosely;
// the contextual and conversation columns are checked before the plain ones
// they contain.
func detectColumns(header []string) (columns, error) {
	c := columns{id: -1, transcript: -1, contextual: -1, conversation: -1, summary: -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "contextual"):
			if c.contextual == -1 {
				c.contextual = i
			}
		case strings.Contains(l, "conversation") && !strings.Contains(l, "summary"):
			if c.conversation == -1 {
				c.conversation = i
			}
		case strings.Contains(l, "summary"):
			if c.summary == -1 {
				c.summary = i
			}
		case strings.Contains(l, "transcript") || l == "text":
			if c.transcript == -1 {
				c.transcript = i
			}
		case l == "id" || strings.Contains(l, "segment"):
			if c.id == -1 {
				c.id = i
			}
		}
	}
	if c.id == -1 {
		return c, fmt.Errorf("no id column in header %v", header)
	}
	if c.transcript == -1 {
		return c, fmt.Errorf("no transcript column in header %v", header)
	}
	return c, nil
}

func cell(r []string, idx int) string {
	if idx >= 0 && idx < len(r) {
		return strings.TrimSpace(r[idx])
	}
	return ""
}

// Open reads the first sheet of the workbook at path.
func Open(path string, log *logger.Logger) (*Workbook, error) {
	log = log.Component("dataset")
	entry := log.WithField("path", path)
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}
	cols, err := detectColumns(rows[0])
	if err != nil {
		return nil, err
	}
	entry.WithFields(logrus.Fields{
		"idIdx":           cols.id,
		"transcriptIdx":   cols.transcript,
		"contextualIdx":   cols.contextual,
		"conversationIdx": cols.conversation,
		"summaryIdx":      cols.summary,
	}).Info("detected segment column indices")

	wb := &Workbook{rows: make(map[int]row, len(rows)-1)}
	for i, r := range rows {
		if i == 0 {
			continue
		}
		id, err := strconv.Atoi(cell(r, cols.id))
		if err != nil {
			// rows without a numeric id are skipped quietly
			continue
		}
		if _, dup := wb.rows[id]; dup {
			continue
		}
		wb.rows[id] = row{
			id:             id,
			transcript:     cell(r, cols.transcript),
			contextual:     cell(r, cols.contextual),
			conversationID: cell(r, cols.conversation),
			summary:        cell(r, cols.summary),
		}
		wb.order = append(wb.order, id)
	}
	wb.Stats = summarize(wb)
	entry.WithFields(wb.Stats.Fields()).Info("dataset loaded")
	return wb, nil
}

// IDs returns every segment id in sheet order.
func (w *Workbook) IDs() []string {
	out := make([]string, len(w.order))
	for i, id := range w.order {
		out[i] = strconv.Itoa(id)
	}
	return out
}

// Segments returns the records for ids in sheet order, shaped like the
// content store's answer for the same mode.
func (w *Workbook) Segments(_ context.Context, ids []string, mode corpus.Mode) ([]corpus.Record, error) {
	want := make(map[int]bool, len(ids))
	for _, s := range ids {
		id, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("segment id %q: %w", s, err)
		}
		want[id] = true
	}
	var out []corpus.Record
	for _, id := range w.order {
		if !want[id] {
			continue
		}
		r := w.rows[id]
		switch mode {
		case corpus.Strict:
			if r.transcript == "" {
				continue
			}
			out = append(out, corpus.Record{"id": r.id, "transcript": r.transcript, "contextual_transcript": r.contextual})
		default:
			var conv any
			if r.summary != "" || r.conversationID != "" {
				conv = map[string]any{"summary": r.summary}
			}
			out = append(out, corpus.Record{"id": r.id, "transcript": r.transcript, "conversation_id": conv})
		}
	}
	return out, nil
}
