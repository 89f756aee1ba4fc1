// Package corpus loads transcript segments and derives the documents topic
// discovery works on.
package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/types"
)

// Mode selects the store query and the record contract.
type Mode int

const (
	// Strict loads segments with a non-null transcript together with their
	// contextual transcript.
	Strict Mode = iota
	// Lenient loads every requested segment with its conversation summary.
	Lenient
)

func (m Mode) String() string {
	if m == Lenient {
		return "lenient"
	}
	return "strict"
}

// Record is one segment as returned by a Source. Conversation summaries are
// nested as {"conversation_id": {"summary": ...}}.
type Record map[string]any

// Source returns the raw segment records for ids.
type Source interface {
	Segments(ctx context.Context, ids []string, mode Mode) ([]Record, error)
}

// MissingFieldError is a data contract violation in a loaded record. It is
// never retried.
type MissingFieldError struct {
	SegmentID string
	Field     string
}

func (e *MissingFieldError) Error() string {
	if e.SegmentID == "" {
		return fmt.Sprintf("segment record is missing %q", e.Field)
	}
	return fmt.Sprintf("segment %s is missing %q", e.SegmentID, e.Field)
}

type Loader struct {
	src Source
	log *logger.Logger
}

func NewLoader(src Source, log *logger.Logger) *Loader {
	return &Loader{src: src, log: log.Component("corpus")}
}

// Load fetches the segments and builds the corpus.
func (l *Loader) Load(ctx context.Context, ids []string, mode Mode) (*types.Corpus, error) {
	records, err := l.src.Segments(ctx, ids, mode)
	if err != nil {
		return nil, fmt.Errorf("load segments: %w", err)
	}
	c, err := Build(records, mode)
	if err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{
		"mode":      mode.String(),
		"requested": len(ids),
		"segments":  len(records),
		"documents": len(c.Documents),
	}).Info("corpus loaded")
	return c, nil
}

// Build derives the corpus from raw records in record order.
func Build(records []Record, mode Mode) (*types.Corpus, error) {
	c := &types.Corpus{Transcripts: make(map[int]string, len(records))}
	seen := make(map[types.SegmentSummary]bool)

	for _, rec := range records {
		rawID, ok := rec["id"]
		if !ok || rawID == nil {
			return nil, &MissingFieldError{Field: "id"}
		}
		id, err := toInt(rawID)
		if err != nil {
			return nil, fmt.Errorf("segment id %v: %w", rawID, err)
		}
		label := strconv.Itoa(id)

		transcript, ok := rec["transcript"]
		if !ok || (mode == Strict && transcript == nil) {
			return nil, &MissingFieldError{SegmentID: label, Field: "transcript"}
		}
		c.Transcripts[id] = toString(transcript)

		switch mode {
		case Strict:
			contextual, ok := rec["contextual_transcript"]
			if !ok {
				return nil, &MissingFieldError{SegmentID: label, Field: "contextual_transcript"}
			}
			text := toString(contextual)
			c.RawIDs = append(c.RawIDs, id)
			c.RawTexts = append(c.RawTexts, text)
			c.Documents = append(c.Documents, splitDocuments(text)...)
		case Lenient:
			summary := conversationSummary(rec)
			if summary == "" {
				continue
			}
			pair := types.SegmentSummary{SegmentID: id, Summary: summary}
			if !seen[pair] {
				seen[pair] = true
				c.Summaries = append(c.Summaries, pair)
			}
		}
	}
	return c, nil
}

// splitDocuments splits a contextual transcript on line boundaries, dropping
// blank lines.
func splitDocuments(text string) []string {
	if text == "" {
		return nil
	}
	var docs []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		docs = append(docs, line)
	}
	return docs
}

func conversationSummary(rec Record) string {
	conv, ok := rec["conversation_id"].(map[string]any)
	if !ok {
		return ""
	}
	return strings.TrimSpace(toString(conv["summary"]))
}

func toInt(v any) (int, error) {
	switch id := v.(type) {
	case int:
		return id, nil
	case int64:
		return int(id), nil
	case float64:
		return int(id), nil
	case json.Number:
		n, err := id.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(strings.TrimSpace(id))
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
