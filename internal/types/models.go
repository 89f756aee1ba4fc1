package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Segment is a transcript unit as stored in conversation_segment.
type Segment struct {
	ID                   int    `json:"id"`
	Transcript           string `json:"transcript"`
	ContextualTranscript string `json:"contextual_transcript,omitempty"`
	ConversationID       string `json:"conversation_id,omitempty"`
	ConversationSummary  string `json:"conversation_summary,omitempty"`
}

// Corpus is everything the pipelines derive from the loaded segments.
type Corpus struct {
	// Transcripts maps segment id to verbatim transcript.
	Transcripts map[int]string
	// Documents are contextual transcripts split on line boundaries.
	Documents []string
	// RawTexts holds one contextual transcript per segment, parallel to RawIDs.
	RawTexts []string
	RawIDs   []int
	// Summaries holds (segment id, conversation summary) pairs for the
	// fallback pipeline, in load order.
	Summaries []SegmentSummary
}

type SegmentSummary struct {
	SegmentID int
	Summary   string
}

// SegmentMarker is how segment text is tagged so the model can cite it.
func SegmentMarker(id int) string {
	return fmt.Sprintf("SEGMENT_ID_%d", id)
}

// SegmentReference is what the model cites inside an aspect.
type SegmentReference struct {
	SegmentID   int    `json:"segment_id"`
	Description string `json:"description"`
}

// AspectSegment is a reconciled reference carrying the stored transcript.
type AspectSegment struct {
	ID                 int    `json:"id"`
	Description        string `json:"description"`
	ConversationID     string `json:"conversation_id"`
	VerbatimTranscript string `json:"verbatim_transcript"`
	RelevantIndex      string `json:"relevant_index"`
}

type Aspect struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Summary     string          `json:"summary"`
	Segments    []AspectSegment `json:"segments"`
	ImageURL    string          `json:"image_url"`
	// Topic is the discovered topic the aspect was synthesized for.
	Topic string `json:"-"`
}

// Text is the block fed to the view summarizer.
func (a Aspect) Text() string {
	return strings.Join([]string{a.Title, a.Description, a.Summary}, "\n")
}

type View struct {
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Summary              string   `json:"summary"`
	Aspects              []Aspect `json:"aspects"`
	Seed                 string   `json:"seed"`
	Language             string   `json:"language"`
	UserInput            string   `json:"user_input"`
	UserInputDescription string   `json:"user_input_description"`
}

// Job is the invocation input.
type Job struct {
	SegmentIDs           SegmentIDs `json:"segment_ids" validate:"required,min=1,dive,required"`
	UserPrompt           string     `json:"user_prompt" validate:"required"`
	ResponseLanguage     string     `json:"response_language"`
	ProjectAnalysisRunID string     `json:"project_analysis_run_id" validate:"required"`
	RunFallback          bool       `json:"run_fallback,omitempty"`
	UserInput            string     `json:"user_input,omitempty"`
	UserInputDescription string     `json:"user_input_description,omitempty"`
}

// SegmentIDs decodes a JSON array of string or numeric ids into strings.
type SegmentIDs []string

func (s *SegmentIDs) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = nil
		return nil
	}
	ids := make(SegmentIDs, 0, len(raw))
	for _, r := range raw {
		var id string
		if err := json.Unmarshal(r, &id); err == nil {
			ids = append(ids, id)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return fmt.Errorf("segment id %s: not a string or number", r)
		}
		ids = append(ids, n.String())
	}
	*s = ids
	return nil
}

// Language returns the response language, defaulting to English.
func (j Job) Language() string {
	if strings.TrimSpace(j.ResponseLanguage) == "" {
		return "en"
	}
	return j.ResponseLanguage
}

type Result struct {
	View       *View  `json:"view,omitempty"`
	ViewID     string `json:"view_id,omitempty"`
	Pipeline   string `json:"pipeline,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}
