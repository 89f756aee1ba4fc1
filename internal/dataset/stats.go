package dataset

import "github.com/sirupsen/logrus"

// Stats is a compact description of a loaded workbook.
type Stats struct {
	Segments       int `json:"segments"`
	WithTranscript int `json:"with_transcript"`
	WithContext    int `json:"with_contextual_transcript"`
	WithSummary    int `json:"with_summary"`
	Conversations  int `json:"conversations"`
}

func (s Stats) Fields() logrus.Fields {
	return logrus.Fields{
		"segments":        s.Segments,
		"with_transcript": s.WithTranscript,
		"with_context":    s.WithContext,
		"with_summary":    s.WithSummary,
		"conversations":   s.Conversations,
	}
}

func summarize(w *Workbook) Stats {
	s := Stats{Segments: len(w.order)}
	conversations := map[string]bool{}
	for _, id := range w.order {
		r := w.rows[id]
		if r.transcript != "" {
			s.WithTranscript++
		}
		if r.contextual != "" {
			s.WithContext++
		}
		if r.summary != "" {
			s.WithSummary++
		}
		if r.conversationID != "" {
			conversations[r.conversationID] = true
		}
	}
	s.Conversations = len(conversations)
	return s
}
