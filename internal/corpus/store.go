package corpus

import (
	"context"

	"view-aspects-go/internal/directus"
)

const segmentCollection = "conversation_segment"

// ItemReader is the store read used to fetch segments.
type ItemReader interface {
	GetItems(ctx context.Context, collection string, q directus.Query, out any) error
}

// StoreSource reads segments from the content store.
type StoreSource struct {
	Store ItemReader
}

func (s StoreSource) Segments(ctx context.Context, ids []string, mode Mode) ([]Record, error) {
	q := directus.Query{
		Filter: map[string]any{"id": map[string]any{"_in": ids}},
		Limit:  -1,
	}
	if mode == Strict {
		q.Filter["transcript"] = map[string]any{"_nnull": true}
		q.Fields = []string{"id", "contextual_transcript", "transcript"}
	} else {
		q.Fields = []string{"id", "transcript", "conversation_id.summary"}
	}
	var out []Record
	if err := s.Store.GetItems(ctx, segmentCollection, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}
