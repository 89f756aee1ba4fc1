package directus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"view-aspects-go/internal/types"
)

// CompletedEvent is recorded in processing_status once a view is stored.
const CompletedEvent = "runpod:topic_modeler.completed"

// Persist writes the view, its aspects and their segment references, then
// marks the run complete. Writes are not grouped; a failure part way leaves
// the earlier items in place.
func (c *Client) Persist(ctx context.Context, runID string, view *types.View) (string, error) {
	viewID := uuid.NewString()
	log := c.log.WithFields(logrus.Fields{"project_analysis_run_id": runID, "view_id": viewID})

	_, err := c.CreateItem(ctx, "view", map[string]any{
		"id":                      viewID,
		"name":                    view.Title,
		"description":             view.Description,
		"summary":                 view.Summary,
		"language":                view.Language,
		"processing_status":       "Generating Aspects",
		"processing_started_at":   time.Now().UTC().Format(time.RFC3339Nano),
		"project_analysis_run_id": runID,
		"user_input":              view.UserInput,
		"user_input_description":  view.UserInputDescription,
	})
	if err != nil {
		return "", err
	}

	for rank, aspect := range view.Aspects {
		aspectID := uuid.NewString()
		_, err := c.CreateItem(ctx, "aspect", map[string]any{
			"id":            aspectID,
			"name":          aspect.Title,
			"description":   aspect.Description,
			"short_summary": aspect.Description,
			"long_summary":  aspect.Summary,
			"image_url":     aspect.ImageURL,
			"view_id":       viewID,
			"rank":          rank,
		})
		if err != nil {
			return viewID, fmt.Errorf("aspect %d: %w", rank, err)
		}
		for _, seg := range aspect.Segments {
			_, err := c.CreateItem(ctx, "aspect_segment", map[string]any{
				"id":                  uuid.NewString(),
				"description":         seg.Description,
				"aspect":              aspectID,
				"segment":             strconv.Itoa(seg.ID),
				"conversation_id":     seg.ConversationID,
				"verbatim_transcript": seg.VerbatimTranscript,
				"relevant_index":      seg.RelevantIndex,
			})
			if err != nil {
				return viewID, fmt.Errorf("aspect %d segment %d: %w", rank, seg.ID, err)
			}
		}
	}

	_, err = c.CreateItem(ctx, "processing_status", map[string]any{
		"project_analysis_run_id": runID,
		"event":                   CompletedEvent,
		"message":                 "view_id: " + viewID,
	})
	if err != nil {
		return viewID, err
	}
	log.WithField("aspects", len(view.Aspects)).Info("view persisted")
	return viewID, nil
}
