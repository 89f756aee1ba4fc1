//go:build integration

package events

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"view-aspects-go/internal/logger"
)

func TestIntegration_PublishCompleted(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	client, err := NewClient(url, os.Getenv("NATS_TOKEN"), logger.Discard())
	require.NoError(t, err)
	defer client.Close()

	received := make(chan Completed, 1)
	sub, err := client.conn.Subscribe(SubjectCompleted, func(msg *nats.Msg) {
		var c Completed
		if json.Unmarshal(msg.Data, &c) == nil {
			received <- c
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, client.conn.Flush())

	require.NoError(t, client.Publish(SubjectCompleted, Completed{ViewID: "v-1", Pipeline: "primary"}))

	select {
	case c := <-received:
		assert.Equal(t, "v-1", c.ViewID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
