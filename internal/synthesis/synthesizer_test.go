package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"view-aspects-go/internal/llm"
	"view-aspects-go/internal/llm/llmtest"
	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/prompts"
	"view-aspects-go/internal/types"
)

type fakeRAG struct {
	mu      sync.Mutex
	queries []string
	ids     []string
	err     error
}

func (f *fakeRAG) FetchContext(_ context.Context, query string, ids []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.ids = ids
	if f.err != nil {
		return "", f.err
	}
	return "RAG CONTEXT SEGMENT_ID_1", nil
}

type fakeImages struct {
	url string
}

func (f fakeImages) Illustrate(_ context.Context, title, _ string) string {
	if f.url == "" {
		return ""
	}
	return f.url + "/" + title
}

// reportFor echoes the topic named in the user prompt as the title.
func reportFor(refs ...types.SegmentReference) func(llmtest.Call) (any, error) {
	return func(call llmtest.Call) (any, error) {
		user := call.UserText()
		topic := strings.TrimSpace(strings.SplitN(strings.SplitN(user, "## Aspect\n", 2)[1], "\n", 2)[0])
		return llm.AspectReport{Title: topic, Description: "d " + topic, Summary: "s " + topic, Segments: refs}, nil
	}
}

func request() Request {
	return Request{
		UserPrompt:  "what matters?",
		Language:    "en",
		SegmentIDs:  []string{"1", "2", "3"},
		Transcripts: map[int]string{1: "a", 2: "bb", 3: "ccc"},
	}
}

func TestFromRAG(t *testing.T) {
	fake := &llmtest.Fake{Respond: reportFor(
		types.SegmentReference{SegmentID: 2, Description: "cited"},
		types.SegmentReference{SegmentID: 99, Description: "unknown"},
	)}
	rag := &fakeRAG{}
	s := New(fake, rag, fakeImages{url: "https://img"}, prompts.Default(), 1, nil, logger.Discard())

	aspects, err := s.FromRAG(context.Background(), []string{"Pricing", "Support"}, request())
	require.NoError(t, err)
	require.Len(t, aspects, 2)

	assert.Equal(t, "Pricing", aspects[0].Title)
	assert.Equal(t, "Pricing", aspects[0].Topic)
	assert.Equal(t, "https://img/Pricing", aspects[0].ImageURL)
	assert.Equal(t, []types.AspectSegment{{
		ID: 2, Description: "cited", VerbatimTranscript: "bb", RelevantIndex: "0:1",
	}}, aspects[0].Segments)
	assert.Equal(t, "Support", aspects[1].Title)

	assert.Equal(t, []string{"1", "2", "3"}, rag.ids)
	require.Len(t, rag.queries, 2)
	assert.Contains(t, rag.queries[0], "Pricing")

	for _, call := range fake.Calls() {
		assert.Equal(t, llm.Large, call.Size)
		assert.Equal(t, "AspectReport", call.Schema)
		assert.True(t, call.Contains("RAG CONTEXT SEGMENT_ID_1"))
	}
}

func TestFromRAGContextFailureAborts(t *testing.T) {
	rag := &fakeRAG{err: errors.New("rag down")}
	s := New(&llmtest.Fake{Respond: reportFor()}, rag, nil, prompts.Default(), 2, nil, logger.Discard())

	_, err := s.FromRAG(context.Background(), []string{"Pricing"}, request())
	var ce *ContextError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Pricing", ce.Topic)

	_, err = New(&llmtest.Fake{}, nil, nil, prompts.Default(), 1, nil, logger.Discard()).FromRAG(context.Background(), []string{"x"}, request())
	assert.ErrorAs(t, err, &ce)
}

func TestFromSummariesStubsFailedTopic(t *testing.T) {
	fake := &llmtest.Fake{Respond: func(call llmtest.Call) (any, error) {
		if call.Contains("## Aspect\nX\n") {
			return nil, errors.New("model refused")
		}
		return reportFor()(call)
	}}
	s := New(fake, nil, fakeImages{}, prompts.Default(), 1, nil, logger.Discard())

	aspects := s.FromSummaries(context.Background(), []string{"A", "X", "B"}, "SEGMENT_ID_1: summary", request())
	require.Len(t, aspects, 3)
	assert.Equal(t, "A", aspects[0].Title)
	assert.Equal(t, "B", aspects[2].Title)
	assert.Equal(t, types.Aspect{
		Title:       "X",
		Description: "Error processing aspect: model refused",
		Summary:     "Unable to generate summary due to processing error",
		Segments:    []types.AspectSegment{},
		Topic:       "X",
	}, aspects[1])

	for _, call := range fake.Calls() {
		assert.Equal(t, llm.Small, call.Size)
		assert.True(t, call.Contains("SEGMENT_ID_1: summary"))
	}
}

func TestFromRAGDropsFailedTopic(t *testing.T) {
	fake := &llmtest.Fake{Respond: func(call llmtest.Call) (any, error) {
		if call.Contains("## Aspect\nX\n") {
			return nil, errors.New("large model down")
		}
		return reportFor()(call)
	}}
	s := New(fake, &fakeRAG{}, fakeImages{url: "https://img"}, prompts.Default(), 2, nil, logger.Discard())

	aspects, err := s.FromRAG(context.Background(), []string{"A", "X", "B"}, request())
	require.NoError(t, err)
	require.Len(t, aspects, 2)
	assert.Equal(t, "A", aspects[0].Topic)
	assert.Equal(t, "B", aspects[1].Topic)

	all := &llmtest.Fake{Respond: func(llmtest.Call) (any, error) { return nil, errors.New("large model down") }}
	aspects, err = New(all, &fakeRAG{}, nil, prompts.Default(), 1, nil, logger.Discard()).FromRAG(context.Background(), []string{"A", "B"}, request())
	require.NoError(t, err)
	assert.Empty(t, aspects)
}

func TestFromSummariesIllustratesStub(t *testing.T) {
	fake := &llmtest.Fake{Respond: func(llmtest.Call) (any, error) { return nil, errors.New("model refused") }}
	s := New(fake, nil, fakeImages{url: "https://img"}, prompts.Default(), 1, nil, logger.Discard())

	aspects := s.FromSummaries(context.Background(), []string{"X"}, "", request())
	require.Len(t, aspects, 1)
	assert.Equal(t, "Error processing aspect: model refused", aspects[0].Description)
	assert.Equal(t, "https://img/X", aspects[0].ImageURL)
}

func TestStubIsStableUnderRepeatedFailure(t *testing.T) {
	fake := &llmtest.Fake{Respond: func(llmtest.Call) (any, error) { return nil, errors.New("again") }}
	s := New(fake, nil, nil, prompts.Default(), 1, nil, logger.Discard())
	for i := 0; i < 3; i++ {
		aspects := s.FromSummaries(context.Background(), []string{"Topic"}, "", request())
		require.Len(t, aspects, 1)
		a := aspects[0]
		assert.Equal(t, "Topic", a.Title)
		assert.NotEmpty(t, a.Description)
		assert.NotEmpty(t, a.Summary)
		assert.NotNil(t, a.Segments)
		assert.Empty(t, a.Segments)
	}
}

func TestOrderPreservedUnderConcurrency(t *testing.T) {
	var inflight, peak int32
	fake := &llmtest.Fake{Respond: func(call llmtest.Call) (any, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return reportFor()(call)
	}}
	s := New(fake, &fakeRAG{}, nil, prompts.Default(), 3, nil, logger.Discard())

	topics := make([]string, 12)
	for i := range topics {
		topics[i] = fmt.Sprintf("T%02d", i)
	}
	aspects, err := s.FromRAG(context.Background(), topics, request())
	require.NoError(t, err)
	for i, a := range aspects {
		assert.Equal(t, topics[i], a.Topic)
		assert.Equal(t, topics[i], a.Title)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestReconcile(t *testing.T) {
	transcripts := map[int]string{1: "hello", 2: ""}
	got := Reconcile([]types.SegmentReference{
		{SegmentID: 1, Description: "a"},
		{SegmentID: 7, Description: "gone"},
		{SegmentID: 2, Description: "empty"},
	}, transcripts)

	require.Len(t, got, 2)
	assert.Equal(t, "0:4", got[0].RelevantIndex)
	assert.Equal(t, "hello", got[0].VerbatimTranscript)
	assert.Equal(t, "", got[0].ConversationID)
	assert.Equal(t, "0:-1", got[1].RelevantIndex)
	for _, s := range got {
		_, known := transcripts[s.ID]
		assert.True(t, known)
	}
	assert.Empty(t, Reconcile(nil, transcripts))
}
