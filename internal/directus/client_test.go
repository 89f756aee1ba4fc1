package directus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/retry"
	"view-aspects-go/internal/types"
)

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 1}
}

// fakeStore records created items and serves login plus one items query.
type fakeStore struct {
	mu      sync.Mutex
	logins  int32
	created []created
	items   []map[string]any
	query   map[string]string
}

type created struct {
	Collection string
	Data       map[string]any
}

func (f *fakeStore) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth/login":
			atomic.AddInt32(&f.logins, 1)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "me@example.com", body["email"])
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"access_token": "tok"}})
		case r.Header.Get("Authorization") != "Bearer tok":
			w.WriteHeader(http.StatusUnauthorized)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/items/"):
			f.mu.Lock()
			f.query = map[string]string{
				"filter": r.URL.Query().Get("filter"),
				"fields": r.URL.Query().Get("fields"),
				"limit":  r.URL.Query().Get("limit"),
			}
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"data": f.items})
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/items/"):
			var data map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&data))
			f.mu.Lock()
			f.created = append(f.created, created{Collection: strings.TrimPrefix(r.URL.Path, "/items/"), Data: data})
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"data": data})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, Email: "me@example.com", Password: "pw"}, testPolicy(), logger.Discard())
}

func TestGetItemsSendsQueryAndReusesToken(t *testing.T) {
	store := &fakeStore{items: []map[string]any{{"id": 1, "transcript": "a"}}}
	server := httptest.NewServer(store.handler(t))
	defer server.Close()

	c := newTestClient(server.URL)
	q := Query{
		Filter: map[string]any{"id": map[string]any{"_in": []string{"1"}}},
		Fields: []string{"id", "transcript"},
		Limit:  -1,
	}
	var out []map[string]any
	require.NoError(t, c.GetItems(context.Background(), "conversation_segment", q, &out))
	require.NoError(t, c.GetItems(context.Background(), "conversation_segment", q, &out))

	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0]["transcript"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.logins))
	assert.JSONEq(t, `{"id":{"_in":["1"]}}`, store.query["filter"])
	assert.Equal(t, "id,transcript", store.query["fields"])
	assert.Equal(t, "-1", store.query["limit"])
}

func TestUnauthorizedRefreshesToken(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"access_token": "tok"}})
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "x"}})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	got, err := c.CreateItem(context.Background(), "view", map[string]any{"name": "v"})
	require.NoError(t, err)
	assert.Equal(t, "x", got["id"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientErrorIsPermanent(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"access_token": "tok"}})
			return
		}
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CreateItem(context.Background(), "view", map[string]any{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Config{}, testPolicy(), logger.Discard())
	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, c.GetItems(context.Background(), "x", Query{}, &[]any{}), ErrNotConfigured)
}

func TestUploadFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"access_token": "tok"}})
			return
		}
		assert.Equal(t, "/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Aspect Image - Pricing", r.FormValue("title"))
		assert.JSONEq(t, `["aspect","generated"]`, r.FormValue("tags"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "img.png", hdr.Filename)
		assert.Equal(t, "PNG", string(body))
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "file-1"}})
	}))
	defer server.Close()

	c := newTestClient(server.URL + "/")
	id, err := c.UploadFile(context.Background(), "img.png", []byte("PNG"), FileMeta{
		Title: "Aspect Image - Pricing",
		Tags:  []string{"aspect", "generated"},
	})
	require.NoError(t, err)
	assert.Equal(t, "file-1", id)
	assert.Equal(t, server.URL+"/assets/file-1", c.AssetURL(id))
}

func TestPersistWritesLayout(t *testing.T) {
	store := &fakeStore{}
	server := httptest.NewServer(store.handler(t))
	defer server.Close()

	view := &types.View{
		Title:    "Overall",
		Summary:  "sum",
		Language: "en",
		Aspects: []types.Aspect{
			{Title: "A", Description: "short a", Summary: "long a", Segments: []types.AspectSegment{
				{ID: 7, Description: "why", VerbatimTranscript: "hello", RelevantIndex: "0:4"},
			}},
			{Title: "B", Summary: "long b"},
		},
	}
	viewID, err := newTestClient(server.URL).Persist(context.Background(), "run-1", view)
	require.NoError(t, err)
	require.NotEmpty(t, viewID)

	var collections []string
	for _, c := range store.created {
		collections = append(collections, c.Collection)
	}
	assert.Equal(t, []string{"view", "aspect", "aspect_segment", "aspect", "processing_status"}, collections)

	v := store.created[0].Data
	assert.Equal(t, viewID, v["id"])
	assert.Equal(t, "Overall", v["name"])
	assert.Equal(t, "Generating Aspects", v["processing_status"])
	assert.Equal(t, "run-1", v["project_analysis_run_id"])

	a := store.created[1].Data
	assert.Equal(t, viewID, a["view_id"])
	assert.Equal(t, "short a", a["short_summary"])
	assert.Equal(t, "long a", a["long_summary"])
	assert.Equal(t, float64(0), a["rank"])
	assert.Equal(t, float64(1), store.created[3].Data["rank"])

	s := store.created[2].Data
	assert.Equal(t, a["id"], s["aspect"])
	assert.Equal(t, "7", s["segment"])
	assert.Equal(t, "0:4", s["relevant_index"])

	done := store.created[4].Data
	assert.Equal(t, "runpod:topic_modeler.completed", done["event"])
	assert.Equal(t, "view_id: "+viewID, done["message"])
}
