package recorder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTranscript_OK(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(Transcript{
			MeetingID:    "mtg-1",
			Title:        "Quarterly review",
			Date:         time.Date(2026, 8, 1, 15, 0, 0, 0, time.UTC),
			DurationSecs: 1800,
			Participants: []string{"ceo@acme.com"},
			Body:         "hello world",
		})
	}))
	defer srv.Close()

	c := NewClient("key-1", srv.URL)
	got, err := c.GetTranscript(context.Background(), "mtg-1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer key-1", gotAuth)
	assert.Equal(t, "/v1/meetings/mtg-1/transcript", gotPath)
	assert.Equal(t, "Quarterly review", got.Title)
	assert.Equal(t, []string{"ceo@acme.com"}, got.Participants)
}

func TestGetTranscript_RetriesOn503(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Transcript{MeetingID: "mtg-1"})
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL)
	_, err := c.GetTranscript(context.Background(), "mtg-1")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetTranscript_NotFoundNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL)
	_, err := c.GetTranscript(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "status 404")
}
