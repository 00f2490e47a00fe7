package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage_OK(t *testing.T) {
	var gotPath string
	var gotReq sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(sendResponse{OK: true, Result: &Message{MessageID: 42, Chat: Chat{ID: gotReq.ChatID}}})
	}))
	defer srv.Close()

	c := NewClient("tok123", WithBaseURL(srv.URL))
	msg, err := c.SendMessage(context.Background(), 99, "hello", WithParseMode("Markdown"), WithDisablePreview())
	require.NoError(t, err)

	assert.Equal(t, "/bottok123/sendMessage", gotPath)
	assert.Equal(t, int64(99), gotReq.ChatID)
	assert.Equal(t, "hello", gotReq.Text)
	assert.Equal(t, "Markdown", gotReq.ParseMode)
	assert.True(t, gotReq.DisableWebPagePreview)
	assert.Equal(t, int64(42), msg.MessageID)
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sendResponse{OK: false, Description: "chat not found"})
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	_, err := c.SendMessage(context.Background(), 1, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSendMessage_RetriesOn502(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(sendResponse{OK: true, Result: &Message{MessageID: 1}})
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	msg, err := c.SendMessage(context.Background(), 1, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), msg.MessageID)
}

func TestSendMessage_NoRetryOn400(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	_, err := c.SendMessage(context.Background(), 1, "x")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
