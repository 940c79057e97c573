package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackSendMessage(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ChatResponse{Success: true, Response: "noted"})
	}))
	defer srv.Close()

	c := NewFallbackClient(srv.URL, time.Second, time.Second)
	resp, err := c.SendMessage(context.Background(), ChatRequest{Message: "hello", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "noted", resp.Response)
	assert.Equal(t, "hello", got.Message)
	assert.Equal(t, "s1", got.SessionID)
}

func TestFallbackRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(ChatResponse{Success: true, Response: "ok"})
	}))
	defer srv.Close()

	c := NewFallbackClient(srv.URL, time.Second, 5*time.Second)
	resp, err := c.SendMessage(context.Background(), ChatRequest{Message: "retry me"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Response)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestFallbackSurfacesDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewFallbackClient(srv.URL, time.Second, time.Second)
	_, err := c.SendMessage(context.Background(), ChatRequest{Message: "doomed"})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestFallbackHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/chat/history", r.URL.Path)
		require.Equal(t, "user-1", r.URL.Query().Get("userId"))
		w.Write([]byte(`{"success":true,"messages":[{"id":"m1","sender":"seller","type":"text","text":"hi","timestamp":"2026-08-01T10:00:00Z","isRead":false,"status":"sent"}]}`))
	}))
	defer srv.Close()

	c := NewFallbackClient(srv.URL, time.Second, time.Second)
	msgs, err := c.History(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "hi", msgs[0].Text)
}
