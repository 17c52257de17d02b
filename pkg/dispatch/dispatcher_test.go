package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPDispatcherDelivers(t *testing.T) {
	var received atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload TaskPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		received.Store(&payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(server.Client(), DefaultBackoff())
	payload := &TaskPayload{Kind: TaskMerge, ConversationID: "conv-1"}

	if err := d.Dispatch(context.Background(), server.URL, payload, 0); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	got, _ := received.Load().(*TaskPayload)
	if got == nil {
		t.Fatal("endpoint never received the payload")
	}
	if got.Kind != TaskMerge || got.ConversationID != "conv-1" {
		t.Errorf("received payload = %+v", got)
	}
}

func TestHTTPDispatcherRetriesNon2xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(server.Client(), Backoff{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})
	payload := &TaskPayload{Kind: TaskMerge, ConversationID: "conv-1"}

	if err := d.Dispatch(context.Background(), server.URL, payload, 0); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("endpoint called %d times, want 3", got)
	}
}

func TestHTTPDispatcherExhaustsAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(server.Client(), Backoff{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})
	payload := &TaskPayload{Kind: TaskMerge, ConversationID: "conv-1"}

	if err := d.Dispatch(context.Background(), server.URL, payload, 0); err == nil {
		t.Fatal("Dispatch() expected error after exhausting attempts")
	}
}

func TestHTTPDispatcherRejectsInvalidPayload(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(server.Client(), DefaultBackoff())
	payload := &TaskPayload{Kind: "bogus", ConversationID: "conv-1"}

	if err := d.Dispatch(context.Background(), server.URL, payload, 0); err == nil {
		t.Fatal("Dispatch() expected validation error")
	}
	if calls.Load() != 0 {
		t.Error("invalid payload reached the endpoint")
	}
}

func TestHTTPDispatcherHonorsContextDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewHTTPDispatcher(nil, DefaultBackoff())
	payload := &TaskPayload{Kind: TaskMerge, ConversationID: "conv-1"}

	err := d.Dispatch(ctx, "http://127.0.0.1:0", payload, time.Minute)
	if err != context.Canceled {
		t.Errorf("Dispatch() error = %v, want context.Canceled", err)
	}
}

func TestBackoffDelayFor(t *testing.T) {
	b := Backoff{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: 3, want: 500 * time.Millisecond},
		{attempt: 40, want: 500 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := b.delayFor(tt.attempt); got != tt.want {
			t.Errorf("delayFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
