package conversation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestAdapter(t *testing.T, handler http.Handler) *ElevenLabsAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := NewElevenLabsAdapter(ElevenLabsConfig{
		APIKey:         "xi-key",
		BaseURL:        srv.URL,
		RequestTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	return a
}

func TestRequestSession_ReturnsSignedURL(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/conversation/get_signed_url" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("agent_id") != "agent_1" {
			t.Errorf("expected agent_id query, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("xi-api-key") != "xi-key" {
			t.Errorf("expected api key header")
		}
		_, _ = w.Write([]byte(`{"signed_url":"wss://api.elevenlabs.io/v1/convai/conversation?token=abc"}`))
	}))

	grant, err := a.RequestSession(context.Background(), "agent_1", "parent")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if grant.SignedURL == "" || grant.TTL <= 0 {
		t.Fatalf("unexpected grant: %+v", grant)
	}
}

func TestRequestSession_RetriesOnceOnTransientFailure(t *testing.T) {
	var calls int32
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"signed_url":"wss://signed.example/conv"}`))
	}))

	if _, err := a.RequestSession(context.Background(), "agent_1", "parent"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
}

func TestRequestSession_RepeatedFailureIsHardError(t *testing.T) {
	var calls int32
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := a.RequestSession(context.Background(), "agent_1", "parent")
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected exactly one retry, got %d attempts", n)
	}
}

func TestRequestSession_NoRetryOnRejection(t *testing.T) {
	var calls int32
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid api key"}`))
	}))

	if _, err := a.RequestSession(context.Background(), "agent_1", "parent"); err == nil {
		t.Fatalf("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", n)
	}
}

func TestRequestSession_RequiresAgentID(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected")
	}))
	if _, err := a.RequestSession(context.Background(), "", "parent"); err == nil {
		t.Fatalf("expected error for missing agent id")
	}
}
