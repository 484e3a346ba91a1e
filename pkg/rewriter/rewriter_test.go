package rewriter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/retina-search/retina/engine/domain"
	"github.com/retina-search/retina/pkg/resilience"
)

func completion(text string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": text}},
		},
	}
}

func TestRewrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Temperature != 0 {
			t.Errorf("temperature = %v, want 0", req.Temperature)
		}
		if req.MaxTokens != 64 {
			t.Errorf("max_tokens = %d, want 64", req.MaxTokens)
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "show me a red car please" {
			t.Errorf("messages = %v", req.Messages)
		}
		json.NewEncoder(w).Encode(completion("  a red car on a road  "))
	}))
	defer srv.Close()

	c := New(Opts{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"})
	got, err := c.Rewrite(context.Background(), "show me a red car please", 64)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "a red car on a road" {
		t.Fatalf("rewrite = %q", got)
	}
}

func TestRewriteFailuresWrapSentinel(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"empty choices", func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}},
		{"garbage body", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("nope"))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := New(Opts{BaseURL: srv.URL}).Rewrite(context.Background(), "q", 64)
			if !errors.Is(err, domain.ErrRewriteUnavailable) {
				t.Fatalf("err = %v, want ErrRewriteUnavailable", err)
			}
		})
	}
}

func TestRewriteRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(completion("cap"))
	}))
	defer srv.Close()

	// One token, effectively no refill within the test.
	c := New(Opts{BaseURL: srv.URL, RatePerSec: 0.001, Burst: 1})
	if _, err := c.Rewrite(context.Background(), "q", 8); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	_, err := c.Rewrite(context.Background(), "q", 8)
	if !errors.Is(err, domain.ErrRewriteUnavailable) {
		t.Fatalf("rate-limited call must degrade, got %v", err)
	}
}

func TestRewriteBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Opts{
		BaseURL: srv.URL,
		Breaker: resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Hour, HalfOpenMax: 1},
	})

	for i := 0; i < 4; i++ {
		_, err := c.Rewrite(context.Background(), "q", 8)
		if !errors.Is(err, domain.ErrRewriteUnavailable) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	// Breaker trips after two failures; later calls never hit the server.
	if got := hits.Load(); got != 2 {
		t.Fatalf("server hits = %d, want 2", got)
	}
}
