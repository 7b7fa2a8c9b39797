package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, StaticCredential("tok"), Options{
		RetryBackoff: time.Millisecond,
	})
	return client, srv
}

func TestCall_NoCredential(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
	}))
	client.creds = StaticCredential("")

	_, err := client.Call(context.Background(), http.MethodGet, "/x", nil)
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("err = %v, want ErrNoCredential", err)
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0 (no network attempt)", attempts)
	}
}

func TestCall_SendsBearerToken(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"ok":true}`))
	}))

	raw, err := client.Call(context.Background(), http.MethodGet, "/x", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Errorf("body = %s", raw)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
}

func TestCall_TransientRetriedThreeAttempts(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"upstream exploded"}`))
	}))

	_, err := client.Call(context.Background(), http.MethodGet, "/x", nil)
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (2 retries)", attempts)
	}
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("err = %T, want *TransientError", err)
	}
	if te.Message != "upstream exploded" {
		t.Errorf("Message = %q, want last observed error", te.Message)
	}
}

func TestCall_ClientErrorNotRetried(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"agent not found"}`))
	}))

	_, err := client.Call(context.Background(), http.MethodGet, "/x", nil)
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry)", attempts)
	}
	var ce *ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T, want *ClientError", err)
	}
	if ce.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", ce.Status)
	}
}

func TestCall_TerminalMessageNotRetried(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		// 5xx status, but the message is domain-terminal
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"run budget exceeded"}`))
	}))

	_, err := client.Call(context.Background(), http.MethodGet, "/x", nil)
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	var ce *ClientError
	if !errors.As(err, &ce) {
		t.Errorf("err = %T, want *ClientError", err)
	}
}

func TestCall_LinearBackoffSchedule(t *testing.T) {
	client := NewClient("http://example.invalid", StaticCredential("tok"), Options{})
	if got := client.backoffFor(0); got != 400*time.Millisecond {
		t.Errorf("backoffFor(0) = %v, want 400ms", got)
	}
	if got := client.backoffFor(1); got != 800*time.Millisecond {
		t.Errorf("backoffFor(1) = %v, want 800ms", got)
	}
}

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error field", `{"error":"plain"}`, "plain"},
		{"nested detail", `{"detail":{"error":{"message":"nested"}}}`, "nested"},
		{"detail string", `{"detail":"just a string"}`, "just a string"},
		{"garbage", `not-json`, http.StatusText(http.StatusBadGateway)},
		{"empty object", `{}`, http.StatusText(http.StatusBadGateway)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractErrorMessage([]byte(tt.body), http.StatusBadGateway); got != tt.want {
				t.Errorf("extractErrorMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPerform_Envelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.Write([]byte(`{"fine":1}`))
			return
		}
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"already exists"}`))
	}))

	res := client.Perform(context.Background(), http.MethodGet, "/ok", nil)
	if res.Err != "" || string(res.JSON) != `{"fine":1}` {
		t.Errorf("Perform ok = %+v", res)
	}

	res = client.Perform(context.Background(), http.MethodGet, "/conflict", nil)
	if res.Err == "" || res.JSON != nil {
		t.Errorf("Perform err = %+v, want error envelope", res)
	}
}

func TestStartRun(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"run_id":"r-1","status":"running","started_at":"2026-08-23T10:00:00Z"}`))
	}))

	handle, err := client.StartRun(context.Background(), "agent-7", StartRunRequest{Input: "go"})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if gotPath != "/agents/agent-7/run" {
		t.Errorf("path = %q", gotPath)
	}
	if handle.RunID != "r-1" || handle.Status != "running" {
		t.Errorf("handle = %+v", handle)
	}
	if handle.StartedAt.IsZero() {
		t.Errorf("StartedAt not parsed")
	}

	// Ad-hoc run without agent id
	if _, err := client.StartRun(context.Background(), "", StartRunRequest{Input: "go"}); err != nil {
		t.Fatalf("StartRun(ad-hoc) error = %v", err)
	}
	if gotPath != "/run" {
		t.Errorf("path = %q, want /run", gotPath)
	}
}
