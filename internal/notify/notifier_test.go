package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubSender struct {
	mu    sync.Mutex
	name  string
	sent  []string
	fail  error
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, title)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestNotifierFiltersByEventType(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{EventTrigger, EventError}, testLogger)
	ctx := context.Background()

	if err := n.Notify(ctx, EventTrigger, "t1", "m"); err != nil {
		t.Fatalf("enabled event: %v", err)
	}
	if err := n.Notify(ctx, EventOpportunity, "t2", "m"); err != nil {
		t.Fatalf("filtered event must not error: %v", err)
	}
	if err := n.NotifyAll(ctx, "t3", "m"); err != nil {
		t.Fatalf("notify all: %v", err)
	}

	if got := s.count(); got != 2 {
		t.Errorf("delivered %d alerts, want the trigger and the NotifyAll", got)
	}
}

func TestNotifierEmptyFilterAllowsEverything(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, testLogger)

	if err := n.Notify(context.Background(), EventAnomaly, "t", "m"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if s.count() != 1 {
		t.Error("no configured events means every event passes")
	}
}

func TestNotifierOneFailureDoesNotBlockOthers(t *testing.T) {
	bad := &stubSender{name: "bad", fail: errors.New("down")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger)

	err := n.Notify(context.Background(), EventTrigger, "t", "m")
	if err == nil {
		t.Fatal("expected the failing sender's error")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error should name the failed sender: %v", err)
	}
	if good.count() != 1 {
		t.Error("healthy sender should still deliver")
	}
}

func TestDiscordSenderPostsWebhook(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), "Line move", "228.5 -> 230.5"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.HasPrefix(got["content"], "**Line move**\n") {
		t.Errorf("content = %q, want bolded title first", got["content"])
	}
}

func TestDiscordSenderSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("want status error, got %v", err)
	}
}
