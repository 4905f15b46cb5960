package sms

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClampBody_KeepsSingleSegment(t *testing.T) {
	short := "Reminder: your massage is tomorrow at 14:00."
	if got := clampBody(short); got != short {
		t.Fatalf("short body changed: %q", got)
	}

	long := strings.Repeat("a", 200)
	got := clampBody(long)
	if utf8.RuneCountInString(got) != maxSegmentRunes {
		t.Fatalf("clamped length = %d runes, want %d", utf8.RuneCountInString(got), maxSegmentRunes)
	}
}

func TestWebhookSender_PostsClampedBody(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "")
	if err := s.Send(t.Context(), "555-0142", strings.Repeat("b", 300)); err != nil {
		t.Fatal(err)
	}
	if received["to"] != "555-0142" {
		t.Fatalf("to = %q", received["to"])
	}
	if utf8.RuneCountInString(received["body"]) != maxSegmentRunes {
		t.Fatalf("posted body length = %d runes, want %d", utf8.RuneCountInString(received["body"]), maxSegmentRunes)
	}
}

func TestWebhookSender_ReportsStatusOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "")
	err := s.Send(t.Context(), "555-0142", "hello")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v, want the upstream status in the message", err)
	}
}
