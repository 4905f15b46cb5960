package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/serenitymassage/bookwell/libs/httpx"
)

func joinBody(email string) string {
	return `{"service_id":"svc-1","client_name":"Dana Reyes","client_email":"` + email +
		`","client_phone":"555-0142","preferred_date":"2026-03-02","urgency_level":3}`
}

// Invalid requests never reach the repository, so a nil one is safe here.
func validationOnlyHandler() *WaitlistHandler {
	return NewWaitlistHandler(nil, slog.New(slog.DiscardHandler), 2*time.Hour)
}

func TestJoin_RejectsMalformedEmail(t *testing.T) {
	h := validationOnlyHandler()
	for _, email := range []string{"", "not-an-email", "dana@@example.com", "dana at example.com"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/waitlist/join", strings.NewReader(joinBody(email)))
		h.Join(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("email %q: status = %d, want 400", email, rec.Code)
		}
		var body httpx.ErrorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if _, ok := body.Fields["client_email"]; !ok {
			t.Fatalf("email %q: expected a client_email field error, got %v", email, body.Fields)
		}
	}
}
