package templates

import (
	"strings"
	"testing"
)

func sample() Data {
	return Data{
		ClientName:  "Maya",
		ServiceName: "Deep Tissue Massage",
		Date:        "2026-03-04",
		StartTime:   "14:00",
		EndTime:     "15:00",
		OfferExpiry: "2026-03-03 18:00",
	}
}

func TestRender_AllKinds(t *testing.T) {
	kinds := []Kind{KindConfirmation, KindDayBefore, KindDayOf, KindCancellation, KindWaitlistOffer}
	for _, kind := range kinds {
		msg, err := Render(kind, sample())
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if msg.Subject == "" {
			t.Fatalf("%s: empty subject", kind)
		}
		if !strings.Contains(msg.Body, "Maya") {
			t.Fatalf("%s: client name missing from body:\n%s", kind, msg.Body)
		}
		if !strings.Contains(msg.Body, "Deep Tissue Massage") {
			t.Fatalf("%s: service name missing from body:\n%s", kind, msg.Body)
		}
	}
}

func TestRender_WaitlistOfferIncludesExpiry(t *testing.T) {
	msg, err := Render(KindWaitlistOffer, sample())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg.Body, "2026-03-03 18:00") {
		t.Fatalf("offer expiry missing:\n%s", msg.Body)
	}
}

func TestRender_CancellationReasonOptional(t *testing.T) {
	data := sample()
	msg, err := Render(KindCancellation, data)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(msg.Body, "()") {
		t.Fatalf("empty reason rendered:\n%s", msg.Body)
	}

	data.Reason = "therapist unavailable"
	msg, err = Render(KindCancellation, data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg.Body, "therapist unavailable") {
		t.Fatalf("reason missing:\n%s", msg.Body)
	}
}

func TestRender_UnknownKind(t *testing.T) {
	if _, err := Render(Kind("promo"), sample()); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestSMS_ShortForms(t *testing.T) {
	body, err := SMS(KindDayOf, sample())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "today at 14:00") {
		t.Fatalf("unexpected sms body %q", body)
	}
	if len(body) > 160 {
		t.Fatalf("sms body over 160 chars: %d", len(body))
	}
}
