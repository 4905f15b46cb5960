package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/serenitymassage/bookwell/libs/outbox"
	"github.com/serenitymassage/bookwell/services/notification-service/internal/storage"
	"github.com/serenitymassage/bookwell/services/notification-service/internal/templates"
)

type fakeEmail struct {
	sent []string
	fail bool
}

func (f *fakeEmail) Send(to, subject, body string) error {
	if f.fail {
		return errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) Send(_ context.Context, to, _ string) error {
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeSMS) ProviderID() string { return "sms-fake" }

type fakeLog struct {
	rows []storage.Notification
}

func (f *fakeLog) Insert(_ context.Context, n storage.Notification) error {
	f.rows = append(f.rows, n)
	return nil
}

type fakeOutbox struct {
	events []outbox.Event
}

func (f *fakeOutbox) InsertStandalone(_ context.Context, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func delivery() Delivery {
	return Delivery{
		Kind:      templates.KindDayBefore,
		SubjectID: "appt-1",
		Email:     "maya@example.com",
		Data: templates.Data{
			ClientName:  "Maya",
			ServiceName: "Swedish Massage",
			Date:        "2026-03-04",
			StartTime:   "14:00",
		},
	}
}

func TestDeliver_EmailOnly(t *testing.T) {
	emails := &fakeEmail{}
	sms := &fakeSMS{}
	log := &fakeLog{}
	ob := &fakeOutbox{}
	d := New(emails, sms, log, ob, slog.New(slog.DiscardHandler))

	if err := d.Deliver(context.Background(), delivery()); err != nil {
		t.Fatal(err)
	}
	if len(emails.sent) != 1 || len(sms.sent) != 0 {
		t.Fatalf("sent email=%d sms=%d", len(emails.sent), len(sms.sent))
	}
	if len(log.rows) != 1 || log.rows[0].Status != "sent" || log.rows[0].Channel != "email" {
		t.Fatalf("unexpected log rows %+v", log.rows)
	}
	if len(ob.events) != 1 || ob.events[0].EventType != "notification.sent.v1" {
		t.Fatalf("unexpected outbox events %+v", ob.events)
	}
}

func TestDeliver_WithPhoneSendsBothChannels(t *testing.T) {
	emails := &fakeEmail{}
	sms := &fakeSMS{}
	log := &fakeLog{}
	ob := &fakeOutbox{}
	d := New(emails, sms, log, ob, slog.New(slog.DiscardHandler))

	del := delivery()
	del.Phone = "+15550100"
	if err := d.Deliver(context.Background(), del); err != nil {
		t.Fatal(err)
	}
	if len(emails.sent) != 1 || len(sms.sent) != 1 {
		t.Fatalf("sent email=%d sms=%d", len(emails.sent), len(sms.sent))
	}
	if len(log.rows) != 2 {
		t.Fatalf("expected 2 log rows, got %d", len(log.rows))
	}
}

func TestDeliver_SendFailureIsLoggedNotRetried(t *testing.T) {
	emails := &fakeEmail{fail: true}
	log := &fakeLog{}
	ob := &fakeOutbox{}
	d := New(emails, &fakeSMS{}, log, ob, slog.New(slog.DiscardHandler))

	if err := d.Deliver(context.Background(), delivery()); err != nil {
		t.Fatalf("send failure should not bubble: %v", err)
	}
	if len(log.rows) != 1 || log.rows[0].Status != "failed" || log.rows[0].Error == "" {
		t.Fatalf("unexpected log rows %+v", log.rows)
	}
	if len(ob.events) != 1 || ob.events[0].EventType != "notification.failed.v1" {
		t.Fatalf("unexpected outbox events %+v", ob.events)
	}
}

func TestDeliver_UnknownKindIsDropped(t *testing.T) {
	emails := &fakeEmail{}
	log := &fakeLog{}
	d := New(emails, &fakeSMS{}, log, &fakeOutbox{}, slog.New(slog.DiscardHandler))

	del := delivery()
	del.Kind = templates.Kind("promo")
	if err := d.Deliver(context.Background(), del); err != nil {
		t.Fatalf("unknown kind should be dropped, got %v", err)
	}
	if len(emails.sent) != 0 || len(log.rows) != 0 {
		t.Fatalf("nothing should be sent or logged")
	}
}
