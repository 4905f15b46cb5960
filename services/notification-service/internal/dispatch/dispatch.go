package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/serenitymassage/bookwell/libs/outbox"
	"github.com/serenitymassage/bookwell/services/notification-service/internal/storage"
	"github.com/serenitymassage/bookwell/services/notification-service/internal/templates"
)

type EmailSender interface {
	Send(to, subject, body string) error
}

type SMSSender interface {
	Send(ctx context.Context, to, body string) error
	ProviderID() string
}

type Log interface {
	Insert(ctx context.Context, n storage.Notification) error
}

type Outbox interface {
	InsertStandalone(ctx context.Context, evt outbox.Event) error
}

// Delivery is one message to get out the door. Phone is optional; when set
// the SMS short form goes out alongside the email.
type Delivery struct {
	Kind      templates.Kind
	SubjectID string
	Email     string
	Phone     string
	Data      templates.Data
}

// Dispatcher renders, sends, logs, and emits the sent/failed event for each
// delivery. Send failures are recorded, not retried; the consumer commits
// the offset either way so a dead mailbox cannot wedge the topic.
type Dispatcher struct {
	emails EmailSender
	sms    SMSSender
	log    Log
	outbox Outbox
	logger *slog.Logger
	now    func() time.Time
}

func New(emails EmailSender, sms SMSSender, log Log, ob Outbox, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		emails: emails,
		sms:    sms,
		log:    log,
		outbox: ob,
		logger: logger,
		now:    time.Now,
	}
}

func (d *Dispatcher) Deliver(ctx context.Context, del Delivery) error {
	msg, err := templates.Render(del.Kind, del.Data)
	if err != nil {
		d.logger.Error("template render failed", "kind", del.Kind, "err", err)
		return nil
	}

	status := "sent"
	reason := ""
	if err := d.emails.Send(del.Email, msg.Subject, msg.Body); err != nil {
		status = "failed"
		reason = err.Error()
		d.logger.Error("email send failed", "err", err, "recipient", del.Email, "kind", del.Kind)
	}
	if err := d.logDelivery(ctx, del, "email", del.Email, status, reason); err != nil {
		return err
	}

	if phone := strings.TrimSpace(del.Phone); phone != "" {
		body, err := templates.SMS(del.Kind, del.Data)
		if err == nil {
			smsStatus := "sent"
			smsReason := ""
			if err := d.sms.Send(ctx, phone, body); err != nil {
				smsStatus = "failed"
				smsReason = err.Error()
				d.logger.Error("sms send failed", "err", err, "recipient", phone, "kind", del.Kind)
			}
			if err := d.logDelivery(ctx, del, "sms", phone, smsStatus, smsReason); err != nil {
				return err
			}
		}
	}

	d.logger.Info("notification processed",
		"subject_id", del.SubjectID, "kind", del.Kind, "status", status)
	return nil
}

func (d *Dispatcher) logDelivery(ctx context.Context, del Delivery, channel, recipient, status, reason string) error {
	if err := d.log.Insert(ctx, storage.Notification{
		SubjectID: del.SubjectID,
		Channel:   channel,
		Recipient: recipient,
		Kind:      string(del.Kind),
		Status:    status,
		Error:     reason,
	}); err != nil {
		d.logger.Error("failed to persist notification", "err", err)
		return err
	}

	eventType := "notification.sent.v1"
	payload := map[string]any{
		"subject_id": del.SubjectID,
		"kind":       string(del.Kind),
		"channel":    channel,
		"recipient":  recipient,
	}
	if status == "failed" {
		eventType = "notification.failed.v1"
		payload["error_reason"] = reason
		payload["failed_at"] = d.now().UTC().Format(time.RFC3339)
	} else {
		payload["sent_at"] = d.now().UTC().Format(time.RFC3339)
	}
	raw, _ := json.Marshal(payload)

	if err := d.outbox.InsertStandalone(ctx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   del.SubjectID,
		EventType:     eventType,
		Payload:       raw,
	}); err != nil {
		d.logger.Error("failed to enqueue notification event", "err", err, "event_type", eventType)
		return err
	}
	return nil
}
