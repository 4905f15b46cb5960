package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/serenitymassage/bookwell/libs/config"
	"github.com/serenitymassage/bookwell/libs/consumer"
	"github.com/serenitymassage/bookwell/libs/db"
	"github.com/serenitymassage/bookwell/libs/httpx"
	"github.com/serenitymassage/bookwell/libs/inbox"
	"github.com/serenitymassage/bookwell/libs/kafkax"
	otelx "github.com/serenitymassage/bookwell/libs/otel"
	"github.com/serenitymassage/bookwell/libs/outbox"
	"github.com/serenitymassage/bookwell/libs/runtime"
	"github.com/serenitymassage/bookwell/services/notification-service/internal/dispatch"
	"github.com/serenitymassage/bookwell/services/notification-service/internal/email"
	"github.com/serenitymassage/bookwell/services/notification-service/internal/sms"
	"github.com/serenitymassage/bookwell/services/notification-service/internal/storage"
	"github.com/serenitymassage/bookwell/services/notification-service/internal/templates"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// appointmentEvent covers the booked, cancelled, and reminder payloads,
// which share their client and slot fields.
type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	ServiceName   string `json:"service_name"`
	ClientName    string `json:"client_name"`
	ClientEmail   string `json:"client_email"`
	ClientPhone   string `json:"client_phone"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Kind          string `json:"kind"`
	Reason        string `json:"reason"`
}

type offerEvent struct {
	EntryID     string `json:"entry_id"`
	ServiceID   string `json:"service_id"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	ClientPhone string `json:"client_phone"`
	Slot        struct {
		Date      string `json:"date"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	} `json:"slot"`
	OfferExpiresAt string `json:"offer_expires_at"`
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8087")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	loc := loadLocation(logger)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@serenitymassage.example")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	var smsSender sms.Sender
	switch smsProvider {
	case "webhook":
		smsSender = sms.NewWebhookSender(config.String("SMS_WEBHOOK_URL", ""), config.String("SMS_WEBHOOK_TOKEN", ""))
	default:
		smsSender = sms.NewNoopSender()
	}

	dispatcher := dispatch.New(emailSender, smsSender, notificationsRepo, outboxRepo, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	if strings.TrimSpace(brokers) != "" {
		runAppointmentConsumer := func(topic string, deliver func(context.Context, appointmentEvent) error) {
			c := consumer.New(logger, inboxRepo, consumer.Config{
				Brokers: brokers,
				GroupID: groupID,
				Topic:   topic,
			}, func(ctx context.Context, msg kafka.Message) error {
				var evt appointmentEvent
				if err := json.Unmarshal(msg.Value, &evt); err != nil {
					logger.Error("invalid event payload", "topic", topic, "err", err)
					return nil
				}
				if evt.ClientEmail == "" {
					logger.Error("event missing client_email", "topic", topic)
					return nil
				}
				return deliver(ctx, evt)
			})
			go c.Run(ctx)
		}

		runAppointmentConsumer("booking.appointment.booked.v1", func(ctx context.Context, evt appointmentEvent) error {
			return dispatcher.Deliver(ctx, dispatch.Delivery{
				Kind:      templates.KindConfirmation,
				SubjectID: evt.AppointmentID,
				Email:     evt.ClientEmail,
				Phone:     evt.ClientPhone,
				Data:      templateData(ctx, notificationsRepo, logger, evt, loc),
			})
		})

		runAppointmentConsumer("booking.appointment.cancelled.v1", func(ctx context.Context, evt appointmentEvent) error {
			data := templateData(ctx, notificationsRepo, logger, evt, loc)
			data.Reason = evt.Reason
			return dispatcher.Deliver(ctx, dispatch.Delivery{
				Kind:      templates.KindCancellation,
				SubjectID: evt.AppointmentID,
				Email:     evt.ClientEmail,
				Phone:     evt.ClientPhone,
				Data:      data,
			})
		})

		runAppointmentConsumer("reminder.appointment.due.v1", func(ctx context.Context, evt appointmentEvent) error {
			kind := templates.KindDayBefore
			if evt.Kind == "day_of" {
				kind = templates.KindDayOf
			}
			return dispatcher.Deliver(ctx, dispatch.Delivery{
				Kind:      kind,
				SubjectID: evt.AppointmentID,
				Email:     evt.ClientEmail,
				Phone:     evt.ClientPhone,
				Data:      templateData(ctx, notificationsRepo, logger, evt, loc),
			})
		})

		offerConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   "waitlist.slot.offered.v1",
		}, func(ctx context.Context, msg kafka.Message) error {
			var evt offerEvent
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				logger.Error("invalid offer payload", "err", err)
				return nil
			}
			if evt.ClientEmail == "" {
				logger.Error("offer missing client_email")
				return nil
			}
			data := templates.Data{
				ClientName:  evt.ClientName,
				ServiceName: lookupServiceName(ctx, notificationsRepo, logger, evt.ServiceID),
				Date:        evt.Slot.Date,
				StartTime:   formatClock(evt.Slot.StartTime, loc),
				EndTime:     formatClock(evt.Slot.EndTime, loc),
				OfferExpiry: formatStamp(evt.OfferExpiresAt, loc),
			}
			return dispatcher.Deliver(ctx, dispatch.Delivery{
				Kind:      templates.KindWaitlistOffer,
				SubjectID: evt.EntryID,
				Email:     evt.ClientEmail,
				Phone:     evt.ClientPhone,
				Data:      data,
			})
		})
		go offerConsumer.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func templateData(ctx context.Context, repo *storage.Repository, logger *slog.Logger, evt appointmentEvent, loc *time.Location) templates.Data {
	name := evt.ServiceName
	if name == "" && evt.ServiceID != "" {
		name = lookupServiceName(ctx, repo, logger, evt.ServiceID)
	}
	date := evt.Date
	if date == "" {
		if t, err := time.Parse(time.RFC3339, evt.StartTime); err == nil {
			date = t.In(loc).Format("2006-01-02")
		}
	}
	return templates.Data{
		ClientName:  evt.ClientName,
		ServiceName: name,
		Date:        date,
		StartTime:   formatClock(evt.StartTime, loc),
		EndTime:     formatClock(evt.EndTime, loc),
	}
}

func lookupServiceName(ctx context.Context, repo *storage.Repository, logger *slog.Logger, serviceID string) string {
	name, err := repo.ServiceName(ctx, serviceID)
	if err != nil {
		logger.Warn("service name lookup failed", "service_id", serviceID, "err", err)
		return "scheduled"
	}
	return name
}

// loadLocation resolves the studio timezone for rendering. Event stamps stay
// UTC on the wire; messages show the clock the client will look at.
func loadLocation(logger *slog.Logger) *time.Location {
	name := config.String("STUDIO_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Error("invalid STUDIO_TIMEZONE, using UTC", "tz", name, "err", err)
		return time.UTC
	}
	return loc
}

func formatClock(raw string, loc *time.Location) string {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc).Format("15:04")
	}
	return raw
}

func formatStamp(raw string, loc *time.Location) string {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc).Format("2006-01-02 15:04")
	}
	return raw
}
