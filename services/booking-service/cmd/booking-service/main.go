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
	"github.com/serenitymassage/bookwell/services/booking-service/internal/availability"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/handlers"
	"github.com/serenitymassage/bookwell/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func loadPolicy(logger *slog.Logger) handlers.Policy {
	week := availability.DefaultWeekTemplate()
	if raw := config.String("BUSINESS_HOURS", ""); raw != "" {
		parsed, err := availability.ParseWeekTemplate(raw)
		if err != nil {
			logger.Error("invalid BUSINESS_HOURS; using built-in hours", "err", err)
		} else {
			week = parsed
		}
	}

	loc := time.UTC
	if tz := config.String("STUDIO_TIMEZONE", ""); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			logger.Error("invalid STUDIO_TIMEZONE; using UTC", "err", err)
		} else {
			loc = parsed
		}
	}

	return handlers.Policy{
		Week:            week,
		Location:        loc,
		LeadTime:        time.Duration(config.Int("BOOKING_LEAD_TIME_MINUTES", 60)) * time.Minute,
		MinCancelNotice: time.Duration(config.Int("CANCEL_NOTICE_HOURS", 24)) * time.Hour,
		HorizonDays:     config.Int("BOOKING_HORIZON_DAYS", 60),
	}
}

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	appts := storage.NewAppointmentRepository(pool)
	services := storage.NewServiceRepository(pool)
	blocked := storage.NewBlockedDateRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// Payments settle asynchronously; the billing service announces success
	// and the pending appointment flips to confirmed here.
	if brokers := config.String("KAFKA_BROKERS", ""); strings.TrimSpace(brokers) != "" {
		inboxRepo := inbox.NewRepository(pool)
		paymentConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   "billing.payment.succeeded.v1",
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				AppointmentID string `json:"appointment_id"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid payment event payload", "err", err)
				return nil
			}
			if payload.AppointmentID == "" {
				return nil
			}
			confirmed, err := appts.ConfirmPaid(ctx, payload.AppointmentID)
			if err != nil {
				return err
			}
			if !confirmed {
				logger.Warn("payment settled for a non-pending appointment",
					"appointment_id", payload.AppointmentID)
			}
			return nil
		})
		go paymentConsumer.Run(ctx)
	}

	bookingHandler := handlers.NewBookingHandler(appts, services, blocked, outboxRepo, logger, loadPolicy(logger))

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/services", bookingHandler.Services)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/reschedule", bookingHandler.Reschedule)
	mux.HandleFunc("/api/v1/admin/appointments", httpx.RequireRole(bookingHandler.Schedule, "admin", "therapist"))
	mux.HandleFunc("/api/v1/admin/appointments/status", httpx.RequireRole(bookingHandler.UpdateStatus, "admin", "therapist"))
	mux.HandleFunc("/api/v1/admin/blocked-dates", httpx.RequireRole(bookingHandler.ListBlockedDates, "admin", "therapist"))
	mux.HandleFunc("/api/v1/admin/blocked-dates/create", httpx.RequireRole(bookingHandler.CreateBlockedDate, "admin", "therapist"))
	mux.HandleFunc("/api/v1/admin/blocked-dates/delete", httpx.RequireRole(bookingHandler.DeleteBlockedDate, "admin", "therapist"))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithJWT(config.String("JWT_SECRET", "")),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
