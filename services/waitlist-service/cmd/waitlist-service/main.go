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
	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/handlers"
	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/offers"
	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/storage"
	"github.com/serenitymassage/bookwell/services/waitlist-service/internal/sweeper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "waitlist-service")
	port, err := config.Port("PORT", "8085")
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

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewWaitlistRepository(pool, outboxRepo)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	offerTTL := time.Duration(config.Int("OFFER_TTL_MINUTES", 120)) * time.Minute
	offerer := offers.New(repo, logger, offerTTL, loadLocation(logger))

	sweepEvery := time.Duration(config.Int("SWEEP_INTERVAL_MINUTES", 5)) * time.Minute
	go sweeper.New(repo, logger, sweepEvery).Run(ctx)

	if brokers := config.String("KAFKA_BROKERS", ""); strings.TrimSpace(brokers) != "" {
		inboxRepo := inbox.NewRepository(pool)
		groupID := config.String("KAFKA_GROUP_ID", "waitlist-service")

		// Cancellations free slots; the top-ranked matching entry gets first
		// refusal before the opening goes back to the public calendar.
		cancelConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   "booking.appointment.cancelled.v1",
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				ServiceID string `json:"service_id"`
				Date      string `json:"date"`
				StartTime string `json:"start_time"`
				EndTime   string `json:"end_time"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid cancellation payload", "err", err)
				return nil
			}
			date, err := time.Parse("2006-01-02", payload.Date)
			if err != nil {
				logger.Error("invalid cancellation date", "date", payload.Date)
				return nil
			}
			start, err := time.Parse(time.RFC3339, payload.StartTime)
			if err != nil {
				logger.Error("invalid cancellation start_time", "start_time", payload.StartTime)
				return nil
			}
			end, err := time.Parse(time.RFC3339, payload.EndTime)
			if err != nil {
				logger.Error("invalid cancellation end_time", "end_time", payload.EndTime)
				return nil
			}
			return offerer.HandleFreedSlot(ctx, offers.FreedSlot{
				ServiceID: payload.ServiceID,
				Date:      date,
				StartTime: start,
				EndTime:   end,
			})
		})
		go cancelConsumer.Run(ctx)

		// Bookings settle open offers for the same client and service.
		bookedConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   "booking.appointment.booked.v1",
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				ServiceID   string `json:"service_id"`
				ClientEmail string `json:"client_email"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid booked payload", "err", err)
				return nil
			}
			if payload.ClientEmail == "" || payload.ServiceID == "" {
				return nil
			}
			settled, err := repo.MarkBooked(ctx, payload.ClientEmail, payload.ServiceID)
			if err != nil {
				return err
			}
			if settled > 0 {
				logger.Info("waitlist offer settled by booking",
					"client_email", payload.ClientEmail, "entries", settled)
			}
			return nil
		})
		go bookedConsumer.Run(ctx)
	}

	waitlistHandler := handlers.NewWaitlistHandler(repo, logger, offerTTL)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/waitlist/join", waitlistHandler.Join)
	mux.HandleFunc("/api/v1/waitlist/entries", waitlistHandler.Entries)
	mux.HandleFunc("/api/v1/waitlist/cancel", waitlistHandler.Cancel)
	mux.HandleFunc("/api/v1/waitlist/position", waitlistHandler.Position)
	mux.HandleFunc("/api/v1/admin/waitlist", httpx.RequireRole(waitlistHandler.AdminList, "admin", "therapist"))
	mux.HandleFunc("/api/v1/admin/waitlist/notify", httpx.RequireRole(waitlistHandler.AdminNotify, "admin", "therapist"))
	mux.HandleFunc("/api/v1/admin/waitlist/statistics", httpx.RequireRole(waitlistHandler.AdminStatistics, "admin", "therapist"))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithJWT(config.String("JWT_SECRET", "")),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "waitlist")
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

// loadLocation resolves the studio timezone. Entry time windows are minutes
// into the studio's day, so offers must read the slot clock in that zone.
func loadLocation(logger *slog.Logger) *time.Location {
	name := config.String("STUDIO_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Error("invalid STUDIO_TIMEZONE, using UTC", "tz", name, "err", err)
		return time.UTC
	}
	return loc
}
