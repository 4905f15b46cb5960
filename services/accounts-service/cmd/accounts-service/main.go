package main

import (
	"context"
	"net/http"
	"time"

	"github.com/serenitymassage/bookwell/libs/config"
	"github.com/serenitymassage/bookwell/libs/db"
	"github.com/serenitymassage/bookwell/libs/httpx"
	otelx "github.com/serenitymassage/bookwell/libs/otel"
	"github.com/serenitymassage/bookwell/libs/runtime"
	"github.com/serenitymassage/bookwell/services/accounts-service/internal/handlers"
	"github.com/serenitymassage/bookwell/services/accounts-service/internal/sessions"
	"github.com/serenitymassage/bookwell/services/accounts-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "accounts-service")
	port, err := config.Port("PORT", "8082")
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

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	accessTTL := time.Duration(config.Int("ACCESS_TOKEN_TTL_MINUTES", 60)) * time.Minute
	refreshTTL := time.Duration(config.Int("REFRESH_TOKEN_TTL_DAYS", 30)) * 24 * time.Hour

	users := storage.NewUserRepository(pool)
	refreshRepo := sessions.NewRefreshRepository(pool)
	authHandler := handlers.NewAuthHandler(users, refreshRepo, logger, jwtSecret, accessTTL, refreshTTL)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	mux.HandleFunc("/api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("/api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("/api/v1/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("/api/v1/auth/logout", authHandler.Logout)
	mux.HandleFunc("/api/v1/auth/me", authHandler.Me)
	mux.HandleFunc("/api/v1/admin/memberships", httpx.RequireRole(authHandler.SetMembership, "admin"))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithJWT(jwtSecret),
	)
	handler = otelhttp.NewHandler(handler, "accounts")
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
