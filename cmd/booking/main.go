// cmd/booking/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rentalhub/internal/apperr"
	"rentalhub/internal/auth"
	"rentalhub/internal/availability"
	"rentalhub/internal/booking"
	"rentalhub/internal/config"
	"rentalhub/internal/notification"
	"rentalhub/internal/realtime"
	"rentalhub/internal/store/memory"
	"rentalhub/internal/store/postgres"
	"rentalhub/internal/telemetry"
)

type backend interface {
	booking.Store
	availability.Store
	notification.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	a := newApp(cfg, store, logger)

	go runResumeSweeper(ctx, a.index, cfg.ResumeSweepInterval, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting booking service", "port", cfg.Port, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}
}

type app struct {
	router http.Handler
	index  availability.Index
}

// newApp wires the services over store. The notification service starts
// without a pusher and receives the gateway once it exists.
func newApp(cfg *config.Config, store backend, logger *slog.Logger) *app {
	index := availability.NewIndex(store)
	notifications := notification.NewService(store, nil, logger)
	bookings := booking.NewService(store, index, notifications, logger, booking.Config{
		CancelWindow:     cfg.CancelWindow,
		CreatesPerMinute: cfg.CreatesPerMinute,
	})
	gateway := realtime.NewGateway(realtime.NewPresence(), logger)
	notifications.SetPusher(gateway)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	realtimeHandler := realtime.NewHandler(gateway, verifier, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		apperr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ws", realtimeHandler.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(verifier.Middleware)
		r.Route("/requests", booking.NewHandler(bookings, logger).Routes)
		r.Route("/notifications", notification.NewHandler(notifications, logger).Routes)
		r.Route("/items", availability.NewHandler(index, logger).Routes)
		r.Route("/conversations", realtimeHandler.RelayRoutes)
	})

	return &app{router: r, index: index}
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backend, func(), error) {
	if cfg.Store == config.StoreMemory {
		s := memory.New()
		if cfg.SeedItems != "" {
			n, err := s.LoadItems(cfg.SeedItems)
			if err != nil {
				return nil, nil, err
			}
			logger.Info("seeded items", "count", n, "path", cfg.SeedItems)
		}
		return s, func() {}, nil
	}

	s, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := s.DB().PingContext(ctx); err != nil {
		s.Close()
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}

// runResumeSweeper drops elapsed holds and resumes items whose pause ended.
func runResumeSweeper(ctx context.Context, index availability.Index, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			resumed, err := index.Sweep(ctx, now.UTC())
			if err != nil {
				logger.Error("resume sweep failed", "error", err)
				continue
			}
			if resumed > 0 {
				logger.Info("resumed items", "count", resumed)
			}
		}
	}
}
