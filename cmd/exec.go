package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-portal/config"
	"event-portal/handlers"
	"event-portal/internal/lib/logger/sl"
	"event-portal/internal/services/eventapi"
	"event-portal/internal/services/push"
	"event-portal/internal/services/session"
	"event-portal/internal/services/views"
	"event-portal/monitoring"
	"event-portal/security"
	"event-portal/utils"
)

const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

const shutdownTimeout = 15 * time.Second

func Start() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	log := setupLogger(cfg.Environment)
	log.Info("starting event portal", slog.String("env", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	pn, err := push.NewPubNub(ctx, log, push.PubNubConfig{
		PublishKey:   cfg.PubNubPublishKey,
		SubscribeKey: cfg.PubNubSubscribeKey,
		SecretKey:    cfg.PubNubSecretKey,
		CipherKey:    cfg.PubNubCipherKey,
		UserID:       cfg.PubNubUserID,
		Channel:      cfg.PubNubChannel,
	})
	if err != nil {
		return fmt.Errorf("init push channel: %w", err)
	}
	defer pn.Close()

	api, err := eventapi.New(log, utils.NewHTTPClient(cfg.APITimeout), eventapi.Config{
		BaseURL: cfg.APIBaseURL,
		Breaker: utils.BreakerSettings{
			MaxRequests:  cfg.BreakerMaxRequests,
			Interval:     cfg.BreakerInterval,
			Timeout:      cfg.BreakerTimeout,
			FailureRatio: cfg.BreakerFailureRatio,
		},
	})
	if err != nil {
		return err
	}

	registry := views.NewRegistry(log, pn, api, views.Config{
		IdleTTL:            cfg.ViewIdleTTL,
		SweepInterval:      cfg.ViewSweepInterval,
		MaxViewsPerSession: cfg.MaxViewsPerSession,
	})
	registry.Start()

	limiter := security.NewRateLimiter(redisClient, log, cfg.ThrottleLimit, cfg.ThrottleWindow)
	sessions := session.NewRedisStore(redisClient, cfg.SessionTTL)

	h := handlers.New(log, api, sessions, registry, limiter, handlers.Config{
		CookieName:    cfg.SessionCookieName,
		SessionTTL:    cfg.SessionTTL,
		SecureCookies: !cfg.IsDevelopment(),
	})

	if cfg.EnableMetrics {
		monitor := monitoring.NewMonitor(log, 30*time.Second)
		go monitor.CollectMetrics(ctx)
		go func() {
			_ = monitor.Serve(ctx, net.JoinHostPort("", cfg.MetricsPort))
		}()
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			log.Error("http server failed", sl.Err(err))
			return err
		}
	}

	return shutdown(log, srv, registry, cancel)
}

// shutdown unmounts every view before the HTTP server drains, so open
// streams see their view close and return.
func shutdown(log *slog.Logger, srv *http.Server, registry *views.Registry, cancel context.CancelFunc) error {
	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if err := registry.Shutdown(ctx); err != nil {
		log.Warn("views did not stop in time", sl.Err(err))
	}
	err := srv.Shutdown(ctx)
	cancel()
	if err != nil {
		log.Error("http server shutdown failed", sl.Err(err))
		return err
	}
	log.Info("event portal stopped")
	return nil
}

func setupLogger(env string) *slog.Logger {
	var logger *slog.Logger

	switch env {
	case envLocal:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return logger
}
