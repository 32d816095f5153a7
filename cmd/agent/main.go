package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itf-gmbh/phone-agent/internal/api/router"
	"github.com/itf-gmbh/phone-agent/internal/app/bootstrap"
	appconfig "github.com/itf-gmbh/phone-agent/internal/config"
	"github.com/itf-gmbh/phone-agent/internal/http/handlers"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting phone-agent",
		"env", cfg.Env,
		"port", cfg.Port,
		"tenant", cfg.TenantID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	// Background workers.
	rt.Dialer.Start(ctx)
	if rt.Sweeper != nil {
		go rt.Sweeper.Run(ctx)
	}
	if rt.Intake != nil {
		go rt.Intake.Run(ctx)
	}

	controlHandler := handlers.NewControlHandler(rt.Controller, logger)
	webhookHandler := handlers.NewWebhookHandler(handlers.WebhookConfig{
		SMS:              rt.Controller,
		Email:            rt.Controller,
		TwilioAuthToken:  twilioWebhookToken(cfg),
		TwilioWebhookURL: bootstrap.TwilioStatusCallbackURL(cfg),
		Metrics:          rt.DeliveryMetrics,
		Logger:           logger,
	})
	var taskHandler *handlers.TaskHandler
	if rt.Routing != nil {
		taskHandler = handlers.NewTaskHandler(rt.Routing, logger)
	}
	var pinger handlers.Pinger
	if rt.Pool != nil {
		pinger = rt.Pool
	}

	r := router.New(&router.Config{
		Logger:             logger,
		Health:             handlers.NewHealthHandler(pinger),
		Control:            controlHandler,
		Tasks:              taskHandler,
		Webhooks:           webhookHandler,
		MediaHandler:       rt.Bridge.HandleMedia,
		MediaToken:         cfg.MediaStreamToken,
		MetricsHandler:     promhttp.HandlerFor(rt.MetricsRegistry, promhttp.HandlerOpts{}),
		AdminAuthSecret:    cfg.AdminAuthSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   cfg.WebhookRateLimit,
		WebhookBurst:       cfg.WebhookBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// Let active calls drain before dropping the process.
	rt.Dialer.Stop()
	cancel()

	logger.Info("stopped")
}

// twilioWebhookToken returns the auth token used to validate inbound
// status callbacks, or empty when validation is switched off.
func twilioWebhookToken(cfg *appconfig.Config) string {
	if !cfg.TwilioValidateSig {
		return ""
	}
	return cfg.TwilioAuthToken
}
