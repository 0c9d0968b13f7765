package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is only served when --pprof-port is set, on its own port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/theravoice/theravoice/internal/api"
	"github.com/theravoice/theravoice/internal/auth"
	"github.com/theravoice/theravoice/internal/chat"
	"github.com/theravoice/theravoice/internal/civiltime"
	"github.com/theravoice/theravoice/internal/config"
	"github.com/theravoice/theravoice/internal/history"
	"github.com/theravoice/theravoice/internal/job"
	"github.com/theravoice/theravoice/internal/logger"
	"github.com/theravoice/theravoice/internal/mail"
	"github.com/theravoice/theravoice/internal/metrics"
	"github.com/theravoice/theravoice/internal/reminder"
	"github.com/theravoice/theravoice/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the reminder scheduler",
	RunE:  runServe,
}

var pprofPort string

func init() {
	serveCmd.Flags().StringVar(&pprofPort, "pprof-port", "", "Serve net/http/pprof on this port (disabled when empty)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	apiLog := log.WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal)
	apiLog.Info("API server starting",
		"api_port", cfg.APIPort,
		"appointment_timezone", cfg.AppointmentTimezone,
		"smtp_enabled", cfg.Mail.Host != "",
		"openai_enabled", cfg.OpenAI.APIKey != "",
		"history_enabled", cfg.History.Enabled)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	normalizer, err := civiltime.NewNormalizer(cfg.AppointmentTimezone)
	if err != nil {
		return err
	}

	mailer, err := newMailer(cfg, log)
	if err != nil {
		return err
	}
	mailer = collector.InstrumentSender(mailer)
	reminders := reminder.NewAction(mailer, log)

	tokens, err := auth.NewTokenService(cfg.JWTSecretKey, cfg.TokenTTL)
	if err != nil {
		return err
	}

	responder, err := newResponder(cfg, log)
	if err != nil {
		return err
	}

	observers := []scheduler.Observer{collector}
	var backend history.Backend
	if cfg.History.Enabled {
		client, err := history.NewRedisClient(ctx, cfg.History.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to job history: %w", err)
		}
		backend = history.NewRedisBackend(client, cfg.History.TTLSuccess, cfg.History.TTLFailure)
		observers = append(observers, history.NewObserver(backend, log))
	}

	registry := scheduler.NewRegistry()
	registry.MustRegister(job.KindAppointmentReminder, reminders.Handle)

	sched := scheduler.New(registry, scheduler.Options{
		PollInterval: cfg.SchedulerPollInterval,
		Logger:       log,
		Observers:    observers,
	})
	collector.TrackPending(sched.Pending)
	// Shut down explicitly once the HTTP server has drained
	if err := sched.Start(context.Background()); err != nil {
		return err
	}

	limiter := api.NewRateLimiter(api.RateLimitConfig{
		RPS:            cfg.RateLimitRPS,
		Burst:          cfg.RateLimitBurst,
		TrustedProxies: cfg.TrustedProxies,
	}, apiLog)
	defer limiter.Stop()

	router := api.NewRouter(&api.Deps{
		Scheduler:          sched,
		Normalizer:         normalizer,
		Reminders:          reminders,
		Mailer:             mailer,
		Tokens:             tokens,
		Chat:               responder,
		History:            backend,
		Metrics:            collector,
		Gatherer:           reg,
		RateLimiter:        limiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             log,
	})

	if pprofPort != "" {
		go servePprof(apiLog, pprofPort)
	}

	addr := ":" + cfg.APIPort
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		apiLog.Info("API server listening", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		apiLog.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			apiLog.Error("API server failed", "error", err)
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		apiLog.Error("HTTP server shutdown failed", "error", err)
	}

	if err := sched.Shutdown(shutdownCtx); err != nil {
		apiLog.Error("Scheduler shutdown incomplete", "error", err, "in_flight", sched.InFlight())
	}

	if backend != nil {
		if err := backend.Close(); err != nil {
			apiLog.Warn("Failed to close job history", "error", err)
		}
	}

	apiLog.Info("API server stopped")
	return runErr
}

func newMailer(cfg *config.Config, log logger.Logger) (mail.Sender, error) {
	if cfg.Mail.Host == "" {
		log.WithComponent(logger.ComponentMailer).Warn("SMTP_HOST not set, emails will only be logged")
		return mail.NewLogSender(log), nil
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		Timeout:  cfg.Mail.Timeout,
	}, log)
}

func newResponder(cfg *config.Config, log logger.Logger) (chat.Responder, error) {
	if cfg.OpenAI.APIKey == "" {
		return chat.NewCannedResponder(), nil
	}
	return chat.NewOpenAIResponder(chat.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		BaseURL: cfg.OpenAI.BaseURL,
	}, log)
}

func servePprof(log logger.Logger, port string) {
	log.Info("Starting pprof server", "port", port, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", port))
	pprofServer := &http.Server{
		Addr:              ":" + port,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := pprofServer.ListenAndServe(); err != nil {
		log.Error("pprof server failed", "error", err)
	}
}
