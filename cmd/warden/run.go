package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/app"
	"github.com/wardenlabs/warden/internal/auth"
	"github.com/wardenlabs/warden/internal/budget"
	"github.com/wardenlabs/warden/internal/cloudauth"
	"github.com/wardenlabs/warden/internal/config"
	"github.com/wardenlabs/warden/internal/contentgate"
	"github.com/wardenlabs/warden/internal/convo"
	"github.com/wardenlabs/warden/internal/cost"
	"github.com/wardenlabs/warden/internal/provider"
	"github.com/wardenlabs/warden/internal/provider/openai"
	"github.com/wardenlabs/warden/internal/quota"
	"github.com/wardenlabs/warden/internal/ratelimit"
	"github.com/wardenlabs/warden/internal/server"
	"github.com/wardenlabs/warden/internal/storage/sqlite"
	"github.com/wardenlabs/warden/internal/telemetry"
	"github.com/wardenlabs/warden/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting warden", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Observability
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
		notifier       budget.Notifier
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		notifier = telemetry.AlertNotifier{Metrics: metrics}
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdownTracing(context.Background())
	}

	// Identity resolver
	resolver, err := auth.New(store, auth.Options{
		JWTSecret:    cfg.Auth.JWTSecret,
		CacheEntries: cfg.Auth.CacheEntries,
		CacheTTL:     cfg.Auth.CacheTTL,
		Limits:       cfg.Limits,
	})
	if err != nil {
		return err
	}

	// Model client
	model, err := newModelClient(ctx, cfg)
	if err != nil {
		return err
	}
	instrumented := telemetry.InstrumentModel(model, metrics)

	// Content gate
	sigs := contentgate.DefaultSignatures()
	for _, e := range cfg.Gate.ExtraSignatures {
		sigs = append(sigs, contentgate.Signature{Reason: e.Reason, Pattern: e.Pattern})
	}
	gate, err := contentgate.New(sigs)
	if err != nil {
		return err
	}

	// Governance components
	estimator := cost.New(cfg.Pricing)
	quotaEnf := quota.New(store)
	ledger := budget.New(store, cfg.Budget.DailyCapCents, cfg.Budget.AlertThresholdPcts, notifier)
	governor := convo.NewGovernor(store, cfg.Budget.ConversationTokenCeiling)

	// Background workers
	var queueGauge prometheus.Gauge
	if metrics != nil {
		queueGauge = metrics.LogQueueLength
	}
	recorder := worker.NewLogRecorder(store, worker.LogRecorderOptions{
		BatchSize:  cfg.Workers.LogBatchSize,
		FlushEvery: cfg.Workers.LogFlushInterval,
		QueueGauge: queueGauge,
	})
	workers := []worker.Worker{
		recorder,
		worker.NewCounterSweeper(store, cfg.Workers.SweepInterval),
	}
	if metrics != nil {
		workers = append(workers, worker.NewSpendGauge(store, metrics.DailySpendCents, 0))
	}

	chat := app.NewChatService(
		ratelimit.New(store),
		gate,
		estimator,
		quotaEnf,
		ledger,
		governor,
		store,
		instrumented,
		recorder,
	)
	remediation := app.NewRemediationService(
		estimator, quotaEnf, ledger, store, instrumented, recorder,
		app.RemediationOptions{
			SummaryMaxOutputTokens: cfg.Model.Summarize.MaxOutputTokens,
			TurnWindow:             cfg.Model.Summarize.TurnWindow,
		},
	)

	handler := server.New(server.Deps{
		Resolver:       resolver,
		Chat:           chat,
		Remediation:    remediation,
		Store:          store,
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	runner := worker.NewRunner(workers...)
	workerErrCh := make(chan error, 1)
	go func() {
		workerErrCh <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("warden ready", "addr", cfg.Server.Addr, "model", cfg.Model.Name)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop workers after the server so in-flight requests can still enqueue
	// log records; the recorder drains its queue on cancellation.
	cancelWorkers()
	if err := <-workerErrCh; err != nil {
		slog.Error("worker runner failed", "error", err)
	}

	slog.Info("warden stopped")
	return nil
}

// newModelClient builds the upstream client for the configured hosting mode.
func newModelClient(ctx context.Context, cfg *config.Config) (warden.ModelClient, error) {
	dnsResolver := &dnscache.Resolver{}
	go refreshDNS(ctx, dnsResolver)
	transport := provider.NewTransport(dnsResolver)

	var rt http.RoundTripper
	baseURL := cfg.Model.BaseURL

	switch cfg.Model.Hosting {
	case "vertex":
		oauth, err := cloudauth.NewGCPOAuthTransport(ctx, transport,
			"https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return nil, err
		}
		rt = oauth
		if baseURL == "" {
			baseURL = fmt.Sprintf(
				"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/endpoints/openapi",
				cfg.Model.Region, cfg.Model.Project, cfg.Model.Region)
		}
	case "":
		rt = transport
		if cfg.Model.APIKey != "" {
			rt = &cloudauth.APIKeyTransport{
				Base:       transport,
				Key:        cfg.Model.APIKey,
				HeaderName: "Authorization",
				Prefix:     "Bearer ",
			}
		}
	default:
		return nil, fmt.Errorf("unknown model hosting %q", cfg.Model.Hosting)
	}

	client := &http.Client{Transport: rt, Timeout: cfg.Model.Timeout}
	return openai.New(cfg.Model.Name, baseURL, client), nil
}

func refreshDNS(ctx context.Context, r *dnscache.Resolver) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(true)
		}
	}
}
