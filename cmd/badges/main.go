package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/alert"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/config"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/engine"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/fetch"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/holders"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/provider"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/provider/glacier"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/provider/snowscan"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/scheduler"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/sender"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/social/arena"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	project, err := config.LoadProject(cfg.ProjectFile)
	if err != nil {
		logger.Error("failed to load project config", "path", cfg.ProjectFile, "error", err)
		os.Exit(1)
	}

	logger.Info("starting badge engine",
		"project", project.Project,
		"snowscan_keys", len(cfg.Providers.Snowscan.APIKeys),
		"sum_of_balances", project.SumOfBalances,
		"exclude_basic_for_upgraded", project.ExcludeBasicForUpgraded,
		"basic_requirements", len(project.Basic.Tokens)+len(project.Basic.NFTs),
		"upgraded_requirements", len(project.Upgraded.Tokens)+len(project.Upgraded.NFTs),
		"interval_hours", project.Scheduler.IntervalHours,
		"retry_interval_hours", project.Scheduler.RetryIntervalHours,
		"dry_run", cfg.Sender.DryRun,
		"export_only", cfg.Sender.ExportOnly,
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.OTLPEndpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "arena-badges", tracingEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.OTLPEndpoint)
	}

	snowscanClient := snowscan.New(cfg.Providers.Snowscan.BaseURL, fetch.NewClient(fetch.Config{
		Name:        "snowscan",
		HTTPTimeout: cfg.Providers.Snowscan.RequestTimeout,
		RPS:         cfg.Providers.Snowscan.RatePerSecond,
		Keys:        fetch.NewKeyPool(cfg.Providers.Snowscan.APIKeys),
		Breaker:     fetch.NewBreaker(fetch.BreakerConfig{}),
		MaxAttempts: cfg.Providers.Snowscan.MaxAttempts,
		BaseDelay:   cfg.Providers.Snowscan.BaseDelay,
	}, logger), logger)

	glacierClient := glacier.New(cfg.Providers.Glacier.BaseURL, fetch.NewClient(fetch.Config{
		Name:        "glacier",
		HTTPTimeout: cfg.Providers.Glacier.RequestTimeout,
		RPS:         cfg.Providers.Glacier.RatePerSecond,
		Breaker:     fetch.NewBreaker(fetch.BreakerConfig{}),
		MaxAttempts: cfg.Providers.Glacier.MaxAttempts,
		BaseDelay:   cfg.Providers.Glacier.BaseDelay,
	}, logger), logger)

	arenaClient := arena.New(cfg.Providers.Arena.BaseURL, fetch.NewClient(fetch.Config{
		Name:        "arena",
		HTTPTimeout: cfg.Providers.Arena.RequestTimeout,
		RPS:         cfg.Providers.Arena.RatePerSecond,
		Breaker:     fetch.NewBreaker(fetch.BreakerConfig{}),
		MaxAttempts: cfg.Providers.Arena.MaxAttempts,
		BaseDelay:   cfg.Providers.Arena.BaseDelay,
	}, logger), logger)

	// Snowscan serves holder data when keys are configured; Glacier is the
	// unkeyed fallback and always serves balance top-ups.
	providerName := "snowscan"
	var tokenSource provider.TokenHolderSource = snowscanClient
	var nftSource provider.NFTHolderSource = snowscanClient
	if len(cfg.Providers.Snowscan.APIKeys) == 0 {
		providerName = "glacier"
		tokenSource = glacierClient
		nftSource = glacierClient
		logger.Info("no snowscan keys configured, using glacier for holder data")
	}

	fetcher := holders.New(providerName, tokenSource, nftSource, holders.Config{}, logger)
	eng := engine.New(fetcher, glacierClient, arenaClient, engine.Options{
		ResolverCacheSize: cfg.Providers.Arena.CacheSize,
		ResolverBatchSize: cfg.Providers.Arena.BatchSize,
	}, logger)

	var snd sender.Sender
	if cfg.Sender.ExportOnly {
		snd = sender.NewExportSender(cfg.Sender.ExportDir, logger)
	} else {
		snd = sender.NewHTTPSender(cfg.Sender.Endpoint, cfg.Sender.Token, fetch.NewClient(fetch.Config{
			Name: "badge-api",
		}, logger), cfg.Sender.DryRun, logger)
	}

	var alerters []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		alerters = append(alerters, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	var alerter alert.Alerter = &alert.NoopAlerter{}
	if len(alerters) > 0 {
		alerter = alert.NewMultiAlerter(time.Duration(cfg.Alert.CooldownMin)*time.Minute, logger, alerters...)
	}

	sched := scheduler.New(
		func(ctx context.Context) (*model.EligibilityResult, error) { return eng.Run(ctx, project) },
		snd,
		scheduler.Config{
			Interval:      time.Duration(project.Scheduler.IntervalHours * float64(time.Hour)),
			RetryInterval: time.Duration(project.Scheduler.RetryIntervalHours * float64(time.Hour)),
		},
		alerter,
		project.Project,
		scheduler.Callbacks{},
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, logger)
	})

	g.Go(func() error {
		return sched.Run(gCtx)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("badge engine exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("badge engine shut down gracefully")
}

func runHealthServer(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
