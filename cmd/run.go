package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/config"
	"github.com/nextlevelbuilder/botgate/internal/dispatch"
	"github.com/nextlevelbuilder/botgate/internal/gateway"
	"github.com/nextlevelbuilder/botgate/internal/msgapi"
	"github.com/nextlevelbuilder/botgate/internal/ratelimit"
	"github.com/nextlevelbuilder/botgate/internal/store"
	"github.com/nextlevelbuilder/botgate/internal/store/filestore"
	"github.com/nextlevelbuilder/botgate/internal/store/sqlitestore"
	"github.com/nextlevelbuilder/botgate/internal/stream"
	"github.com/nextlevelbuilder/botgate/internal/telemetry"
)

const (
	productionAPIBase = "https://api.sgroup.qq.com"
	sandboxAPIBase    = "https://sandbox.api.sgroup.qq.com"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the gateway connector (also the default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runConnector()
		},
	}
}

func runConnector() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry first so every later component picks up the tracer.
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    telemetryEndpoint(cfg),
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}

	sessStore, closeStore, err := openSessionStore(cfg)
	if err != nil {
		slog.Error("session store unavailable", "error", err)
		os.Exit(1)
	}

	apiBase := cfg.Account.APIBase
	if apiBase == "" {
		apiBase = productionAPIBase
		if cfg.Account.Sandbox {
			apiBase = sandboxAPIBase
		}
	}
	client := msgapi.New(apiBase, cfg.Account.AppID, cfg.Account.ClientSecret)

	queue := bus.NewQueue(cfg.Gateway.QueueSize)
	sup := gateway.NewSupervisor(gateway.Config{
		AccountID:         cfg.Account.AppID,
		MaxAttempts:       cfg.Gateway.MaxReconnectAttempts,
		HeartbeatFallback: time.Duration(cfg.Gateway.HeartbeatFallbackSec) * time.Second,
		SaveInterval:      cfg.Sessions.SaveInterval(),
		ShardID:           cfg.Gateway.ShardID,
		ShardCount:        cfg.Gateway.ShardCount,
	}, client, sessStore, queue)

	limiter := ratelimit.NewReplyLimiter(cfg.Reply.MaxPerMessage, cfg.Reply.Window(), nil)
	dispatcher := dispatch.New(dispatch.EchoEngine{}, client, limiter, dispatch.Config{
		GenerateTimeout: cfg.Reply.GenerateTimeout(),
		Stream:          streamConfig(cfg.Stream),
	}, nil)

	if err := sup.Start(ctx); err != nil {
		slog.Error("gateway start failed", "error", err)
		os.Exit(1)
	}
	slog.Info("botgate started",
		"version", Version, "account", cfg.Account.AppID,
		"api_base", apiBase, "sessions", cfg.Sessions.Backend)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		dispatcher.Run(ctx, queue)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("graceful shutdown initiated", "signal", sig)

	// Ordered teardown: stop the socket and its reconnect timers, let
	// the consumer drain, then flush deferred session writes and close
	// the store.
	cancel()
	sup.Stop()
	select {
	case <-consumerDone:
	case <-time.After(10 * time.Second):
		slog.Warn("consumer did not drain in time")
	}
	if closeStore != nil {
		if err := closeStore(); err != nil {
			slog.Warn("session store close failed", "error", err)
		}
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}
	slog.Info("botgate stopped")
}

func setupLogging(lc config.LogConfig) {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func telemetryEndpoint(cfg *config.Config) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.Telemetry.Endpoint
}

func openSessionStore(cfg *config.Config) (store.SessionStore, func() error, error) {
	switch cfg.Sessions.Backend {
	case "sqlite":
		st, err := sqlitestore.Open(cfg.StoragePath())
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		st, err := filestore.New(cfg.StoragePath())
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	}
}

func streamConfig(sc config.StreamConfig) stream.Config {
	cfg := stream.DefaultConfig()
	if sc.MinSendIntervalMS > 0 {
		cfg.MinSendInterval = time.Duration(sc.MinSendIntervalMS) * time.Millisecond
	}
	if sc.KeepaliveDelaySec > 0 {
		cfg.KeepaliveDelay = time.Duration(sc.KeepaliveDelaySec) * time.Second
	}
	if sc.KeepaliveGapSec > 0 {
		cfg.KeepaliveGap = time.Duration(sc.KeepaliveGapSec) * time.Second
	}
	if sc.MaxKeepalives > 0 {
		cfg.MaxKeepalives = sc.MaxKeepalives
	}
	if sc.MaxDurationSec > 0 {
		cfg.MaxDuration = time.Duration(sc.MaxDurationSec) * time.Second
	}
	return cfg
}
