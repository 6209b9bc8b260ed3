// Package main — cmd/remediation-agent/main.go
//
// Endpoint remediation agent entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/remediation-agent/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open the atomic file store and bbolt audit ledger.
//  4. Prune stale ledger entries.
//  5. Start Prometheus metrics server (127.0.0.1:9092).
//  6. Construct the pipeline domain (loads memory, pending actions,
//     tickets, ignore/exclusion lists, maintenance windows from disk).
//  7. Connect the duplex server transport (reconnects in the background).
//  8. Start the playbook executor loop and escalation batch-flush timer.
//  9. Start the operator Unix-socket server, if enabled.
// 10. Register SIGHUP handler for config hot-reload.
// 11. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Wait for the executor loop and batch-flush timer to return (max 5s).
//  3. Close the operator socket listener.
//  4. Close the audit ledger.
//  5. Flush logger.
//  6. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/octoreflex/remediation-agent/internal/config"
	"github.com/octoreflex/remediation-agent/internal/operatorsock"
	"github.com/octoreflex/remediation-agent/internal/pipeline"
	"github.com/octoreflex/remediation-agent/internal/store"
	"github.com/octoreflex/remediation-agent/internal/telemetry"
	"github.com/octoreflex/remediation-agent/internal/transport"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/remediation-agent/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("remediation-agent %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("remediation-agent starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("device_id", cfg.DeviceID),
		zap.String("tenant_id", cfg.TenantID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open file store and audit ledger ──────────────────────────────
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		log.Fatal("data dir create failed", zap.Error(err), zap.String("path", cfg.Storage.DataDir))
	}
	fs, err := store.NewFileStore(cfg.Storage.DataDir)
	if err != nil {
		log.Fatal("file store open failed", zap.Error(err), zap.String("path", cfg.Storage.DataDir))
	}

	ledger, err := store.OpenLedger(cfg.Storage.LedgerPath, cfg.Storage.LedgerRetentionDays)
	if err != nil {
		log.Fatal("audit ledger open failed", zap.Error(err), zap.String("path", cfg.Storage.LedgerPath))
	}
	defer ledger.Close() //nolint:errcheck
	log.Info("storage opened", zap.String("data_dir", cfg.Storage.DataDir), zap.String("ledger", cfg.Storage.LedgerPath))

	// ── Step 4: Prune stale ledger entries ────────────────────────────────────
	pruned, err := ledger.Prune()
	if err != nil {
		log.Warn("ledger pruning failed", zap.Error(err))
	} else {
		log.Info("ledger pruned", zap.Int("deleted", pruned))
	}

	// ── Step 5: Prometheus metrics ─────────────────────────────────────────────
	metrics := telemetry.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Telemetry.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Telemetry.MetricsAddr))

	// ── Transport registration info (the client itself is constructed after
	// the domain, since it needs the domain's HandleInbound) ──────────────────
	registerInfo := transport.RegisterInfo{
		DeviceID: cfg.DeviceID,
		TenantID: cfg.TenantID,
		Version:  config.Version,
	}
	if hostname, hErr := os.Hostname(); hErr == nil {
		registerInfo.Hostname = hostname
	}

	// ── Step 6: Pipeline domain ────────────────────────────────────────────────
	var dom *pipeline.Domain
	transportSender := pipeline.Sender(nil)
	dom, err = pipeline.NewDomain(pipeline.Deps{
		Config:  cfg,
		FS:      fs,
		Ledger:  ledger,
		Metrics: metrics,
		Log:     log,
		Transport: &lazySender{get: func() pipeline.Sender {
			return transportSender
		}},
	})
	if err != nil {
		log.Fatal("pipeline domain init failed", zap.Error(err))
	}

	transportClient := transport.New(transport.Config{
		ServerURL:          cfg.Transport.ServerURL,
		BearerToken:        cfg.Transport.BearerToken,
		HeartbeatInterval:  cfg.Transport.HeartbeatInterval,
		ReconnectBaseDelay: cfg.Transport.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Transport.ReconnectMaxDelay,
		ReconnectJitter:    cfg.Transport.ReconnectJitter,
	}, registerInfo, dom.HandleInbound, log)
	transportSender = transportClient

	// ── Step 7: Transport ──────────────────────────────────────────────────────
	go transportClient.Run(ctx)
	log.Info("transport client started", zap.String("server_url", cfg.Transport.ServerURL))

	// ── Step 8: Executor loop and batch-flush timer ───────────────────────────
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dom.Run(ctx)
	}()
	log.Info("pipeline domain running")

	// ── Step 9: Operator socket ────────────────────────────────────────────────
	if cfg.Operator.Enabled {
		opServer := operatorsock.NewServer(cfg.Operator.SocketPath, filepath.Dir(cfg.Operator.SocketPath), dom, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := opServer.ListenAndServe(ctx); err != nil {
				log.Error("operator socket server error", zap.Error(err))
			}
		}()
		log.Info("operator socket started", zap.String("path", cfg.Operator.SocketPath))
	} else {
		log.Info("operator socket disabled")
	}

	// ── Step 10: SIGHUP hot-reload ─────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			log.Info("config hot-reload successful",
				zap.Float64("new_class_a_threshold", newCfg.Decision.ClassAThreshold),
				zap.Duration("new_cooldown", newCfg.Escalation.Cooldown),
			)
			// newCfg is validated and logged only; the running domain,
			// transport and operator socket keep the config they were
			// started with, so every change takes effect on restart.
		}
	}()

	// ── Step 11: Wait for shutdown signal ──────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-shutdownTimer.C:
		log.Warn("shutdown drain timeout — forcing exit")
	case <-done:
		log.Info("all goroutines drained")
	}

	log.Info("remediation-agent shutdown complete")
}

// lazySender defers to a getter invoked at call time, breaking the
// construction-order cycle between the pipeline domain (which needs a
// Sender at NewDomain time) and the transport client (which needs the
// domain's HandleInbound method as its InboundHandler).
type lazySender struct {
	get func() pipeline.Sender
}

func (s *lazySender) Send(msgType string, body any) error {
	sender := s.get()
	if sender == nil {
		return fmt.Errorf("transport not yet initialized")
	}
	return sender.Send(msgType, body)
}

func (s *lazySender) Connected() bool {
	sender := s.get()
	return sender != nil && sender.Connected()
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
