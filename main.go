// Copyright 2025 Certen Protocol
//
// TEE price feed entrypoint. Runs the collect -> aggregate -> submit
// pipeline once or on a fixed interval, and hosts the auxiliary
// account/attestation commands.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tee-oracle/neo-price-feed/pkg/aggregator"
	"github.com/tee-oracle/neo-price-feed/pkg/attestation"
	"github.com/tee-oracle/neo-price-feed/pkg/collector"
	"github.com/tee-oracle/neo-price-feed/pkg/config"
	"github.com/tee-oracle/neo-price-feed/pkg/feed"
	"github.com/tee-oracle/neo-price-feed/pkg/metrics"
	"github.com/tee-oracle/neo-price-feed/pkg/neo"
	"github.com/tee-oracle/neo-price-feed/pkg/ratelimit"
	"github.com/tee-oracle/neo-price-feed/pkg/server"
	"github.com/tee-oracle/neo-price-feed/pkg/source"
	"github.com/tee-oracle/neo-price-feed/pkg/submitter"
)

func main() {
	var (
		continuous       = flag.Bool("continuous", false, "Run cycles on an interval instead of once")
		durationMinutes  = flag.Int("duration", 0, "Total run time in minutes for continuous mode (0 = until signalled)")
		intervalSeconds  = flag.Int("interval", 0, "Seconds between cycles in continuous mode (overrides RUN_INTERVAL_SECONDS)")
		generateAccount  = flag.Bool("generate-account", false, "Generate a new TEE identity and exit")
		secureOutput     = flag.String("secure-output", "", "Write the generated identity to this path with 0600 permissions")
		createAccountAtt = flag.Bool("create-account-attestation", false, "Write an account attestation and exit")
		accountAddress   = flag.String("account-address", "", "Account address for --create-account-attestation")
		verifyAccountAtt = flag.Bool("verify-account-attestation", false, "Verify the current account attestation and exit")
		testMappings     = flag.Bool("test-symbol-mappings", false, "Validate the symbol mapping table and exit")
		skipHealthChecks = flag.Bool("skip-health-checks", false, "Bypass start-up health checks")
		showHelp         = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[PriceFeed] ", log.LstdFlags)

	if *showHelp {
		flag.Usage()
		return
	}

	if *generateAccount {
		if err := runGenerateAccount(*secureOutput, logger); err != nil {
			logger.Printf("Account generation failed: %v", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	if *testMappings {
		if err := config.ValidateMappings(cfg.Symbols, cfg.SymbolMappings); err != nil {
			logger.Printf("Symbol mapping validation failed: %v", err)
			os.Exit(1)
		}
		logger.Printf("Symbol mappings valid: %d symbols", len(cfg.Symbols))
		return
	}

	if *createAccountAtt || *verifyAccountAtt {
		store, err := attestation.NewStore(cfg.Attestation.BaseDirectory, cfg.RunEnv, nil)
		if err != nil {
			logger.Printf("Failed to open attestation store: %v", err)
			os.Exit(1)
		}
		if *createAccountAtt {
			if *accountAddress == "" {
				logger.Printf("--create-account-attestation requires --account-address")
				os.Exit(1)
			}
			if _, err := store.WriteAccountAttestation(*accountAddress); err != nil {
				logger.Printf("Failed to write account attestation: %v", err)
				os.Exit(1)
			}
			return
		}
		rec, err := store.VerifyAccountAttestation()
		if err != nil {
			logger.Printf("Account attestation verification failed: %v", err)
			os.Exit(1)
		}
		logger.Printf("Account attestation valid for %s (run %s)", rec.AccountAddress, rec.RunID)
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Printf("%v", err)
		os.Exit(1)
	}

	// CLI flags override the run section of the environment config.
	if *continuous {
		cfg.Run.Continuous = true
	}
	if *durationMinutes > 0 {
		cfg.Run.DurationMinutes = *durationMinutes
	}
	if *intervalSeconds > 0 {
		cfg.Run.IntervalSeconds = *intervalSeconds
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.Printf("Startup failed: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*skipHealthChecks {
		if err := app.healthChecks(ctx); err != nil {
			logger.Printf("Start-up health checks failed: %v", err)
			os.Exit(1)
		}
	}

	if removed, err := app.attest.Cleanup(cfg.Attestation.RetentionDays); err != nil {
		logger.Printf("Warning: attestation cleanup failed: %v", err)
	} else if removed > 0 {
		logger.Printf("Attestation cleanup removed %d file(s)", removed)
	}

	if cfg.Server.Enabled {
		app.server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = app.server.Shutdown(shutdownCtx)
		}()
	}

	if !cfg.Run.Continuous {
		if err := app.runCycle(ctx); err != nil {
			logger.Printf("Cycle failed: %v", err)
			os.Exit(1)
		}
		return
	}

	app.runContinuous(ctx)
}

// app wires the pipeline components for one process.
type app struct {
	cfg       *config.Config
	collector *collector.Collector
	agg       *aggregator.Aggregator
	submit    *submitter.Submitter
	rpc       *neo.Client
	attest    *attestation.Store
	metrics   *metrics.Metrics
	health    *server.HealthStatus
	server    *server.Server
	enabled   []source.Adapter
	logger    *log.Logger
}

func buildApp(cfg *config.Config, logger *log.Logger) (*app, error) {
	limiter := ratelimit.New(1)
	registry := source.NewRegistry(cfg, limiter, nil)
	enabled := registry.Enabled()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no price sources are enabled")
	}

	col, err := collector.New(enabled, &collector.Config{
		AdapterTimeout: cfg.CollectTimeout,
		MaxParallelism: cfg.MaxParallelism,
		MaxClockSkew:   cfg.MaxClockSkew,
	})
	if err != nil {
		return nil, err
	}

	attest, err := attestation.NewStore(cfg.Attestation.BaseDirectory, cfg.RunEnv, nil)
	if err != nil {
		return nil, err
	}

	bp := cfg.BatchProcessing
	teeAccount, err := neo.AccountFromKeyString(bp.TEEAccountPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid TEE account key: %w", err)
	}
	masterAccount, err := neo.AccountFromKeyString(bp.MasterAccountPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid master account key: %w", err)
	}
	contract, err := neo.Uint160FromHex(bp.ContractScriptHash)
	if err != nil {
		return nil, fmt.Errorf("invalid contract hash: %w", err)
	}

	rpc := neo.NewClient(bp.RPCEndpoint, 15*time.Second, nil)
	sub, err := submitter.New(rpc, attest, &submitter.Config{
		TEEAccount:     teeAccount,
		MasterAccount:  masterAccount,
		Contract:       contract,
		NetworkMagic:   bp.NetworkMagic,
		MaxBatchSize:   bp.MaxBatchSize,
		MaxFeePerBatch: bp.MaxFeePerBatch,
		VUBOffset:      bp.ValidUntilBlockOffset,
		PollInterval:   bp.ConfirmPollInterval,
		ConfirmTimeout: bp.ConfirmTimeout,
		MaxAttempts:    bp.MaxRetryAttempts,
		SweepTeeAssets: bp.CheckAndTransferTeeAssets,
	})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	health := server.NewHealthStatus()
	health.SetSources(len(enabled))
	srv := server.New(cfg.Server.ListenAddr, health, sub.Tracker(), reg, nil)

	return &app{
		cfg:       cfg,
		collector: col,
		agg:       aggregator.New(nil),
		submit:    sub,
		rpc:       rpc,
		attest:    attest,
		metrics:   m,
		health:    health,
		server:    srv,
		enabled:   enabled,
		logger:    logger,
	}, nil
}

// healthChecks verifies the RPC node, attestation directory, and
// source availability before the first cycle.
func (a *app) healthChecks(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	height, err := a.rpc.GetBlockCount(checkCtx)
	if err != nil {
		a.health.SetRPC("disconnected")
		return fmt.Errorf("rpc node unreachable: %w", err)
	}
	a.health.SetRPC("connected")
	a.logger.Printf("RPC node healthy at height %d", height)

	probe, err := os.CreateTemp(a.cfg.Attestation.BaseDirectory, ".health-*")
	if err != nil {
		return fmt.Errorf("attestation directory not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	if len(a.enabled) == 0 {
		return fmt.Errorf("no enabled price sources")
	}
	a.logger.Printf("%d price source(s) enabled", len(a.enabled))
	return nil
}

// runCycle executes one collect -> aggregate -> submit pass.
func (a *app) runCycle(ctx context.Context) error {
	start := time.Now()
	a.metrics.CyclesTotal.Inc()

	observations, err := a.collector.Collect(ctx)
	if err != nil {
		a.metrics.CycleFailuresTotal.Inc()
		a.health.RecordCycle(false)
		return err
	}
	for _, obs := range observations {
		for _, o := range obs {
			a.metrics.ObservationsTotal.WithLabelValues(o.Source).Inc()
		}
	}

	prices := a.agg.Aggregate(observations)
	a.metrics.AggregatedSymbols.Set(float64(len(prices)))
	if len(prices) == 0 {
		a.metrics.CycleFailuresTotal.Inc()
		a.health.RecordCycle(false)
		return fmt.Errorf("aggregation produced no prices")
	}
	a.logger.Printf("Aggregated %d price(s) from %d symbol(s)", len(prices), len(observations))

	batch := feed.NewPriceBatch(prices)
	statuses, err := a.submit.ProcessBatch(ctx, batch)
	if err != nil {
		a.metrics.CycleFailuresTotal.Inc()
		a.health.RecordCycle(false)
		return err
	}
	for _, st := range statuses {
		a.metrics.SubmissionsTotal.WithLabelValues(string(st.State)).Inc()
	}

	a.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	a.health.RecordCycle(true)
	a.logger.Printf("Cycle complete in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// runContinuous paces cycles with a monotonic ticker until the duration
// elapses or a signal arrives.
func (a *app) runContinuous(ctx context.Context) {
	interval := time.Duration(a.cfg.Run.IntervalSeconds) * time.Second
	a.logger.Printf("Continuous mode: interval %s, duration %d minute(s)", interval, a.cfg.Run.DurationMinutes)

	var deadline <-chan time.Time
	if a.cfg.Run.DurationMinutes > 0 {
		timer := time.NewTimer(time.Duration(a.cfg.Run.DurationMinutes) * time.Minute)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.runCycle(ctx); err != nil {
			a.logger.Printf("Warning: cycle failed, will retry next interval: %v", err)
		}
		if n := a.submit.ReconcileUnknown(ctx); n > 0 {
			a.logger.Printf("Upgraded %d previously unknown sub-batch(es)", n)
		}

		select {
		case <-ctx.Done():
			a.logger.Printf("Shutdown signal received")
			return
		case <-deadline:
			a.logger.Printf("Run duration elapsed")
			return
		case <-ticker.C:
		}
	}
}

// runGenerateAccount creates a fresh TEE identity and prints or writes
// its address and key material.
func runGenerateAccount(securePath string, logger *log.Logger) error {
	account, err := neo.NewAccount()
	if err != nil {
		return err
	}

	out := fmt.Sprintf("address: %s\nwif: %s\n", account.Address, account.WIF())
	if securePath == "" {
		fmt.Print(out)
		return nil
	}
	if err := os.WriteFile(securePath, []byte(out), 0o600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	logger.Printf("Wrote new TEE identity for %s to %s", account.Address, securePath)
	return nil
}
