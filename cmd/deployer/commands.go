package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/anchorwave/deployer/internal/core/domain"
	"github.com/anchorwave/deployer/internal/shell/batch"
	"github.com/anchorwave/deployer/internal/shell/events"
	"github.com/anchorwave/deployer/internal/shell/manifest"
	"github.com/anchorwave/deployer/internal/shell/procrun"
	"github.com/anchorwave/deployer/internal/shell/ratelimit"
	"github.com/anchorwave/deployer/internal/shell/retry"
	"github.com/anchorwave/deployer/internal/shell/rpc"
	"github.com/anchorwave/deployer/internal/shell/soroban"
	"github.com/anchorwave/deployer/internal/shell/statusapi"
)

// =============================================================================
// Shared Wiring
// =============================================================================

// stack bundles the components every command wires the same way.
type stack struct {
	cfg        *Config
	logger     *slog.Logger
	hub        *events.Hub
	cli        *soroban.CLI
	controller *retry.Controller
}

func buildStack(cfg *Config, logger *slog.Logger) *stack {
	hub := events.NewHub(0, logger)
	runner := procrun.NewRunner(procrun.Config{}, logger)
	cli := soroban.New(runner, soroban.Config{
		Bin:            cfg.CLI.Bin,
		ExtraPath:      cfg.CLI.ExtraPath,
		BuildTimeout:   cfg.CLI.BuildTimeout,
		DeployTimeout:  cfg.CLI.DeployTimeout,
		TimeoutWarning: cfg.CLI.TimeoutWarning,
		MaxOutputBytes: cfg.CLI.MaxOutputBytes,
	}, logger)
	controller := retry.New(cli, retry.Config{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
		InitialDelay:   cfg.Retry.InitialDelay,
		Multiplier:     cfg.Retry.Multiplier,
		MaxDelay:       cfg.Retry.MaxDelay,
		Jitter:         cfg.Retry.Jitter,
		HistoryLimit:   cfg.Retry.HistoryLimit,
	}, hub, logger)
	return &stack{cfg: cfg, logger: logger, hub: hub, cli: cli, controller: controller}
}

func loadStack(configPath string) (*stack, int) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return nil, ExitConfigError
	}
	logger := SetupLogger(cfg)
	slog.SetDefault(logger)
	return buildStack(cfg, logger), ExitSuccess
}

// =============================================================================
// deploy
// =============================================================================

func deployCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	wasm := fs.String("wasm", "", "Path to a prebuilt wasm artifact")
	sourceDir := fs.String("source-dir", "", "Contract directory to build before deploying")
	network := fs.String("network", "testnet", "Target network")
	source := fs.String("source", "", "Source account or identity name")
	fs.Parse(args)

	if (*wasm == "") == (*sourceDir == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -wasm or -source-dir is required")
		return ExitUsage
	}
	if *source == "" {
		fmt.Fprintln(os.Stderr, "-source is required")
		return ExitUsage
	}

	s, code := loadStack(*configPath)
	if code != ExitSuccess {
		return code
	}
	s.cli.OnOutput = func(_ procrun.Stream, chunk string) {
		fmt.Fprint(os.Stderr, chunk)
	}

	artifact := *wasm
	if *sourceDir != "" {
		built, err := s.cli.Build(ctx, *sourceDir)
		if err != nil {
			s.logger.Error("build failed", "dir", *sourceDir, "error", err)
			return ExitFailure
		}
		s.logger.Info("build succeeded", "wasm", built)
		artifact = built
	}

	sess := s.controller.Deploy(ctx, domain.DeployRequest{
		WasmPath: artifact,
		Network:  *network,
		Source:   *source,
	})

	switch sess.Status {
	case domain.SessionSucceeded:
		fmt.Printf("contract ID: %s\n", sess.ContractID)
		if sess.TxHash != "" {
			fmt.Printf("tx hash:     %s\n", sess.TxHash)
		}
		return ExitSuccess
	case domain.SessionCancelled:
		fmt.Fprintln(os.Stderr, "deployment cancelled")
		return ExitFailure
	default:
		fmt.Fprintf(os.Stderr, "deployment failed after %d attempt(s): %s\n",
			len(sess.Attempts), sess.Summary)
		return ExitFailure
	}
}

// =============================================================================
// batch
// =============================================================================

func batchCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	manifestPath := fs.String("manifest", "", "Path to the YAML deployment manifest")
	fs.Parse(args)

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "-manifest is required")
		return ExitUsage
	}

	s, code := loadStack(*configPath)
	if code != ExitSuccess {
		return code
	}

	mf, err := manifest.Load(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manifest error: %v\n", err)
		return ExitConfigError
	}

	opts := batch.Options{
		Mode:        batch.Mode(s.cfg.Batch.Mode),
		Concurrency: s.cfg.Batch.Concurrency,
		Network:     mf.Network,
		Source:      mf.Source,
	}
	if mf.Mode != "" {
		opts.Mode = batch.Mode(mf.Mode)
	}
	if mf.Concurrency > 0 {
		opts.Concurrency = mf.Concurrency
	}

	sched := batch.New(s.controller, s.cli, s.hub, s.logger)
	result := sched.Run(ctx, mf.BatchItems(), opts)

	printBatchResult(result)
	if result.Succeeded() == len(result.Items) && !result.Cancelled {
		return ExitSuccess
	}
	return ExitFailure
}

func printBatchResult(result *domain.BatchResult) {
	for _, item := range result.Items {
		switch item.Status {
		case domain.ItemSucceeded:
			fmt.Printf("  %-20s %-10s %s\n", item.Name, item.Status, item.ContractID)
		case domain.ItemSkipped:
			fmt.Printf("  %-20s %-10s blocked by %s\n", item.Name, item.Status, item.BlockedBy)
		default:
			fmt.Printf("  %-20s %-10s %s\n", item.Name, item.Status, item.Summary)
		}
	}
	fmt.Printf("%d/%d succeeded\n", result.Succeeded(), len(result.Items))
}

// =============================================================================
// check
// =============================================================================

func checkCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	network := fs.String("network", "testnet", "Target network")
	fs.Parse(args)

	s, code := loadStack(*configPath)
	if code != ExitSuccess {
		return code
	}

	url := s.cfg.RPC.URL
	if url == "" {
		known, ok := rpc.EndpointFor(*network)
		if !ok {
			fmt.Fprintf(os.Stderr, "no known RPC endpoint for network %q; set rpc.url\n", *network)
			return ExitUsage
		}
		url = known
	}

	limiter := ratelimit.New(http.DefaultClient, ratelimit.Config{
		InitialBackoff: s.cfg.RPC.RateLimitInitialBackoff,
		MaxBackoff:     s.cfg.RPC.RateLimitMaxBackoff,
		MaxRetries:     s.cfg.RPC.RateLimitMaxRetries,
	}, s.hub, s.logger)
	defer limiter.Close()
	client := rpc.New(url, limiter, s.logger)

	health, err := client.GetHealth(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		return ExitFailure
	}
	ledger, err := client.GetLatestLedger(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "latest ledger query failed: %v\n", err)
		return ExitFailure
	}

	fmt.Printf("endpoint:       %s\n", url)
	fmt.Printf("status:         %s\n", health.Status)
	fmt.Printf("latest ledger:  %d (protocol %d)\n", ledger.Sequence, ledger.ProtocolVersion)
	if !health.Healthy() {
		return ExitFailure
	}
	return ExitSuccess
}

// =============================================================================
// serve
// =============================================================================

func serveCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	s, code := loadStack(*configPath)
	if code != ExitSuccess {
		return code
	}

	s.logger.Info("starting deployer", "version", Version)
	registry := statusapi.NewRegistry(0)
	srv := statusapi.New(statusapi.Config{
		Addr:            s.cfg.Server.Address(),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.controller, registry, s.hub, s.logger)

	if err := srv.Start(ctx); err != nil {
		s.logger.Error("status api error", "error", err)
		return ExitFailure
	}
	return ExitSuccess
}
