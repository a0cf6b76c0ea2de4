// Package soroban adapts the external contract CLI. It is the only place
// that knows the tool's argument vectors and output formats; everything
// above it works with domain requests and outcomes.
package soroban

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/anchorwave/deployer/internal/core/classify"
	"github.com/anchorwave/deployer/internal/core/domain"
	"github.com/anchorwave/deployer/internal/shell/procrun"
)

// Runner executes supervised commands. *procrun.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, req procrun.Request) procrun.Result
}

// =============================================================================
// Config
// =============================================================================

// Config configures the CLI adapter.
type Config struct {
	// Bin is the contract CLI binary name or path. Default: "stellar".
	Bin string

	// ExtraPath entries are prepended to PATH so locally installed
	// toolchains win over system ones.
	ExtraPath []string

	// BuildTimeout bounds a contract build. Default: 10 minutes.
	BuildTimeout time.Duration

	// DeployTimeout bounds a deploy. Default: 5 minutes.
	DeployTimeout time.Duration

	// TimeoutWarning fires the warning callback this long before a
	// timeout expires. Default: 30 seconds.
	TimeoutWarning time.Duration

	// MaxOutputBytes caps buffered CLI output per stream.
	MaxOutputBytes int
}

func (c *Config) applyDefaults() {
	if c.Bin == "" {
		c.Bin = "stellar"
	}
	if c.BuildTimeout == 0 {
		c.BuildTimeout = 10 * time.Minute
	}
	if c.DeployTimeout == 0 {
		c.DeployTimeout = 5 * time.Minute
	}
	if c.TimeoutWarning == 0 {
		c.TimeoutWarning = 30 * time.Second
	}
}

// =============================================================================
// CLI
// =============================================================================

// CLI drives contract builds and deploys through the process runner.
type CLI struct {
	runner Runner
	cfg    Config
	logger *slog.Logger

	// OnOutput, when set, receives interleaved CLI output chunks.
	OnOutput func(stream procrun.Stream, chunk string)
}

// New creates a CLI adapter.
func New(runner Runner, cfg Config, logger *slog.Logger) *CLI {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &CLI{
		runner: runner,
		cfg:    cfg,
		logger: logger.With("component", "soroban"),
	}
}

// =============================================================================
// Build
// =============================================================================

// wasmTargetDir is where the toolchain leaves release artifacts, relative to
// the contract directory.
var wasmTargetDir = filepath.Join("target", "wasm32-unknown-unknown", "release")

// Build compiles the contract in dir and returns the path of the freshest
// wasm artifact it produced.
func (c *CLI) Build(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		return "", domain.NewValidationError("contract directory is empty")
	}

	c.logger.Info("building contract", "dir", dir)
	res := c.runner.Run(ctx, procrun.Request{
		Command:        c.cfg.Bin,
		Args:           []string{"contract", "build"},
		Dir:            dir,
		PathPrepend:    c.cfg.ExtraPath,
		Timeout:        c.cfg.BuildTimeout,
		WarnBefore:     c.cfg.TimeoutWarning,
		MaxOutputBytes: c.cfg.MaxOutputBytes,
		OnChunk:        c.OnOutput,
		OnTimeoutWarning: func(remaining time.Duration) {
			c.logger.Warn("build close to timeout", "dir", dir, "remaining", remaining)
		},
	})

	if err := resultError(res, "build"); err != nil {
		return "", err
	}

	wasm, err := newestWasm(filepath.Join(dir, wasmTargetDir))
	if err != nil {
		return "", domain.NewExecutionError(
			"build succeeded but produced no wasm artifact",
			res.Combined,
			err,
		)
	}

	c.logger.Info("contract built", "wasm", wasm)
	return wasm, nil
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy installs the wasm artifact on the target network and returns the
// identifiers parsed from the CLI output. A clean exit whose output lacks a
// contract ID is an execution error: it is never rerouted through the
// transient/permanent classifier.
func (c *CLI) Deploy(ctx context.Context, req domain.DeployRequest) (*domain.DeployOutcome, error) {
	if req.WasmPath == "" {
		return nil, domain.NewValidationError("wasm path is empty")
	}
	if req.Network == "" {
		return nil, domain.NewValidationError("network is empty")
	}
	if req.Source == "" {
		return nil, domain.NewValidationError("source account is empty")
	}

	c.logger.Info("deploying contract",
		"wasm", req.WasmPath,
		"network", req.Network,
		"source", req.Source,
	)
	res := c.runner.Run(ctx, procrun.Request{
		Command: c.cfg.Bin,
		Args: []string{
			"contract", "deploy",
			"--wasm", req.WasmPath,
			"--source", req.Source,
			"--network", req.Network,
		},
		PathPrepend:    c.cfg.ExtraPath,
		Timeout:        c.cfg.DeployTimeout,
		WarnBefore:     c.cfg.TimeoutWarning,
		MaxOutputBytes: c.cfg.MaxOutputBytes,
		OnChunk:        c.OnOutput,
		OnTimeoutWarning: func(remaining time.Duration) {
			c.logger.Warn("deploy close to timeout", "wasm", req.WasmPath, "remaining", remaining)
		},
	})

	if err := resultError(res, "deploy"); err != nil {
		return nil, err
	}

	contractID, ok := domain.ExtractContractID(res.Combined)
	if !ok {
		return nil, domain.NewExecutionError(
			"deploy succeeded but contract ID not found in output",
			res.Combined,
			domain.ErrMissingContractID,
		)
	}

	txHash, _ := domain.ExtractTxHash(res.Combined)
	c.logger.Info("contract deployed", "contract_id", contractID, "tx_hash", txHash)

	return &domain.DeployOutcome{
		ContractID: contractID,
		TxHash:     txHash,
		Raw:        res.Combined,
	}, nil
}

// =============================================================================
// Result Decoding
// =============================================================================

// resultError converts an abnormal process result into a typed error, or
// nil for a clean exit.
func resultError(res procrun.Result, op string) error {
	switch {
	case res.Cancelled:
		return domain.NewCancelledError(op + " cancelled")

	case res.TimedOut:
		return &domain.DeployError{
			Kind:    domain.KindTransient,
			Summary: op + " timed out",
			Detail:  res.Combined,
		}

	case res.SpawnError != "":
		return domain.NewExecutionError(
			fmt.Sprintf("failed to start %s command", op),
			res.SpawnError,
			nil,
		)

	case res.Success:
		return nil
	}

	detail := strings.TrimSpace(res.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(res.Combined)
	}
	summary := firstLine(detail)
	if summary == "" {
		summary = op + " failed"
		if res.ExitCode != nil {
			summary = fmt.Sprintf("%s failed with exit code %d", op, *res.ExitCode)
		} else if res.Signal != "" {
			summary = fmt.Sprintf("%s killed by signal %s", op, res.Signal)
		}
	}

	return &domain.DeployError{
		Kind:    classify.Message(detail),
		Summary: summary,
		Detail:  detail,
	}
}

// newestWasm returns the most recently modified .wasm file in dir.
func newestWasm(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.wasm"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no wasm artifact in %s", dir)
	}

	sort.Slice(matches, func(i, j int) bool {
		return modTime(matches[i]).After(modTime(matches[j]))
	})
	return matches[0], nil
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// firstLine trims text to its first non-empty line.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
