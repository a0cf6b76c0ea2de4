// Package main provides the deployer binary for Soroban contract deployments.
//
// Usage:
//
//	deployer <command> [flags]
//
// Commands:
//
//	deploy   - Deploy a single contract (prebuilt wasm or source directory)
//	batch    - Run a batch of deployments from a YAML manifest
//	check    - Check the RPC endpoint health for a network
//	serve    - Serve the status API over HTTP
//	version  - Show version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitConfigError = 3
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return ExitUsage
	}

	cmd := args[0]
	rest := args[1:]

	if cmd == "version" || cmd == "-version" || cmd == "--version" {
		fmt.Printf("deployer %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// A SIGINT or SIGTERM cancels the run; in-flight work unwinds through
	// the shared context.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "deploy":
		return deployCmd(ctx, rest)
	case "batch":
		return batchCmd(ctx, rest)
	case "check":
		return checkCmd(ctx, rest)
	case "serve":
		return serveCmd(ctx, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		return ExitUsage
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: deployer <command> [flags]

Commands:
  deploy    Deploy a single contract
  batch     Run a batch of deployments from a YAML manifest
  check     Check RPC endpoint health for a network
  serve     Serve the status API over HTTP
  version   Show version

Run "deployer <command> -h" for command flags.
`)
}
