// Package main provides the timeshare-workload CLI entry point.
//
// timeshare-workload runs a small concurrency test workload: a parent task
// spawns two children, every task runs a busy loop with optional sleeps or
// console writes, and every task exits with its own status code. The
// harness repeats the workload on goroutines or OS processes and verifies
// each run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-timeshare-workload/internal/config"
	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel/proc"
	"github.com/randomizedcoder/go-timeshare-workload/internal/logging"
	"github.com/randomizedcoder/go-timeshare-workload/internal/orchestrator"
	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/timeshare-workload
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("timeshare-workload %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// A re-executed task process never returns from here
	if cfg.Task != "" {
		runTask(cfg)
	}

	if cfg.List {
		printVariants(os.Stdout)
		return 0
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	if cfg.PrintProgram {
		return printProgram(cfg)
	}

	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.Discard()
	} else {
		logger = logging.New(os.Stderr, logging.Config{
			Format:  cfg.LogFormat,
			Level:   "info",
			Verbose: cfg.Verbose,
		})
	}
	logging.SetDefault(logger)

	logger.Info("starting",
		"version", version,
		"variant", cfg.Variant,
		"program_file", cfg.ProgramFile,
		"backend", cfg.Backend,
		"runs", cfg.Runs,
		"metrics_addr", cfg.MetricsAddr,
	)

	orch, err := orchestrator.New(cfg, logger, orchestrator.Options{Version: version})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if !cfg.TUIEnabled {
		printBanner(cfg, orch.Program())
	}

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		if errors.Is(err, orchestrator.ErrInterrupted) {
			return 130
		}
		return 1
	}

	return 0
}

// runTask runs one task of the workload in this process and exits with its
// status code.
func runTask(cfg *config.Config) {
	logger := logging.NewTask(os.Stderr, cfg.Task, cfg.Verbose)

	program, err := config.LoadProgram(cfg)
	if err != nil {
		logger.Error("task_program_failed", "error", err)
		os.Exit(kernel.AbortStatus)
	}

	events := proc.OpenEvents()
	driver, err := workload.NewDriver(workload.DriverConfig{
		Program:  program,
		Observer: events,
		Scale:    cfg.Scale,
	})
	if err != nil {
		logger.Error("task_program_failed", "error", err)
		os.Exit(kernel.AbortStatus)
	}

	proc.RunTask(proc.TaskConfig{
		Name:    cfg.Task,
		Resolve: driver.Entry,
		Events:  events,
		Tick:    cfg.Tick,
		Args:    config.ChildArgs(cfg),
		Logger:  logger,
	})
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config, p workload.Program) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       timeshare-workload                          ║")
	fmt.Println("║        Spawn, Timeshare and Exit-Code Verification Harness        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Program:     %s (%s)\n", p.Name, p.Description)
	fmt.Printf("  Backend:     %s, tick %v, scale %d\n", cfg.Backend, cfg.Tick, cfg.Scale)
	fmt.Printf("  Runs:        %d\n", cfg.Runs)
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}

// printVariants lists the built-in variants.
func printVariants(w io.Writer) {
	fmt.Fprintln(w, "Built-in variants:")
	for _, name := range workload.Names() {
		p, err := workload.Lookup(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "  %-14s %s\n", name, p.Description)
	}
}

// printProgram writes the resolved program as YAML, ready for -program.
func printProgram(cfg *config.Config) int {
	p, err := config.LoadProgram(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	out, err := p.YAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	os.Stdout.Write(out)
	return 0
}
