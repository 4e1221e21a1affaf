// Package orchestrator runs the workload repeatedly on the configured
// backend, verifies every run, and reports the results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-timeshare-workload/internal/config"
	"github.com/randomizedcoder/go-timeshare-workload/internal/console"
	"github.com/randomizedcoder/go-timeshare-workload/internal/logging"
	"github.com/randomizedcoder/go-timeshare-workload/internal/metrics"
	"github.com/randomizedcoder/go-timeshare-workload/internal/preflight"
	"github.com/randomizedcoder/go-timeshare-workload/internal/stats"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
	"github.com/randomizedcoder/go-timeshare-workload/internal/tui"
	"github.com/randomizedcoder/go-timeshare-workload/internal/verify"
	"github.com/randomizedcoder/go-timeshare-workload/internal/workload"
)

var (
	// ErrVerificationFailed is returned when any run failed a check.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrInterrupted is returned when a signal or the dashboard stopped
	// the runs early.
	ErrInterrupted = errors.New("interrupted")
)

// Options carries the dependencies New would otherwise create.
type Options struct {
	Version  string
	Console  io.Writer            // task console output, default os.Stdout
	Report   io.Writer            // preflight and exit summary, default os.Stdout
	Factory  MachineFactory       // default from the configured backend
	Registry *prometheus.Registry // default a fresh registry with Go and process collectors
}

// Orchestrator coordinates all components for a series of workload runs.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	program workload.Program
	version string
	report  io.Writer

	manager       *RunManager
	pacer         *RunPacer
	metrics       *metrics.Collector
	registry      *prometheus.Registry
	metricsServer *metrics.Server
	aggregator    *stats.StatsAggregator
	stderr        *logging.StderrHandler

	mu         sync.Mutex
	first      *verify.Signature
	repeatable bool
	failedRuns int
	runIndex   int

	startTime time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	program, err := config.LoadProgram(cfg)
	if err != nil {
		return nil, err
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	report := opts.Report
	if report == nil {
		report = os.Stdout
	}

	// Console output would corrupt the dashboard
	out := opts.Console
	if out == nil && !cfg.TUIEnabled {
		out = os.Stdout
	}

	stderr := logging.NewStderrHandler(program.Name, logger, cfg.Verbose)

	factory := opts.Factory
	if factory == nil {
		factory, err = NewMachineFactory(cfg, program, stderr)
		if err != nil {
			return nil, err
		}
	}

	o := &Orchestrator{
		config:     cfg,
		logger:     logger,
		program:    program,
		version:    opts.Version,
		report:     report,
		pacer:      NewRunPacer(cfg.RunGap, cfg.RunJitter),
		registry:   registry,
		aggregator: stats.NewStatsAggregator(),
		stderr:     stderr,
		repeatable: true,
	}

	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:        opts.Version,
		Program:        program.Name,
		Backend:        cfg.Backend,
		TargetRuns:     cfg.Runs,
		PerTaskMetrics: cfg.PerTaskMetrics,
	}, registry)

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, logger)
	}

	o.manager, err = NewRunManager(ManagerConfig{
		Program: program,
		Scale:   cfg.Scale,
		Timeout: cfg.Timeout,
		Factory: factory,
		Output:  out,
		Logger:  logger,
		Callbacks: ManagerCallbacks{
			OnTaskStateChange: o.onStateChange,
			OnTaskSpawn:       o.onSpawn,
			OnTaskExit:        o.onExit,
			OnTaskAbort:       o.onAbort,
			OnTaskSleep:       o.onSleep,
			OnLoopStart:       o.onLoopStart,
			OnConsoleLine:     o.onConsoleLine,
		},
	})
	if err != nil {
		return nil, err
	}

	return o, nil
}

// Run executes every configured run. It blocks until completion or signal.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	// Run preflight checks
	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Params{
			Program:     o.program,
			Backend:     o.config.Backend,
			Tick:        o.config.Tick,
			Granularity: o.config.Granularity,
		})
		preflight.PrintResults(o.report, result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer o.shutdownMetrics()
	}

	// Setup signal handling
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.logger.Info("runs_starting",
		"program", o.program.Name,
		"backend", o.config.Backend,
		"runs", o.config.Runs,
		"tick", o.config.Tick.String(),
		"estimated_pause", o.pacer.EstimatedDuration(o.config.Runs).String(),
	)

	var ui *tea.Program
	if o.config.TUIEnabled {
		ui = tea.NewProgram(tui.New(tui.Config{
			Program:     o.program.Name,
			Backend:     o.config.Backend,
			TargetRuns:  o.config.Runs,
			MetricsAddr: o.config.MetricsAddr,
			StatsSource: o,
			LiveSource:  o,
		}), tea.WithAltScreen())
	}

	g, gctx := errgroup.WithContext(ctx)
	loopDone := make(chan struct{})

	g.Go(func() error {
		defer close(loopDone)
		defer tui.SendQuit(ui)
		return o.runLoop(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-loopDone:
				o.metrics.UpdateElapsed()
				return nil
			case <-ticker.C:
				o.metrics.UpdateElapsed()
			}
		}
	})

	if ui != nil {
		g.Go(func() error {
			_, err := ui.Run()
			// Quitting the dashboard stops the runs
			cancel()
			if err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()

	o.printExitSummary()
	if dumpErr := o.dumpMetrics(); dumpErr != nil {
		o.logger.Error("metrics_dump_failed", "error", dumpErr)
		if err == nil {
			err = dumpErr
		}
	}

	if err != nil {
		return err
	}

	o.mu.Lock()
	failed, runs := o.failedRuns, o.runIndex
	o.mu.Unlock()
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d runs", ErrVerificationFailed, failed, runs)
	}
	return nil
}

// runLoop executes the runs back to back.
func (o *Orchestrator) runLoop(ctx context.Context) error {
	for i := 1; i <= o.config.Runs; i++ {
		if err := o.pacer.Wait(ctx, i); err != nil {
			return o.interrupted(i - 1)
		}

		id := uuid.NewString()
		o.mu.Lock()
		o.runIndex = i
		o.mu.Unlock()

		o.logger.Info("run_starting", "run_id", id, "run", i, "of", o.config.Runs)

		rec, err := o.manager.Execute(ctx, id)
		if err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		o.finishRun(i, rec)

		if ctx.Err() != nil {
			return o.interrupted(i)
		}
	}

	o.logger.Info("runs_complete", "runs", o.config.Runs)
	return nil
}

func (o *Orchestrator) interrupted(completed int) error {
	o.logger.Warn("runs_interrupted", "completed", completed, "target", o.config.Runs)
	return fmt.Errorf("%w after %d of %d runs", ErrInterrupted, completed, o.config.Runs)
}

// finishRun verifies a run and records it everywhere.
func (o *Orchestrator) finishRun(n int, rec RunRecord) {
	report := verify.Run(verify.Params{
		Program:     o.program,
		Tick:        o.config.Tick,
		Granularity: o.config.Granularity,
	}, rec.Outcome, rec.Lines)

	sig := verify.Fingerprint(rec.Outcome, rec.Lines)

	o.mu.Lock()
	if o.first == nil {
		o.first = &sig
	} else {
		check := verify.Repeatable(*o.first, sig)
		report.Add(check)
		if !check.Passed {
			o.repeatable = false
		}
	}
	if !report.Passed {
		o.failedRuns++
	}
	repeatable := o.repeatable
	o.mu.Unlock()

	failed := report.Failed()
	names := make([]string, 0, len(failed))
	for _, c := range failed {
		names = append(names, c.Name)
	}

	o.metrics.SetRepeatable(repeatable)
	o.metrics.RecordRun(report.Passed, rec.Outcome.Elapsed, names)
	o.aggregator.RecordRun(stats.RunResult{
		ID:      rec.ID,
		Outcome: rec.Outcome,
		Lines:   rec.Lines,
		Passed:  report.Passed,
		Failed:  names,
	})

	logger := logging.ForRun(o.logger, rec.ID).With("run", n)
	if rec.Err != nil {
		logger.Warn("run_error", "error", rec.Err)
	}
	for _, c := range failed {
		logger.Error("check_failed", "check", c.Name, "detail", c.Detail)
	}
	logger.Info("run_complete",
		"passed", report.Passed,
		"codes", fmt.Sprint(rec.Outcome.Codes()),
		"lines", len(rec.Lines),
		"elapsed", rec.Outcome.Elapsed.String(),
	)
}

// Callback handlers

func (o *Orchestrator) onStateChange(runID, task string, oldState, newState supervisor.State) {
	// Update active count metric
	o.metrics.SetActiveCount(o.manager.ActiveCount())
}

func (o *Orchestrator) onSpawn(runID, task string) {
	o.metrics.TaskSpawned()
	o.metrics.SetActiveCount(o.manager.ActiveCount())
}

func (o *Orchestrator) onExit(runID, task string, code int, lifetime time.Duration) {
	o.metrics.TaskExited(task, code, lifetime)
}

func (o *Orchestrator) onAbort(runID, task string, err error) {
	o.metrics.TaskAborted(task)
}

func (o *Orchestrator) onSleep(runID, task string, units int) {
	o.metrics.TaskSleeping(units)
}

func (o *Orchestrator) onLoopStart(runID, task string, at time.Duration) {
	o.metrics.LoopStarted(at)
}

func (o *Orchestrator) onConsoleLine(runID string, line console.Line) {
	o.metrics.ConsoleLine()
}

// GetAggregatedStats implements tui.StatsSource.
func (o *Orchestrator) GetAggregatedStats() *stats.AggregatedStats {
	return o.aggregator.Aggregate()
}

// LiveRun implements tui.LiveSource.
func (o *Orchestrator) LiveRun() (tui.RunView, bool) {
	live, ok := o.manager.Live()
	if !ok {
		return tui.RunView{}, false
	}
	o.mu.Lock()
	index := o.runIndex
	o.mu.Unlock()

	return tui.RunView{
		RunID:        live.RunID,
		Index:        index,
		Tasks:        live.Tasks,
		ConsoleLines: live.ConsoleLines,
		Elapsed:      live.Elapsed,
	}, true
}

// printExitSummary prints a summary of every run.
func (o *Orchestrator) printExitSummary() {
	o.mu.Lock()
	repeatable := o.repeatable
	o.mu.Unlock()

	summary := o.metrics.GenerateSummary()
	o.logger.Info("harness_summary",
		"runs", summary.Runs,
		"passed", summary.PassedRuns,
		"spawns", summary.TotalSpawns,
		"peak_active", summary.PeakActive,
		"lifetime_p50", summary.LifetimeP50.String(),
		"lifetime_p99", summary.LifetimeP99.String(),
	)

	fmt.Fprintln(o.report, stats.FormatExitSummary(o.aggregator.Aggregate(), stats.SummaryConfig{
		Program:      o.program.Name,
		Backend:      o.config.Backend,
		TargetRuns:   o.config.Runs,
		Duration:     time.Since(o.startTime),
		MetricsAddr:  o.metricsAddr(),
		Repeatable:   repeatable,
		StderrErrors: o.stderr.CountErrors(),
	}))
}

func (o *Orchestrator) metricsAddr() string {
	if o.metricsServer == nil {
		return ""
	}
	return o.metricsServer.Addr()
}

// dumpMetrics writes the final metrics to the -metrics-dump file.
func (o *Orchestrator) dumpMetrics() error {
	path := o.config.MetricsDump
	if path == "" {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("metrics dump: %w", err)
	}
	if err := metrics.Dump(o.registry, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("metrics dump: %w", err)
	}
	o.logger.Info("metrics_dumped", "path", path)
	return nil
}

func (o *Orchestrator) shutdownMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.metricsServer.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

// Program returns the resolved workload program.
func (o *Orchestrator) Program() workload.Program {
	return o.program
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the Prometheus registry the collector uses.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}
