// Package metrics provides Prometheus metrics for timeshare-workload.
//
// Metrics are organized into two tiers:
//   - Tier 1 (always enabled): run and task aggregates
//   - Tier 2 (optional, -metrics-per-task): per-task gauges for debugging
package metrics

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "timeshare"

// Collector manages all Prometheus metrics for the workload harness.
type Collector struct {
	// Configuration
	perTaskEnabled bool
	targetRuns     int
	program        string
	backend        string

	// Timing
	startTime time.Time

	// Tier 1: runs
	info             *prometheus.GaugeVec
	targetRunsGauge  prometheus.Gauge
	elapsedSeconds   prometheus.Gauge
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	checksFailed     *prometheus.CounterVec
	repeatable       prometheus.Gauge

	// Tier 1: tasks
	spawnsTotal      prometheus.Counter
	exitsTotal       *prometheus.CounterVec
	exitCodesTotal   *prometheus.CounterVec
	abortsTotal      prometheus.Counter
	activeTasks      prometheus.Gauge
	consoleLines     prometheus.Counter
	sleepUnitsTotal  prometheus.Counter
	lifetimeSeconds  prometheus.Histogram
	loopStartSeconds prometheus.Histogram

	// Tier 2: per task
	taskLastCode     *prometheus.GaugeVec
	taskLastLifetime *prometheus.GaugeVec

	// For summary generation
	mu         sync.Mutex
	peakActive int
	runs       int64
	passed     int64
	spawns     int64
	exitCodes  map[int]int64
	lifetimes  []time.Duration
	tasks      map[string]struct{}
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version        string
	Program        string
	Backend        string
	TargetRuns     int
	PerTaskMetrics bool
}

// NewCollector creates a new metrics collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		perTaskEnabled: cfg.PerTaskMetrics,
		targetRuns:     cfg.TargetRuns,
		program:        cfg.Program,
		backend:        cfg.Backend,
		startTime:      time.Now(),
		exitCodes:      make(map[int]int64),
		tasks:          make(map[string]struct{}),

		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the workload harness (value always 1)",
		}, []string{"version", "program", "backend"}),
		targetRunsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_runs",
			Help:      "Number of runs requested",
		}),
		elapsedSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "elapsed_seconds",
			Help:      "Seconds since the harness started",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by verification result",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from boot to the last termination",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		checksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_failed_total",
			Help:      "Verification check failures by check",
		}, []string{"check"}),
		repeatable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "repeatable",
			Help:      "1 while every run has matched the first one",
		}),
		spawnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_spawns_total",
			Help:      "Tasks created, including roots",
		}),
		exitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_exits_total",
			Help:      "Task terminations by category",
		}, []string{"category"}),
		exitCodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_exit_codes_total",
			Help:      "Task terminations by exit code",
		}, []string{"code"}),
		abortsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_aborts_total",
			Help:      "Tasks that ended abnormally",
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Tasks spawned and not yet terminated",
		}),
		consoleLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "console_lines_total",
			Help:      "Lines written to the shared console",
		}),
		sleepUnitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_sleep_units_total",
			Help:      "Scheduler units requested by sleep calls",
		}),
		lifetimeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_lifetime_seconds",
			Help:      "Time from spawn to termination",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
		}),
		loopStartSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_loop_start_seconds",
			Help:      "Time from boot to the start of a task's busy loop",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
		}),
	}

	registry.MustRegister(
		c.info,
		c.targetRunsGauge,
		c.elapsedSeconds,
		c.runsTotal,
		c.runDuration,
		c.checksFailed,
		c.repeatable,
		c.spawnsTotal,
		c.exitsTotal,
		c.exitCodesTotal,
		c.abortsTotal,
		c.activeTasks,
		c.consoleLines,
		c.sleepUnitsTotal,
		c.lifetimeSeconds,
		c.loopStartSeconds,
	)

	// Register Tier 2 metrics (optional)
	if cfg.PerTaskMetrics {
		c.taskLastCode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_last_exit_code",
			Help:      "Exit code of the task in its most recent run",
		}, []string{"task"})
		c.taskLastLifetime = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_last_lifetime_seconds",
			Help:      "Lifetime of the task in its most recent run",
		}, []string{"task"})
		registry.MustRegister(c.taskLastCode, c.taskLastLifetime)
	}

	// Set initial values
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Program, cfg.Backend).Set(1)
	c.targetRunsGauge.Set(float64(cfg.TargetRuns))
	c.repeatable.Set(1)

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// TaskSpawned records a task creation.
func (c *Collector) TaskSpawned() {
	c.spawnsTotal.Inc()

	c.mu.Lock()
	c.spawns++
	c.mu.Unlock()
}

// TaskExited records a normal task termination.
func (c *Collector) TaskExited(task string, exitCode int, lifetime time.Duration) {
	category := "success"
	if exitCode > 128 {
		category = "signal"
	} else if exitCode != 0 {
		category = "code"
	}
	c.exitsTotal.WithLabelValues(category).Inc()
	c.exitCodesTotal.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	c.lifetimeSeconds.Observe(lifetime.Seconds())

	if c.perTaskEnabled {
		c.taskLastCode.WithLabelValues(task).Set(float64(exitCode))
		c.taskLastLifetime.WithLabelValues(task).Set(lifetime.Seconds())
	}

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.lifetimes = append(c.lifetimes, lifetime)
	c.tasks[task] = struct{}{}
	c.mu.Unlock()
}

// TaskAborted records an abnormal task termination.
func (c *Collector) TaskAborted(task string) {
	c.exitsTotal.WithLabelValues("abort").Inc()
	c.abortsTotal.Inc()

	c.mu.Lock()
	c.tasks[task] = struct{}{}
	c.mu.Unlock()
}

// TaskSleeping records a sleep request.
func (c *Collector) TaskSleeping(units int) {
	c.sleepUnitsTotal.Add(float64(units))
}

// LoopStarted records when a task began its busy loop, relative to boot.
func (c *Collector) LoopStarted(sinceBoot time.Duration) {
	c.loopStartSeconds.Observe(sinceBoot.Seconds())
}

// ConsoleLine records one console write.
func (c *Collector) ConsoleLine() {
	c.consoleLines.Inc()
}

// SetActiveCount updates the active task count.
func (c *Collector) SetActiveCount(count int) {
	c.activeTasks.Set(float64(count))

	c.mu.Lock()
	if count > c.peakActive {
		c.peakActive = count
	}
	c.mu.Unlock()
}

// RecordRun records a finished run and the checks it failed.
func (c *Collector) RecordRun(passed bool, duration time.Duration, failedChecks []string) {
	result := "passed"
	if !passed {
		result = "failed"
	}
	c.runsTotal.WithLabelValues(result).Inc()
	c.runDuration.Observe(duration.Seconds())
	for _, check := range failedChecks {
		c.checksFailed.WithLabelValues(check).Inc()
	}

	c.mu.Lock()
	c.runs++
	if passed {
		c.passed++
	}
	c.mu.Unlock()
}

// SetRepeatable records whether the runs so far agree.
func (c *Collector) SetRepeatable(ok bool) {
	if ok {
		c.repeatable.Set(1)
		return
	}
	c.repeatable.Set(0)
}

// UpdateElapsed refreshes the elapsed-time gauge.
func (c *Collector) UpdateElapsed() {
	c.elapsedSeconds.Set(time.Since(c.startTime).Seconds())
}

// =============================================================================
// Cleanup Methods
// =============================================================================

// RemoveTask removes per-task metrics for a task.
// Only relevant when per-task metrics are enabled.
func (c *Collector) RemoveTask(task string) {
	if !c.perTaskEnabled {
		return
	}

	c.mu.Lock()
	delete(c.tasks, task)
	c.mu.Unlock()

	c.taskLastCode.DeleteLabelValues(task)
	c.taskLastLifetime.DeleteLabelValues(task)
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration    time.Duration
	TargetRuns  int
	Runs        int64
	PassedRuns  int64
	TotalSpawns int64
	PeakActive  int
	ExitCodes   map[int]int64
	LifetimeP50 time.Duration
	LifetimeP95 time.Duration
	LifetimeP99 time.Duration
}

// GenerateSummary creates a summary of the harness run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:    time.Since(c.startTime),
		TargetRuns:  c.targetRuns,
		Runs:        c.runs,
		PassedRuns:  c.passed,
		TotalSpawns: c.spawns,
		PeakActive:  c.peakActive,
		ExitCodes:   make(map[int]int64),
	}

	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}

	if len(c.lifetimes) > 0 {
		sorted := slices.Clone(c.lifetimes)
		slices.Sort(sorted)

		s.LifetimeP50 = percentile(sorted, 0.50)
		s.LifetimeP95 = percentile(sorted, 0.95)
		s.LifetimeP99 = percentile(sorted, 0.99)
	}

	return s
}

// PeakActive returns the peak active task count.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

// PerTaskEnabled returns whether per-task metrics are enabled.
func (c *Collector) PerTaskEnabled() bool {
	return c.perTaskEnabled
}

// percentile returns the value at the given percentile (0.0-1.0).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
