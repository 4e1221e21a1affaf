// Package stats provides per-task and aggregated statistics across
// repeated workload runs.
//
// This file implements StatsAggregator which aggregates results across runs:
// - Run counts and verification outcomes
// - Exit-code distribution
// - Run duration percentiles (T-Digest)
// - Per-task lifetimes and loop-start delays
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-timeshare-workload/internal/console"
	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
)

// RunResult is everything the aggregator needs from one finished run.
type RunResult struct {
	ID      string
	Outcome supervisor.Outcome
	Lines   []console.Line
	Passed  bool
	Failed  []string // names of failed checks
}

// AggregatedStats holds metrics across all runs.
//
// This is a snapshot - values are computed at the time of Aggregate() call.
type AggregatedStats struct {
	Timestamp time.Time
	Elapsed   time.Duration

	Runs       int
	PassedRuns int
	FailedRuns int
	LastRunID  string

	TotalTasks  int64
	TotalSpawns int64
	TotalAborts int64
	TotalLines  int64

	// Exit code -> count, over every exited task of every run
	ExitCodes map[int]int

	// Check name -> number of runs it failed in
	FailedChecks map[string]int

	RunDurationMin time.Duration
	RunDurationMax time.Duration
	RunDurationP50 time.Duration
	RunDurationP99 time.Duration

	// Per-task summaries in first-seen order
	Tasks []Summary
}

// StatsAggregator aggregates stats from multiple runs.
//
// Thread-safe: all methods can be called concurrently.
type StatsAggregator struct {
	mu        sync.RWMutex
	tasks     map[string]*TaskStats
	order     []string
	startTime time.Time

	runs         int
	passed       int
	lastRunID    string
	spawns       int64
	lines        int64
	exitCodes    map[int]int
	failedChecks map[string]int

	runDigest *tdigest.TDigest // nanoseconds
	minRun    time.Duration
	maxRun    time.Duration
}

// NewStatsAggregator creates a new aggregator.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{
		tasks:        make(map[string]*TaskStats),
		startTime:    time.Now(),
		exitCodes:    make(map[int]int),
		failedChecks: make(map[string]int),
		runDigest:    tdigest.NewWithCompression(100),
	}
}

// RecordRun folds one run into the aggregate.
func (a *StatsAggregator) RecordRun(r RunResult) {
	linesByTask := make(map[string]int)
	for _, l := range r.Lines {
		linesByTask[l.Task]++
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.runs++
	if r.Passed {
		a.passed++
	}
	a.lastRunID = r.ID
	a.lines += int64(len(r.Lines))
	a.spawns += int64(len(r.Outcome.SpawnOrder))
	for _, name := range r.Failed {
		a.failedChecks[name]++
	}

	d := r.Outcome.Elapsed
	a.runDigest.Add(float64(d.Nanoseconds()), 1)
	if a.runs == 1 || d < a.minRun {
		a.minRun = d
	}
	if d > a.maxRun {
		a.maxRun = d
	}

	for _, rec := range r.Outcome.Tasks {
		ts, ok := a.tasks[rec.Name]
		if !ok {
			ts = NewTaskStats(rec.Name)
			a.tasks[rec.Name] = ts
			a.order = append(a.order, rec.Name)
		}
		ts.Record(rec, linesByTask[rec.Name])
		if rec.State == supervisor.StateExited {
			a.exitCodes[rec.Code]++
		}
	}
}

// GetTask returns the TaskStats for a task, or nil.
func (a *StatsAggregator) GetTask(name string) *TaskStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tasks[name]
}

// TaskCount returns the number of distinct tasks seen.
func (a *StatsAggregator) TaskCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tasks)
}

// Runs returns the number of recorded runs.
func (a *StatsAggregator) Runs() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runs
}

// Aggregate computes aggregated statistics across all runs.
//
// The returned struct is safe to use after the call returns.
func (a *StatsAggregator) Aggregate() *AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := time.Now()
	result := &AggregatedStats{
		Timestamp:      now,
		Elapsed:        now.Sub(a.startTime),
		Runs:           a.runs,
		PassedRuns:     a.passed,
		FailedRuns:     a.runs - a.passed,
		LastRunID:      a.lastRunID,
		TotalSpawns:    a.spawns,
		TotalLines:     a.lines,
		ExitCodes:      make(map[int]int, len(a.exitCodes)),
		FailedChecks:   make(map[string]int, len(a.failedChecks)),
		RunDurationMin: a.minRun,
		RunDurationMax: a.maxRun,
	}
	for code, n := range a.exitCodes {
		result.ExitCodes[code] = n
	}
	for name, n := range a.failedChecks {
		result.FailedChecks[name] = n
	}
	if a.runs > 0 {
		result.RunDurationP50 = time.Duration(a.runDigest.Quantile(0.50))
		result.RunDurationP99 = time.Duration(a.runDigest.Quantile(0.99))
	}

	for _, name := range a.order {
		s := a.tasks[name].GetSummary()
		result.Tasks = append(result.Tasks, s)
		result.TotalTasks += s.Runs
		result.TotalAborts += s.Aborts
	}

	return result
}

// ExitCodeList returns the distinct exit codes seen, sorted.
func (s *AggregatedStats) ExitCodeList() []int {
	codes := make([]int, 0, len(s.ExitCodes))
	for code := range s.ExitCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// StartTime returns when the aggregator was created.
func (a *StatsAggregator) StartTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.startTime
}

// Elapsed returns the time since the aggregator was created.
func (a *StatsAggregator) Elapsed() time.Duration {
	return time.Since(a.StartTime())
}

// Reset clears all recorded runs.
func (a *StatsAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tasks = make(map[string]*TaskStats)
	a.order = nil
	a.runs = 0
	a.passed = 0
	a.lastRunID = ""
	a.spawns = 0
	a.lines = 0
	a.exitCodes = make(map[int]int)
	a.failedChecks = make(map[string]int)
	a.runDigest = tdigest.NewWithCompression(100)
	a.minRun = 0
	a.maxRun = 0
	a.startTime = time.Now()
}

// ForEachTask calls fn for each task in first-seen order.
func (a *StatsAggregator) ForEachTask(fn func(name string, stats *TaskStats)) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, name := range a.order {
		fn(name, a.tasks[name])
	}
}
