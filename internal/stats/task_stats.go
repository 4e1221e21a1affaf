package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-timeshare-workload/internal/supervisor"
)

// TaskStats accumulates one task's results across runs.
//
// Thread-safe: counters are atomic, digests are guarded by mu.
type TaskStats struct {
	Name string

	Runs   atomic.Int64
	Exits  atomic.Int64
	Aborts atomic.Int64
	Lines  atomic.Int64
	Sleeps atomic.Int64

	lastCode atomic.Int64

	mu             sync.Mutex
	lifetimeDigest *tdigest.TDigest // nanoseconds
	lifetimeN      int
	loopDigest     *tdigest.TDigest // nanoseconds since boot
	loopN          int
}

// NewTaskStats creates stats for task name.
func NewTaskStats(name string) *TaskStats {
	s := &TaskStats{
		Name:           name,
		lifetimeDigest: tdigest.NewWithCompression(100),
		loopDigest:     tdigest.NewWithCompression(100),
	}
	s.lastCode.Store(-1)
	return s
}

// Record adds one run's record for this task and the number of console
// lines it wrote.
func (s *TaskStats) Record(rec supervisor.TaskRecord, lines int) {
	s.Runs.Add(1)
	s.Lines.Add(int64(lines))
	s.Sleeps.Add(int64(rec.Sleeps))

	switch rec.State {
	case supervisor.StateExited:
		s.Exits.Add(1)
		s.lastCode.Store(int64(rec.Code))
	case supervisor.StateAborted:
		s.Aborts.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.State.IsTerminal() {
		s.lifetimeDigest.Add(float64(rec.Lifetime().Nanoseconds()), 1)
		s.lifetimeN++
	}
	if rec.LoopStarted {
		s.loopDigest.Add(float64(rec.LoopStartAt.Nanoseconds()), 1)
		s.loopN++
	}
}

// LastCode returns the most recent exit code, or -1 if the task never exited.
func (s *TaskStats) LastCode() int {
	return int(s.lastCode.Load())
}

// LifetimePercentile returns the q-th lifetime quantile (0 < q < 1).
func (s *TaskStats) LifetimePercentile(q float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return quantile(s.lifetimeDigest, s.lifetimeN, q)
}

// LoopStartPercentile returns the q-th loop-start quantile (0 < q < 1).
func (s *TaskStats) LoopStartPercentile(q float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return quantile(s.loopDigest, s.loopN, q)
}

// Summary is a snapshot of one task's stats.
type Summary struct {
	Name     string
	Runs     int64
	Exits    int64
	Aborts   int64
	LastCode int
	Lines    int64
	Sleeps   int64

	LifetimeP50  time.Duration
	LifetimeP99  time.Duration
	LoopStartP50 time.Duration
	LoopStartMax time.Duration
}

// GetSummary returns a snapshot of all key metrics.
func (s *TaskStats) GetSummary() Summary {
	s.mu.Lock()
	lifeP50 := quantile(s.lifetimeDigest, s.lifetimeN, 0.50)
	lifeP99 := quantile(s.lifetimeDigest, s.lifetimeN, 0.99)
	loopP50 := quantile(s.loopDigest, s.loopN, 0.50)
	loopMax := quantile(s.loopDigest, s.loopN, 1)
	s.mu.Unlock()

	return Summary{
		Name:         s.Name,
		Runs:         s.Runs.Load(),
		Exits:        s.Exits.Load(),
		Aborts:       s.Aborts.Load(),
		LastCode:     s.LastCode(),
		Lines:        s.Lines.Load(),
		Sleeps:       s.Sleeps.Load(),
		LifetimeP50:  lifeP50,
		LifetimeP99:  lifeP99,
		LoopStartP50: loopP50,
		LoopStartMax: loopMax,
	}
}

func quantile(d *tdigest.TDigest, n int, q float64) time.Duration {
	if n == 0 {
		return 0
	}
	return time.Duration(d.Quantile(q))
}
