package orchestrator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// RunPacer controls the pause between consecutive runs. Random jitter
// keeps repeated runs from phase-locking with periodic system activity.
type RunPacer struct {
	gap       time.Duration
	maxJitter time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRunPacer creates a pacer seeded from the clock.
func NewRunPacer(gap, maxJitter time.Duration) *RunPacer {
	return NewRunPacerWithSeed(gap, maxJitter, uint64(time.Now().UnixNano()))
}

// NewRunPacerWithSeed creates a pacer with a specific seed for reproducibility.
func NewRunPacerWithSeed(gap, maxJitter time.Duration, seed uint64) *RunPacer {
	return &RunPacer{
		gap:       gap,
		maxJitter: maxJitter,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Delay returns the pause before run n (1-based). The first run never waits.
func (p *RunPacer) Delay(n int) time.Duration {
	if n <= 1 {
		return 0
	}
	d := p.gap
	if p.maxJitter > 0 {
		p.mu.Lock()
		d += time.Duration(p.rng.Int64N(int64(p.maxJitter) + 1))
		p.mu.Unlock()
	}
	return d
}

// Wait blocks for the pause before run n.
// Returns nil on success, or context error if cancelled.
func (p *RunPacer) Wait(ctx context.Context, n int) error {
	d := p.Delay(n)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EstimatedDuration returns the expected total pause across runs.
func (p *RunPacer) EstimatedDuration(runs int) time.Duration {
	if runs <= 1 {
		return 0
	}
	return time.Duration(runs-1) * (p.gap + p.maxJitter/2)
}
