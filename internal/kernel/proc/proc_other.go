//go:build !linux

package proc

import (
	"context"

	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
)

// Machine is unavailable on this platform.
type Machine struct{}

var _ kernel.Machine = (*Machine)(nil)

// New reports ErrUnsupported.
func New(cfg Config) (*Machine, error) {
	return nil, ErrUnsupported
}

// EnableSubreaper reports ErrUnsupported.
func EnableSubreaper() error {
	return ErrUnsupported
}

// Run reports ErrUnsupported.
func (m *Machine) Run(ctx context.Context, root string, _ kernel.Entry) error {
	return ErrUnsupported
}
