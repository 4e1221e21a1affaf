package workload

import (
	"runtime"

	"github.com/randomizedcoder/go-timeshare-workload/internal/kernel"
)

// Observer is told of task progress at voluntary yield points. It is never
// called from inside the inner loop. Implementations must be safe for
// concurrent use.
type Observer interface {
	// Sleeping is called before a task blocks for units.
	Sleeping(task string, units int)

	// LoopStarted is called once, right before a task's first outer iteration.
	LoopStarted(task string)
}

// DriverConfig holds configuration for creating a Driver.
type DriverConfig struct {
	Program  Program
	Observer Observer // optional
	Scale    int      // inner-loop multiplier, 0 means 1
}

// Driver turns a Program into task entries.
type Driver struct {
	program  Program
	observer Observer
	scale    int
}

// NewDriver validates the program and creates a Driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if err := cfg.Program.Validate(); err != nil {
		return nil, err
	}
	scale := cfg.Scale
	if scale <= 0 {
		scale = 1
	}
	return &Driver{
		program:  cfg.Program,
		observer: cfg.Observer,
		scale:    scale,
	}, nil
}

// Program returns the program this driver runs.
func (d *Driver) Program() Program {
	return d.program
}

// Main is the root task entry: spawn every child in program order, run the
// parent's own loop, then terminate with the parent's code. It never waits
// for the children.
func (d *Driver) Main(k kernel.Kernel) {
	parent := d.program.Parent
	for _, child := range d.program.Children {
		kernel.Must(parent.Name, "spawn", k.Spawn(child.Name, d.body(child)))
	}
	d.body(parent)(k)
}

// Entry resolves a task body by name. The root task's entry is Main.
func (d *Driver) Entry(name string) (kernel.Entry, bool) {
	if name == d.program.Parent.Name {
		return d.Main, true
	}
	for _, child := range d.program.Children {
		if child.Name == name {
			return d.body(child), true
		}
	}
	return nil, false
}

// body builds the entry for one task. spec is copied into the closure so
// every task owns its configuration.
func (d *Driver) body(spec TaskSpec) kernel.Entry {
	inner := spec.Inner * d.scale
	msg := []byte(spec.Message)

	return func(k kernel.Kernel) {
		if spec.StartSleep > 0 {
			d.sleeping(spec.Name, spec.StartSleep)
			kernel.Must(spec.Name, "sleep", k.Sleep(spec.StartSleep))
		}

		if d.observer != nil {
			d.observer.LoopStarted(spec.Name)
		}

		var work uint64
		for i := 0; i < spec.Outer; i++ {
			work += spin(inner)

			if spec.IterSleep > 0 {
				d.sleeping(spec.Name, spec.IterSleep)
				kernel.Must(spec.Name, "sleep", k.Sleep(spec.IterSleep))
			}
			if len(msg) > 0 {
				kernel.Must(spec.Name, "write", k.Write(msg, kernel.ConsoleOutput))
			}
		}
		runtime.KeepAlive(work)

		k.Terminate(spec.ExitCode)
	}
}

func (d *Driver) sleeping(task string, units int) {
	if d.observer != nil {
		d.observer.Sleeping(task, units)
	}
}

// spin is the busy loop: n iterations of pure arithmetic with no call that
// can block or yield.
func spin(n int) uint64 {
	var acc uint64
	for j := 0; j < n; j++ {
		acc += uint64(j) ^ acc>>3
	}
	return acc
}
