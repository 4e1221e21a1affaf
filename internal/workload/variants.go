package workload

import (
	"errors"
	"fmt"
	"sort"
)

// Built-in variant names.
const (
	VariantPlain        = "plain"
	VariantChatty       = "chatty"
	VariantDelayedStart = "delayed-start"
)

// Task names shared by the built-in variants.
//
// The parent spawns the second-defined child before the first-defined one.
// child-a is that second-defined child: it is spawned first, exits 3 and
// has the longer sleeps (3000 before its loop, 300 per iteration). child-b
// is the first-defined child, spawned second, exiting 2 with sleeps of
// 2000 and 200. Children lists children in spawn order.
const (
	TaskParent = "parent"
	TaskChildA = "child-a"
	TaskChildB = "child-b"
)

// ErrUnknownVariant is returned by Lookup for an unregistered name.
var ErrUnknownVariant = errors.New("unknown variant")

// Plain: no output. Each child sleeps once per outer iteration, one for
// 300 units and the other for 200.
func Plain() Program {
	return Program{
		Name:        VariantPlain,
		Description: "per-iteration sleeps, no console output",
		Parent:      TaskSpec{Name: TaskParent, ExitCode: 1, Outer: 4, Inner: 5},
		Children: []TaskSpec{
			{Name: TaskChildA, ExitCode: 3, IterSleep: 300, Outer: 3, Inner: 10},
			{Name: TaskChildB, ExitCode: 2, IterSleep: 200, Outer: 5, Inner: 10},
		},
	}
}

// Chatty: every task writes its own line once per outer iteration.
func Chatty() Program {
	return Program{
		Name:        VariantChatty,
		Description: "every task writes a line per outer iteration",
		Parent:      TaskSpec{Name: TaskParent, ExitCode: 1, Outer: 5, Inner: 100, Message: "Timesharing 7\r\n"},
		Children: []TaskSpec{
			{Name: TaskChildA, ExitCode: 3, Outer: 5, Inner: 100, Message: "Timesharing 9\r\n"},
			{Name: TaskChildB, ExitCode: 2, Outer: 10, Inner: 100, Message: "Timesharing 8\r\n"},
		},
	}
}

// DelayedStart: each child sleeps once before its loop, 3000 and 2000 units.
func DelayedStart() Program {
	return Program{
		Name:        VariantDelayedStart,
		Description: "one-time sleep before each child's loop",
		Parent:      TaskSpec{Name: TaskParent, ExitCode: 1, Outer: 5, Inner: 100},
		Children: []TaskSpec{
			{Name: TaskChildA, ExitCode: 3, StartSleep: 3000, Outer: 8, Inner: 100},
			{Name: TaskChildB, ExitCode: 2, StartSleep: 2000, Outer: 7, Inner: 100},
		},
	}
}

var variants = map[string]func() Program{
	VariantPlain:        Plain,
	VariantChatty:       Chatty,
	VariantDelayedStart: DelayedStart,
}

// Lookup returns a fresh copy of a built-in variant.
func Lookup(name string) (Program, error) {
	fn, ok := variants[name]
	if !ok {
		return Program{}, fmt.Errorf("%w: %q (have %v)", ErrUnknownVariant, name, Names())
	}
	return fn(), nil
}

// Names lists the built-in variants in sorted order.
func Names() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
