// Package console provides the shared console output stream tasks write to.
//
// Each write is one complete line and reaches the underlying writer in a
// single call, so lines never tear. Lines from different tasks interleave
// in whatever order the scheduler produces; the console records that order
// without imposing one.
package console

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"
)

// Line is one write observed on the console.
type Line struct {
	Task string        // empty when the writer is unknown (process backend)
	Text string        // exact bytes, including the terminator
	At   time.Duration // since the console was created
}

// Console is a line-atomic shared output stream.
type Console struct {
	out   io.Writer
	start time.Time

	mu     sync.Mutex
	lines  []Line
	counts map[string]int

	// OnLine is called after every recorded line, outside the lock.
	onLine func(Line)
}

// New creates a console that forwards every line to out.
// A nil out discards output but still records lines.
func New(out io.Writer) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{
		out:    out,
		start:  time.Now(),
		counts: make(map[string]int),
	}
}

// OnLine registers a callback for every recorded line. Call before use.
func (c *Console) OnLine(fn func(Line)) {
	c.onLine = fn
}

// WriteLine writes p as one unit on behalf of task.
func (c *Console) WriteLine(task string, p []byte) error {
	c.mu.Lock()
	_, err := c.out.Write(p)
	line := c.recordLocked(task, string(p))
	c.mu.Unlock()

	if c.onLine != nil {
		c.onLine(line)
	}
	return err
}

// ReadFrom ingests newline-terminated lines from r until EOF, forwarding
// each to the underlying writer. A trailing fragment without a newline is
// recorded as its own line.
func (c *Console) ReadFrom(r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	var n int64
	for {
		text, err := br.ReadString('\n')
		if len(text) > 0 {
			n += int64(len(text))
			if werr := c.WriteLine("", []byte(text)); werr != nil {
				return n, werr
			}
		}
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}

func (c *Console) recordLocked(task, text string) Line {
	line := Line{Task: task, Text: text, At: time.Since(c.start)}
	c.lines = append(c.lines, line)
	c.counts[text]++
	return line
}

// Lines returns a copy of every line in arrival order.
func (c *Console) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Counts returns the multiset of line texts.
func (c *Console) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for text, n := range c.counts {
		out[text] = n
	}
	return out
}

// Len returns the number of lines written so far.
func (c *Console) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}
