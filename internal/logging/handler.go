package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the maximum number of lines kept for the exit summary.
	MaxBufferedLines = 100
)

// StderrHandler relays stderr output from task processes into the harness
// log. It buffers recent lines for the exit summary.
type StderrHandler struct {
	program string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewStderrHandler creates a new stderr handler. program labels the stream
// in log records.
func NewStderrHandler(program string, logger *slog.Logger, verbose bool) *StderrHandler {
	return &StderrHandler{
		program: program,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleReader reads from an io.Reader and processes each line until EOF.
// This should be run in a goroutine.
func (h *StderrHandler) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, MaxLineLength)

	for scanner.Scan() {
		h.HandleLine(scanner.Text())
	}
}

// HandleLine processes a single line of stderr output.
func (h *StderrHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	h.logLine(line)
}

// taskRecord is the part of a NewTask JSON record the relay keeps.
type taskRecord struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
	Task  string `json:"task"`
	PID   int    `json:"pid"`
	Error string `json:"error"`
}

// decodeTaskRecord reports whether line is a record written by a task
// logger.
func decodeTaskRecord(line string) (taskRecord, bool) {
	var rec taskRecord
	if !strings.HasPrefix(line, "{") {
		return rec, false
	}
	if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Task == "" {
		return rec, false
	}
	return rec, true
}

func (h *StderrHandler) logLine(line string) {
	if rec, ok := decodeTaskRecord(line); ok {
		level := ParseLevel(rec.Level)
		if !h.verbose && level < slog.LevelWarn {
			return
		}
		args := []any{"program", h.program, KeyTask, rec.Task, KeyPID, rec.PID, "task_msg", rec.Msg}
		if rec.Error != "" {
			args = append(args, "error", rec.Error)
		}
		h.logger.Log(context.Background(), level, "task_log", args...)
		return
	}

	level := h.classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(context.Background(), level, "task_stderr",
		"program", h.program,
		"line", line,
	)
}

// classifyLine picks a level for a line that is not a task record, such as
// a Go runtime panic.
func (h *StderrHandler) classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "level=error") ||
		strings.Contains(lower, `"level":"error"`) ||
		strings.Contains(lower, "panic") ||
		strings.Contains(lower, "fault") {
		return slog.LevelError
	}

	if strings.Contains(lower, "level=warn") ||
		strings.Contains(lower, `"level":"warn"`) {
		return slog.LevelWarn
	}

	return slog.LevelDebug
}

// RecentLines returns the most recent lines from the buffer.
func (h *StderrHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)

	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// ErrorPatterns are common failure patterns counted for the exit summary.
var ErrorPatterns = []string{
	"task_fault",
	"panic",
	"broken pipe",
	"exec format error",
	"no such file",
	"permission denied",
	"resource temporarily unavailable",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *StderrHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)

	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, pattern := range ErrorPatterns {
			if strings.Contains(lower, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
