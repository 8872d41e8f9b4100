// Package telemetry carries the cycle engine's human-readable reports to
// wherever operators read them. Reporting is best effort: a sink that fails
// or panics never disturbs the caller.
package telemetry

import (
	"sync"
	"time"

	"churnrig/pkg/log"
)

// Sink accepts report lines.
type Sink interface {
	Report(text string)
}

// RunObserver is implemented by sinks that group reports by cycle run.
type RunObserver interface {
	RunStarted(runID string, at time.Time)
	RunEnded(runID, outcome string, at time.Time)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string)

func (f SinkFunc) Report(text string) { f(text) }

// Discard drops every report.
var Discard Sink = SinkFunc(func(string) {})

// Multi fans reports out to several sinks.
type Multi []Sink

func (m Multi) Report(text string) {
	for _, s := range m {
		safeReport(s, text)
	}
}

func (m Multi) RunStarted(runID string, at time.Time) {
	for _, s := range m {
		if o, ok := s.(RunObserver); ok {
			safeCall(func() { o.RunStarted(runID, at) })
		}
	}
}

func (m Multi) RunEnded(runID, outcome string, at time.Time) {
	for _, s := range m {
		if o, ok := s.(RunObserver); ok {
			safeCall(func() { o.RunEnded(runID, outcome, at) })
		}
	}
}

// Safe wraps s so that a panicking sink is contained.
func Safe(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return Multi{s}
}

func safeReport(s Sink, text string) {
	safeCall(func() { s.Report(text) })
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.GetLogger("telemetry").Warn("sink panicked: %v", r)
		}
	}()
	fn()
}

// LogSink writes reports to a logger at INFO.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Report(text string) {
	s.Logger.Info("%s", text)
}

// Buffer keeps the most recent report lines in memory.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewBuffer creates a buffer holding up to size lines (minimum 1).
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{lines: make([]string, size)}
}

func (b *Buffer) Report(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = text
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

// Lines returns the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}

// Last returns the newest line, or "" if none.
func (b *Buffer) Last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full && b.next == 0 {
		return ""
	}
	return b.lines[(b.next-1+len(b.lines))%len(b.lines)]
}
