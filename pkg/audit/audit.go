// Package audit emits the append-only event trail for every mutating
// platform operation. Events are observational: nothing in the engines
// reads them back for logic.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one structured audit record.
type Event struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Subject   string         `json:"subject"`
	Actor     string         `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Emitter records audit events.
type Emitter interface {
	Emit(kind, subject, actor string, payload map[string]any)
}

// Logger writes events as JSON lines to a writer and keeps them in memory
// for inspection. Safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
	events []Event
	clock  func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() *Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// Pass io.Discard to keep events in memory only.
func NewLoggerWithWriter(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{writer: w, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (l *Logger) WithClock(clock func() time.Time) *Logger {
	l.clock = clock
	return l
}

// Emit implements Emitter.
func (l *Logger) Emit(kind, subject, actor string, payload map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   subject,
		Actor:     actor,
		Timestamp: l.clock(),
		Payload:   payload,
	}
	l.events = append(l.events, ev)

	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = l.writer.Write(append(line, '\n'))
}

// Events returns a copy of the recorded events in emission order.
func (l *Logger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// ByKind filters recorded events by kind.
func (l *Logger) ByKind(kind string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Discard is an Emitter that drops everything.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(string, string, string, map[string]any) {}
