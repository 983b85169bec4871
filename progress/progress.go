// Package progress carries real-time apply events from the pipeline to
// whoever is watching: an NDJSON HTTP stream, a websocket, or nobody at
// all. Producers never block; a slow or absent consumer costs events,
// not throughput.
package progress

import (
	"sync"
	"time"
)

// Event types emitted during an apply run.
const (
	TypeStart           = "start"
	TypeStep            = "step"
	TypePackageProgress = "package-progress"
	TypeFileProgress    = "file-progress"
	TypeFileComplete    = "file-complete"
	TypeFileError       = "file-error"
	TypeCommandProgress = "command-progress"
	TypeCommandOutput   = "command-output"
	TypeCommandComplete = "command-complete"
	TypeInfo            = "info"
	TypeWarning         = "warning"
	TypeComplete        = "complete"
	TypeError           = "error"
)

// Event is one progress update. Fields beyond Type are populated per
// event type; zero-valued fields are omitted on the wire.
type Event struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Step      string    `json:"step,omitempty"`
	Packages  []string  `json:"packages,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
	Command   string    `json:"command,omitempty"`
	Output    string    `json:"output,omitempty"`
	ExitCode  int       `json:"exitCode,omitempty"`
	Current   int       `json:"current,omitempty"`
	Total     int       `json:"total,omitempty"`
	Error     string    `json:"error,omitempty"`
	Result    any       `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream is a single-run event channel. Emit is safe from one producer
// goroutine; Close is safe to call more than once and from a different
// goroutine than Emit. A nil *Stream discards everything, so pipeline
// code never has to branch on whether anyone is listening.
type Stream struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once

	// tap, when set, sees every event that made it into the channel.
	// Used to persist run events alongside live delivery.
	tap func(Event)
}

// DefaultBuffer is the event buffer for a stream. Apply runs emit at
// most a few hundred events; a consumer that falls further behind than
// this starts losing events rather than stalling the run.
const DefaultBuffer = 256

// NewStream creates a stream with the default buffer.
func NewStream() *Stream {
	return &Stream{
		ch:   make(chan Event, DefaultBuffer),
		done: make(chan struct{}),
	}
}

// WithTap registers a callback invoked inline for every delivered
// event. Must be set before the producer starts.
func (s *Stream) WithTap(tap func(Event)) *Stream {
	s.tap = tap
	return s
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

// Emit delivers an event without blocking. If the buffer is full or the
// stream is closed the event is dropped.
func (s *Stream) Emit(ev Event) {
	if s == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- ev:
		if s.tap != nil {
			s.tap(ev)
		}
	default:
	}
}

// Close ends the stream. The event channel is closed exactly once, no
// matter how many times Close is called.
func (s *Stream) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		// done gates Emit; closing it first keeps a racing producer off
		// the channel. The producer contract is still
		// close-after-last-emit.
		close(s.done)
		close(s.ch)
	})
}

// Step emits a step transition.
func (s *Stream) Step(step, message string) {
	s.Emit(Event{Type: TypeStep, Step: step, Message: message})
}

// Info emits an informational message.
func (s *Stream) Info(message string) {
	s.Emit(Event{Type: TypeInfo, Message: message})
}

// Warning emits a non-fatal problem.
func (s *Stream) Warning(message string) {
	s.Emit(Event{Type: TypeWarning, Message: message})
}

// Error emits a fatal run error.
func (s *Stream) Error(message string) {
	s.Emit(Event{Type: TypeError, Error: message})
}

// FileProgress reports a file write about to happen.
func (s *Stream) FileProgress(name string, current, total int) {
	s.Emit(Event{Type: TypeFileProgress, FileName: name, Current: current, Total: total})
}

// FileComplete reports a finished file write.
func (s *Stream) FileComplete(name string) {
	s.Emit(Event{Type: TypeFileComplete, FileName: name})
}

// FileError reports a failed file operation.
func (s *Stream) FileError(name, msg string) {
	s.Emit(Event{Type: TypeFileError, FileName: name, Error: msg})
}
