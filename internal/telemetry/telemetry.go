package telemetry

import (
	"time"

	"github.com/nexus-fleet/nexus/internal/logger"
)

// Event names emitted by the engine. The names are part of the contract
// consumed by external sinks.
const (
	PipelineStart     = "pipeline.start"
	PipelineStop      = "pipeline.stop"
	PipelineException = "pipeline.exception"
	TaskStart         = "task.start"
	TaskStop          = "task.stop"
	TaskException     = "task.exception"
	CommandStart      = "command.start"
	CommandStop       = "command.stop"
	SSHConnectStart   = "ssh.connect.start"
	SSHConnectStop    = "ssh.connect.stop"
)

// Event carries one telemetry observation.
type Event struct {
	Name     string
	At       time.Time
	Duration time.Duration
	Fields   map[string]any
}

// Sink receives engine telemetry events.
type Sink interface {
	Emit(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// LoggerSink writes events through the application logger at debug level.
type LoggerSink struct {
	Logger *logger.Logger
}

// Emit implements Sink.
func (s LoggerSink) Emit(ev Event) {
	if s.Logger == nil {
		return
	}
	fields := map[string]any{"event": ev.Name}
	if ev.Duration > 0 {
		fields["duration_ms"] = ev.Duration.Milliseconds()
	}
	for k, v := range ev.Fields {
		fields[k] = v
	}
	s.Logger.WithFields(fields).Debug("telemetry")
}

// Emitter is a convenience wrapper that timestamps events on emit.
type Emitter struct {
	Sink Sink
}

// Emit sends an event with the current monotonic-backed timestamp.
func (e Emitter) Emit(name string, duration time.Duration, fields map[string]any) {
	if e.Sink == nil {
		return
	}
	e.Sink.Emit(Event{Name: name, At: time.Now(), Duration: duration, Fields: fields})
}
