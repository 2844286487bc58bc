package metrics

import (
	"time"

	"github.com/kilianp07/evcharger/core/model"
)

// MessageEvent describes one outbound OCPP operation and its outcome.
type MessageEvent struct {
	Identity string
	Action   string
	// ConnectorID is set for StatusNotification only.
	ConnectorID *int
	// Status carries the reported or returned status, when there is one.
	Status  string
	Err     error
	Latency time.Duration
	Time    time.Time
}

// Success reports whether the operation completed without error.
func (e MessageEvent) Success() bool { return e.Err == nil }

// MetricsSink records outbound protocol operations.
type MetricsSink interface {
	RecordMessage(ev MessageEvent) error
}

// TransitionEvent is one state change observed by the dispatch engine.
type TransitionEvent struct {
	Identity   string
	Transition model.Transition
	Time       time.Time
}

// TransitionRecorder records state transitions.
type TransitionRecorder interface {
	RecordTransition(ev TransitionEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordMessage(MessageEvent) error       { return nil }
func (NopSink) RecordTransition(TransitionEvent) error { return nil }
