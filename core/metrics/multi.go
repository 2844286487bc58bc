package metrics

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordMessage forwards the event to all sinks, returning the first error encountered.
func (m *MultiSink) RecordMessage(ev MessageEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordMessage(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordTransition forwards transitions to the sinks able to record them.
func (m *MultiSink) RecordTransition(ev TransitionEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(TransitionRecorder); ok {
			if err := rec.RecordTransition(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
