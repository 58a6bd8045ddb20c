package metrics

// MultiSink fans out records to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordConnection forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordConnection(ev ConnectionEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordConnection(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordDispatchEvent forwards reconciled events.
func (m *MultiSink) RecordDispatchEvent(ev DispatchEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordDispatchEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordBid forwards bid outcomes.
func (m *MultiSink) RecordBid(ev BidEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordBid(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordLocation forwards location samples.
func (m *MultiSink) RecordLocation(ev LocationEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordLocation(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordTransition forwards lifecycle transitions.
func (m *MultiSink) RecordTransition(ev TransitionEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordTransition(ev); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink that can be closed.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		CloseSink(s)
	}
}
