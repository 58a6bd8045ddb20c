package metrics

import (
	"fmt"

	"github.com/kilianp07/ridesync/core/factory"
)

var sinks = factory.NewRegistry[MetricsSink]()

// RegisterSink makes a sink type available to NewSink.
func RegisterSink(name string, f factory.Factory[MetricsSink]) error {
	return sinks.Register(name, f)
}

// SinkTypes lists the registered sink types.
func SinkTypes() []string { return sinks.Names() }

// NewSink builds the sinks listed in cfgs. No entry yields a NopSink, one
// entry that sink and several a MultiSink in config order. When a sink fails
// to build, the ones already built are closed.
func NewSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	built := make([]MetricsSink, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := sinks.Create(c)
		if err != nil {
			CloseSink(NewMultiSink(built...))
			return nil, fmt.Errorf("metrics sink %d (%s): %w", i, c.Type, err)
		}
		built = append(built, s)
	}
	switch len(built) {
	case 0:
		return NopSink{}, nil
	case 1:
		return built[0], nil
	}
	return NewMultiSink(built...), nil
}

// CloseSink closes s when it holds resources.
func CloseSink(s MetricsSink) {
	if c, ok := s.(interface{ Close() }); ok {
		c.Close()
	}
}
