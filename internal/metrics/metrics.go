// Package metrics defines the metrics sink handed to consensus at startup.
//
// Consensus only ever writes to a sink. The API reads the same values back
// through a Registry, which is why the sink is created by the data source
// and not by consensus itself.
package metrics

// Metrics creates named instruments. Asking twice for the same name returns
// the same instrument.
type Metrics interface {
	// Counter returns a monotonically increasing instrument.
	Counter(name, help string) Counter

	// Gauge returns an instrument that can be set to arbitrary values.
	Gauge(name, help string) Gauge
}

// Counter is a monotonically increasing value.
type Counter interface {
	// Add increases the counter. Negative deltas are ignored.
	Add(delta float64)
}

// Gauge is a value that can go up and down.
type Gauge interface {
	Set(value float64)
	Add(delta float64)
}

// NoMetrics discards everything written to it.
type NoMetrics struct{}

func (NoMetrics) Counter(string, string) Counter { return noop{} } // A

func (NoMetrics) Gauge(string, string) Gauge { return noop{} } // A

type noop struct{}

func (noop) Add(float64) {}
func (noop) Set(float64) {}

var _ Metrics = NoMetrics{}
