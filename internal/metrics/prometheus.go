package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	opCountDesc = prometheus.NewDesc(
		"lingostream_operation_total",
		"Number of recorded operations.",
		[]string{"op"}, nil,
	)
	opSecondsDesc = prometheus.NewDesc(
		"lingostream_operation_seconds_total",
		"Cumulative time spent in operations.",
		[]string{"op"}, nil,
	)
	tokensDesc = prometheus.NewDesc(
		"lingostream_tokens_total",
		"Tokens reported by the model provider.",
		[]string{"op", "direction"}, nil,
	)
	outcomeDesc = prometheus.NewDesc(
		"lingostream_outcome_total",
		"Outcomes per operation (settled, refunded, cache hit, ...).",
		[]string{"op", "outcome"}, nil,
	)
	inFlightDesc = prometheus.NewDesc(
		"lingostream_streams_in_flight",
		"Model streams currently in progress.",
		nil, nil,
	)
)

var _ prometheus.Collector = (*Collector)(nil)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- opCountDesc
	ch <- opSecondsDesc
	ch <- tokensDesc
	ch <- outcomeDesc
	ch <- inFlightDesc
}

// Collect implements prometheus.Collector by exporting the in-memory
// aggregates as const metrics.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, op := range c.sortedOps() {
		m := c.ops[op]
		ch <- prometheus.MustNewConstMetric(opCountDesc, prometheus.CounterValue, float64(m.Count), op)
		ch <- prometheus.MustNewConstMetric(opSecondsDesc, prometheus.CounterValue, m.TotalTime.Seconds(), op)
		if m.TotalInputTokens > 0 || m.TotalOutputTokens > 0 {
			ch <- prometheus.MustNewConstMetric(tokensDesc, prometheus.CounterValue, float64(m.TotalInputTokens), op, "input")
			ch <- prometheus.MustNewConstMetric(tokensDesc, prometheus.CounterValue, float64(m.TotalOutputTokens), op, "output")
		}
	}
	for op, byOutcome := range c.outcomes {
		for outcome, n := range byOutcome {
			ch <- prometheus.MustNewConstMetric(outcomeDesc, prometheus.CounterValue, float64(n), op, outcome)
		}
	}
	ch <- prometheus.MustNewConstMetric(inFlightDesc, prometheus.GaugeValue, float64(c.inFlight))
}
