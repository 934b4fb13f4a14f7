package join

import (
	"github.com/pickme-go/metrics/v2"
)

type Metrics struct {
	pending      metrics.Gauge
	matched      metrics.Counter
	failed       metrics.Counter
	matchLatency metrics.Observer
}

var noopMetrics = NewMetrics(metrics.NoopReporter())

func NewMetrics(reporter metrics.Reporter) *Metrics {
	return &Metrics{
		pending: reporter.Gauge(metrics.MetricConf{
			Path:   `k_join_joiner_pending`,
			Labels: []string{`join`, `side`},
		}),
		matched: reporter.Counter(metrics.MetricConf{
			Path:   `k_join_joiner_matched_count`,
			Labels: []string{`join`},
		}),
		failed: reporter.Counter(metrics.MetricConf{
			Path:   `k_join_joiner_failed_count`,
			Labels: []string{`join`, `side`},
		}),
		matchLatency: reporter.Observer(metrics.MetricConf{
			Path:   `k_join_joiner_match_latency_microseconds`,
			Labels: []string{`join`},
		}),
	}
}
