package audit

import "github.com/dkeye/Presence/internal/metrics"

// MetricsSink turns audit records into Prometheus counters.
type MetricsSink struct {
	m *metrics.Metrics
}

func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{m: m}
}

func (s *MetricsSink) Record(r Record) {
	switch r.Kind {
	case KindConnect:
		s.m.Connects.Inc()
	case KindDisconnect:
		s.m.Disconnects.Inc()
	case KindAuthFailure:
		s.m.AuthFailures.Inc()
	case KindCallStart:
		s.m.CallsStarted.Inc()
	case KindCallEnd:
		s.m.CallsEnded.WithLabelValues(r.Reason).Inc()
		s.m.CallDuration.Observe(r.Duration.Seconds())
	case KindOnline, KindOffline:
	}
}
