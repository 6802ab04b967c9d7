package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec

	Connections   prometheus.Gauge
	OnlineUsers   prometheus.Gauge
	ActiveCalls   prometheus.Gauge
	Connects      prometheus.Counter
	Disconnects   prometheus.Counter
	AuthFailures  prometheus.Counter
	CallsStarted  prometheus.Counter
	CallsEnded    *prometheus.CounterVec
	CallDuration  prometheus.Histogram
	Events        *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:   r,
		httpReqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests"}, []string{"method", "route", "status"}),
		httpDur:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration"}, []string{"method", "route"}),

		Connections:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "connections", Help: "Live connections"}),
		OnlineUsers:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "online_users", Help: "Identities with at least one live connection"}),
		ActiveCalls:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_calls", Help: "Live call records"}),
		Connects:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "connects_total", Help: "Accepted connections"}),
		Disconnects:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "disconnects_total", Help: "Closed connections"}),
		AuthFailures:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "auth_failures_total", Help: "Rejected connection attempts"}),
		CallsStarted:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "calls_started_total", Help: "Calls created"}),
		CallsEnded:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "calls_ended_total", Help: "Calls ended by reason"}, []string{"reason"}),
		CallDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "call_duration_seconds", Help: "Call duration", Buckets: prometheus.ExponentialBuckets(1, 4, 8)}),
		Events:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_total", Help: "Inbound events by result code"}, []string{"event", "code"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "frames_dropped_total", Help: "Outbound frames not enqueued"}, []string{"reason"}),
	}
	r.MustRegister(m.httpReqCnt, m.httpDur)
	r.MustRegister(m.Connections, m.OnlineUsers, m.ActiveCalls, m.Connects, m.Disconnects, m.AuthFailures)
	r.MustRegister(m.CallsStarted, m.CallsEnded, m.CallDuration, m.Events, m.FramesDropped)
	return m
}

// Event counts one routed event; code is empty on success.
func (m *Metrics) Event(event, code string) {
	if code == "" {
		code = "ok"
	}
	m.Events.WithLabelValues(event, code).Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		start := time.Now()
		c.Next()
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
