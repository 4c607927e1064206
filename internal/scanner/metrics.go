package scanner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tick stages, used as the "stage" label on failures.
const (
	StagePoll    = "poll"
	StageEncode  = "encode"
	StagePublish = "publish"
	StagePanic   = "panic"
)

// Metrics holds the scanner's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ticks     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	published *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	lag       *prometheus.HistogramVec
	inflight  prometheus.Gauge
}

// NewMetrics creates the scanner collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanrelay",
			Subsystem: "scanner",
			Name:      "ticks_total",
			Help:      "Total poll ticks started per target",
		}, []string{"target"}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanrelay",
			Subsystem: "scanner",
			Name:      "tick_failures_total",
			Help:      "Total failed ticks per target and stage",
		}, []string{"target", "stage"}),

		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanrelay",
			Subsystem: "scanner",
			Name:      "envelopes_published_total",
			Help:      "Total envelopes handed to the publisher successfully",
		}, []string{"target"}),

		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanrelay",
			Subsystem: "scanner",
			Name:      "envelope_bytes_total",
			Help:      "Total encoded envelope bytes published",
		}, []string{"target"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scanrelay",
			Subsystem: "scanner",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one poll, encode and publish cycle",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),

		lag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scanrelay",
			Subsystem: "scanner",
			Name:      "tick_lag_seconds",
			Help:      "Delay between a tick's scheduled slot and its start",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		}, []string{"target"}),

		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scanrelay",
			Subsystem: "scanner",
			Name:      "ticks_in_flight",
			Help:      "Ticks currently executing",
		}),
	}

	for _, c := range []prometheus.Collector{m.ticks, m.failures, m.published, m.bytes, m.duration, m.lag, m.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) tickStarted(target string, lag time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(target).Inc()
	m.lag.WithLabelValues(target).Observe(lag.Seconds())
	m.inflight.Inc()
}

func (m *Metrics) tickFinished(target string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(target).Observe(d.Seconds())
	m.inflight.Dec()
}

func (m *Metrics) failure(target, stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(target, stage).Inc()
}

func (m *Metrics) publishedEnvelope(target string, n int) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(target).Inc()
	m.bytes.WithLabelValues(target).Add(float64(n))
}
