package metrics

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)

	// Gateway
	GatewaySendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gateway_send_total", Help: "Gateway call outcomes."},
		[]string{"outcome"}, // ok | gateway_error | parse_error | timeout | error
	)
	GatewaySendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_send_duration_seconds",
			Help:    "Gateway call latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)

	// Orchestrator
	BatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulk_batch_total", Help: "Personalized batches by result."},
		[]string{"result"}, // ok | failed
	)
	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bulk_batch_size",
			Help:    "Recipients per gateway call.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0,10,...,100
		},
	)
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulk_messages_sent_total", Help: "Messages accepted by the gateway."},
		[]string{"mode"}, // plain | personalized
	)
	ResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "resolver_resolve_total", Help: "Recipient resolutions."},
		[]string{"result"}, // reused | created | bare | error
	)
	AuditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "audit_log_writes_total", Help: "Bulk message log writes."},
		[]string{"result"}, // ok | error
	)

	// Jobs
	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "jobs_inflight", Help: "Bulk send jobs currently running."},
	)
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jobs_total", Help: "Bulk send jobs by final state."},
		[]string{"state"}, // done | failed | rejected
	)
)

var registerOnce sync.Once

// MustRegister adds the service collectors to the default registry, which
// already carries the Go and process collectors. Safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequests, HTTPDuration,
			GatewaySendTotal, GatewaySendDuration,
			BatchTotal, BatchSize, MessagesSent, ResolveTotal, AuditWrites,
			JobsInFlight, JobsTotal,
		)
	})
}

// Export a tiny pgxpool stats exporter
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns        prometheus.Gauge
	idle         prometheus.Gauge
	acquireCount prometheus.Gauge
	acquireSecs  prometheus.Gauge
}

func NewPGXPoolStats(pool *pgxpool.Pool) *PGXPoolStats {
	m := &PGXPoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		// pgxpool reports cumulative values, so these are gauges set to the
		// latest total rather than counters.
		acquireCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_acquires", Help: "Cumulative pool acquires.",
		}),
		acquireSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_acquire_seconds", Help: "Cumulative acquire latency.",
		}),
	}
	prometheus.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireSecs)

	return m
}

func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	for {
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
			s := m.pool.Stat()
			m.conns.Set(float64(s.TotalConns()))
			m.idle.Set(float64(s.IdleConns()))
			m.acquireCount.Set(float64(s.AcquireCount()))
			m.acquireSecs.Set(s.AcquireDuration().Seconds())
		}
	}
}
