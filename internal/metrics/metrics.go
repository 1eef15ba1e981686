// Package metrics declares the Prometheus collectors tcprelay exposes,
// mirroring matst80-showoff/internal/obs/metrics.go's promauto package-
// level declarations (SPEC_FULL.md §11.1). Metrics are an ambient
// addition: spec.md neither requires nor excludes them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/diogin/tcprelay/internal/relay"
)

var (
	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcprelay_sessions_total", Help: "Sessions accepted.",
	})
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tcprelay_sessions_active", Help: "Sessions currently relaying.",
	})
	dialErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcprelay_dial_errors_total", Help: "Sessions that failed during outbound dial.",
	})
	handshakeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcprelay_handshake_errors_total", Help: "Sessions that failed the HTTP CONNECT handshake.",
	})
	timeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcprelay_timeouts_total", Help: "Tunnels that ended via the idle deadline.",
	})
	bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcprelay_tunnel_bytes_total", Help: "Bytes relayed, by direction.",
	}, []string{"direction"})
	sessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tcprelay_session_duration_seconds",
		Help:    "Session lifetime from accept to close.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	})
)

// Collector implements relay.Metrics against the package-level
// collectors above.
type Collector struct{}

// NewCollector returns a relay.Metrics backed by the process's
// Prometheus registry.
func NewCollector() *Collector { return &Collector{} }

func (Collector) SessionStarted() {
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

func (Collector) SessionEnded(d time.Duration) {
	sessionsActive.Dec()
	sessionDurationSeconds.Observe(d.Seconds())
}

func (Collector) DialError()      { dialErrorsTotal.Inc() }
func (Collector) HandshakeError() { handshakeErrorsTotal.Inc() }
func (Collector) TimedOut()       { timeoutsTotal.Inc() }

func (Collector) BytesTransferred(direction relay.Direction, n int64) {
	bytesTotal.WithLabelValues(string(direction)).Add(float64(n))
}

// Handler returns the /metrics HTTP handler, served on its own
// listener per SPEC_FULL.md §11.1 so a scrape hang can never affect a
// tunnel.
func Handler() http.Handler {
	return promhttp.Handler()
}
