// Package metrics registers the bouncer's Prometheus instrumentation,
// grounded on the registration style of soju's Server.registerMetrics
// (promauto.With(registerer), one struct field per series).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every series the proxy and bouncer orchestrator update.
// The registerer passed to New may be nil, in which case promauto creates
// the series without registering them anywhere (mirroring soju's "can be
// nil" MetricsRegistry field).
type Metrics struct {
	ProxyClients          *prometheus.GaugeVec
	ProxyConnected        *prometheus.GaugeVec
	RelayExceptionsTotal  *prometheus.CounterVec
	ThrottleQueueDepth    *prometheus.GaugeVec
	UpstreamConnectErrors prometheus.Counter
}

// New registers every series against registerer (nil leaves them
// unregistered) and returns the handle used to update them.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		ProxyClients: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bouncer_proxy_clients",
			Help: "Current number of authenticated downstream clients per proxy",
		}, []string{"proxy"}),

		ProxyConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bouncer_proxy_connected",
			Help: "Whether a proxy's upstream IRC connection is currently connected (1) or not (0)",
		}, []string{"proxy"}),

		RelayExceptionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bouncer_proxy_relay_exceptions_total",
			Help: "Total number of client lines intercepted by a relay exception instead of forwarded upstream",
		}, []string{"proxy"}),

		ThrottleQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bouncer_throttle_queue_depth",
			Help: "Current number of outbound lines queued behind an upstream's output throttle",
		}, []string{"proxy"}),

		UpstreamConnectErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_upstream_connect_errors_total",
			Help: "Total number of failed upstream connection attempts",
		}),
	}
}
