// Package mtmetrics exposes optional Prometheus collectors for the
// sender. Metrics are a pure side channel: nothing in mtproto or msgbox
// reads them back, and a nil *Metrics is always safe to use (every method
// is a no-op). Grounded on the prometheus/client_golang dependency shared
// by the adred-codev-ws_poc and xendarboh-katzenpost examples.
package mtmetrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	PendingRequests prometheus.Gauge
	Reconnects      prometheus.Counter
	RPCLatency      prometheus.Histogram
	UpdatesDropped  prometheus.Counter
	BoxGapsOpened   prometheus.Counter
	BoxDiffsStarted prometheus.Counter
}

// New builds an unregistered Metrics set with a namespace/subsystem
// prefix, e.g. New("mtcore", "sender").
func New(namespace, subsystem string) *Metrics {
	return &Metrics{
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "pending_requests",
			Help: "Requests awaiting a reply in the pending map.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "reconnects_total",
			Help: "Number of times start_reconnect was triggered.",
		}),
		RPCLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "rpc_latency_seconds",
			Help:    "Time from request submission to completion.",
			Buckets: prometheus.DefBuckets,
		}),
		UpdatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "updates_dropped_total",
			Help: "Updates dropped because the caller's updates queue was full.",
		}),
		BoxGapsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "msgbox", Name: "gaps_opened_total",
			Help: "Possible-gap entries created by apply_pts_info.",
		}),
		BoxDiffsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "msgbox", Name: "diffs_started_total",
			Help: "Entries moved into getting_diff_for.",
		}),
	}
}

// Register adds every collector to reg. Call once at startup.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	if m == nil {
		return nil
	}
	collectors := []prometheus.Collector{
		m.PendingRequests, m.Reconnects, m.RPCLatency, m.UpdatesDropped,
		m.BoxGapsOpened, m.BoxDiffsStarted,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) ObserveRPCSeconds(s float64) {
	if m == nil {
		return
	}
	m.RPCLatency.Observe(s)
}

func (m *Metrics) IncUpdatesDropped() {
	if m == nil {
		return
	}
	m.UpdatesDropped.Inc()
}

func (m *Metrics) IncGapOpened() {
	if m == nil {
		return
	}
	m.BoxGapsOpened.Inc()
}

func (m *Metrics) IncDiffStarted() {
	if m == nil {
		return
	}
	m.BoxDiffsStarted.Inc()
}
