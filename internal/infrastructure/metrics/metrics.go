package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graygateway"

// Result label values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultDropped = "dropped"
)

// Metrics holds every gateway collector.
type Metrics struct {
	registry *prometheus.Registry

	machineConnected *prometheus.GaugeVec
	lineRecords      *prometheus.CounterVec
	lineEvents       *prometheus.CounterVec

	adamPolls  *prometheus.CounterVec
	adamOnline prometheus.Gauge

	acquisitions *prometheus.CounterVec
	agentRestart *prometheus.CounterVec

	uplinkBatches  *prometheus.CounterVec
	uplinkRecords  *prometheus.CounterVec
	uplinkLatency  prometheus.Histogram
	uplinkPending  prometheus.Gauge
	uplinkOnline   prometheus.Gauge
	cyclesRecorded *prometheus.CounterVec
	samplesPruned  prometheus.Counter
	liveClients    prometheus.Gauge
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		machineConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "machine_connected",
			Help:      "1 while the machine's line-protocol stream is connected.",
		}, []string{"machine_id"}),
		lineRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "line_records_total",
			Help:      "Line-protocol records accepted per machine.",
		}, []string{"machine_id"}),
		lineEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "line_events_total",
			Help:      "Line-protocol lifecycle events per machine and type.",
		}, []string{"machine_id", "event"}),
		adamPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adam_polls_total",
			Help:      "Counter module polls by result.",
		}, []string{"result"}),
		adamOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adam_online",
			Help:      "1 while the counter module answers polls.",
		}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Machine state acquisitions by strategy and result.",
		}, []string{"machine_id", "strategy", "result"}),
		agentRestart: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_restarts_total",
			Help:      "Helper agent process restarts per machine.",
		}, []string{"machine_id"}),
		uplinkBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplink_batches_total",
			Help:      "Uplink batch deliveries by result.",
		}, []string{"result"}),
		uplinkRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplink_records_total",
			Help:      "Uplink records by delivery result.",
		}, []string{"result"}),
		uplinkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "uplink_flush_seconds",
			Help:      "Duration of uplink batch deliveries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		uplinkPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uplink_pending_records",
			Help:      "Records waiting in the uplink buffer.",
		}),
		uplinkOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uplink_online",
			Help:      "1 while the remote collector is reachable.",
		}),
		cyclesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_recorded_total",
			Help:      "Reconstructed production cycles per machine.",
		}, []string{"machine_id"}),
		samplesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_pruned_rows_total",
			Help:      "Rows deleted by the retention job.",
		}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Connected live feed clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.machineConnected,
		m.lineRecords,
		m.lineEvents,
		m.adamPolls,
		m.adamOnline,
		m.acquisitions,
		m.agentRestart,
		m.uplinkBatches,
		m.uplinkRecords,
		m.uplinkLatency,
		m.uplinkPending,
		m.uplinkOnline,
		m.cyclesRecorded,
		m.samplesPruned,
		m.liveClients,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SetMachineConnected records a machine's stream state.
func (m *Metrics) SetMachineConnected(machineID string, connected bool) {
	if m == nil {
		return
	}
	m.machineConnected.WithLabelValues(machineID).Set(boolGauge(connected))
}

// LineRecord counts one accepted line-protocol record.
func (m *Metrics) LineRecord(machineID string) {
	if m == nil {
		return
	}
	m.lineRecords.WithLabelValues(machineID).Inc()
}

// LineEvent counts a lifecycle event such as "connected" or "error".
func (m *Metrics) LineEvent(machineID, event string) {
	if m == nil {
		return
	}
	m.lineEvents.WithLabelValues(machineID, event).Inc()
}

// ADAMPoll records the outcome of one counter module poll.
func (m *Metrics) ADAMPoll(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.adamPolls.WithLabelValues(ResultError).Inc()
		m.adamOnline.Set(0)
		return
	}
	m.adamPolls.WithLabelValues(ResultOK).Inc()
	m.adamOnline.Set(1)
}

// Acquisition records the outcome of a machine state acquisition.
// strategy is empty when every strategy failed.
func (m *Metrics) Acquisition(machineID, strategy string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	if strategy == "" {
		strategy = "none"
	}
	m.acquisitions.WithLabelValues(machineID, strategy, result).Inc()
}

// AgentRestart counts a helper agent restart.
func (m *Metrics) AgentRestart(machineID string) {
	if m == nil {
		return
	}
	m.agentRestart.WithLabelValues(machineID).Inc()
}

// UplinkFlush records one batch delivery attempt.
func (m *Metrics) UplinkFlush(records int, d time.Duration, err error, dropped bool) {
	if m == nil {
		return
	}
	result := ResultOK
	switch {
	case dropped:
		result = ResultDropped
	case err != nil:
		result = ResultError
	}
	m.uplinkBatches.WithLabelValues(result).Inc()
	m.uplinkRecords.WithLabelValues(result).Add(float64(records))
	m.uplinkLatency.Observe(d.Seconds())
}

// UplinkRejected counts records that never entered the uplink buffer.
func (m *Metrics) UplinkRejected() {
	if m == nil {
		return
	}
	m.uplinkRecords.WithLabelValues(ResultDropped).Inc()
}

// SetUplinkStatus records buffer depth and collector reachability.
func (m *Metrics) SetUplinkStatus(pending int, online bool) {
	if m == nil {
		return
	}
	m.uplinkPending.Set(float64(pending))
	m.uplinkOnline.Set(boolGauge(online))
}

// CyclesRecorded counts reconstructed cycles.
func (m *Metrics) CyclesRecorded(machineID string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cyclesRecorded.WithLabelValues(machineID).Add(float64(n))
}

// Pruned counts rows deleted by retention.
func (m *Metrics) Pruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.samplesPruned.Add(float64(n))
}

// SetLiveClients records the number of live feed clients.
func (m *Metrics) SetLiveClients(n int) {
	if m == nil {
		return
	}
	m.liveClients.Set(float64(n))
}
