package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons.
const (
	DropNoTarget     = "no_target"
	DropWrongRole    = "wrong_role"
	DropBackpressure = "backpressure"
	DropBadPayload   = "bad_payload"
	DropAmbiguous    = "ambiguous_target"
)

// Metrics groups the relay's prometheus collectors. All methods are safe on
// a nil receiver so components can run without metrics in tests.
type Metrics struct {
	connections   *prometheus.GaugeVec
	relayed       *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	uploadBytes   prometheus.Counter
	uploadResults *prometheus.CounterVec
	activeUploads prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "camrelay",
			Name:      "connections",
			Help:      "Live connections by role.",
		}, []string{"role"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camrelay",
			Name:      "relayed_messages_total",
			Help:      "Messages delivered to a recipient transport, by message type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camrelay",
			Name:      "dropped_messages_total",
			Help:      "Messages not delivered, by message type and reason.",
		}, []string{"type", "reason"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camrelay",
			Name:      "upload_bytes_total",
			Help:      "Bytes persisted by the upload pipeline.",
		}),
		uploadResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camrelay",
			Name:      "uploads_total",
			Help:      "Finished upload sessions by outcome.",
		}, []string{"outcome"}),
		activeUploads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "camrelay",
			Name:      "active_uploads",
			Help:      "Open upload sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.relayed, m.dropped, m.uploadBytes, m.uploadResults, m.activeUploads)
	}
	return m
}

func (m *Metrics) ConnAdded(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Inc()
}

func (m *Metrics) ConnRemoved(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Dec()
}

func (m *Metrics) Relayed(msgType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.relayed.WithLabelValues(msgType).Add(float64(n))
}

func (m *Metrics) Dropped(msgType, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(msgType, reason).Inc()
}

func (m *Metrics) UploadBytes(n int) {
	if m == nil {
		return
	}
	m.uploadBytes.Add(float64(n))
}

func (m *Metrics) UploadStarted() {
	if m == nil {
		return
	}
	m.activeUploads.Inc()
}

// UploadFinished records outcome: "ended", "cancelled" or "failed".
func (m *Metrics) UploadFinished(outcome string) {
	if m == nil {
		return
	}
	m.activeUploads.Dec()
	m.uploadResults.WithLabelValues(outcome).Inc()
}
