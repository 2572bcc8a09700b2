package telemetry

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jetstream/internal/logging"
)

const namespace = "jetstream"

// Drop reasons used as the "reason" label of events_dropped_total.
const (
	DropDuplicate = "duplicate"
	DropOverflow  = "overflow"
	DropRejected  = "rejected"
	DropShutdown  = "shutdown"
)

// Metrics is the Prometheus view of one or more streams. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	eventsReceived   *prometheus.CounterVec
	eventsDelivered  prometheus.Counter
	eventsDropped    *prometheus.CounterVec
	decodeErrors     prometheus.Counter
	frameErrors      prometheus.Counter
	connectionErrors prometheus.Counter
	reconnects       prometheus.Counter
	bytesReceived    *prometheus.CounterVec
	connected        prometheus.Gauge
	cursor           prometheus.Gauge
	queueDepth       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Events decoded from the feed, by kind.",
		}, []string{"kind"}),
		eventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events accepted by the consumer.",
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not delivered, by reason.",
		}, []string{"reason"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Malformed records skipped.",
		}),
		frameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Frames that failed to decompress.",
		}),
		connectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Failed attempts to open a session.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Sessions opened after the first one.",
		}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_received_total",
			Help:      "Raw frame bytes read from the transport.",
		}, []string{"compressed"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a session is streaming.",
		}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_time_us",
			Help:      "time_us of the last delivered event.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Events waiting in the bounded dispatch queue.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.eventsReceived, m.eventsDelivered, m.eventsDropped, m.decodeErrors,
		m.frameErrors, m.connectionErrors, m.reconnects, m.bytesReceived,
		m.connected, m.cursor, m.queueDepth,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("telemetry: register: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) EventReceived(kind string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) Delivered(cursor int64) {
	if m == nil {
		return
	}
	m.eventsDelivered.Inc()
	m.cursor.Set(float64(cursor))
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) FrameError() {
	if m == nil {
		return
	}
	m.frameErrors.Inc()
}

func (m *Metrics) ConnectionError() {
	if m == nil {
		return
	}
	m.connectionErrors.Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) BytesReceived(n int, compressed bool) {
	if m == nil {
		return
	}
	m.bytesReceived.WithLabelValues(strconv.FormatBool(compressed)).Add(float64(n))
}

func (m *Metrics) Connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Expose serves the default registry on /metrics in the background.
func Expose(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			logging.L().Warn("metrics endpoint stopped", "port", port, "error", err)
		}
	}()
}
