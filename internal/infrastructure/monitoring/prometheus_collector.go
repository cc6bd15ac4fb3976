package monitoring

import (
	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"
	sgerrors "streamgrid/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	sessionsConnected prometheus.Gauge
	streamsActive     prometheus.Gauge

	// Counters
	streamsCreated   prometheus.Counter
	producersCreated prometheus.Counter
	consumersCreated prometheus.Counter
	signalingErrors  *prometheus.CounterVec

	// Histograms
	engineCallDuration *prometheus.HistogramVec

	// Stream metrics
	streamSubscribers *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streamgrid_sessions_connected",
			Help: "Number of connected signaling sessions",
		}),

		streamsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_streams_created_total",
			Help: "Total number of streams registered",
		}),

		streamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streamgrid_streams_active",
			Help: "Number of streams with at least one live producer",
		}),

		producersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_producers_created_total",
			Help: "Total number of producers created",
		}),

		consumersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_consumers_created_total",
			Help: "Total number of consumers created",
		}),

		signalingErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgrid_signaling_errors_total",
			Help: "Signaling requests that failed, by error code",
		}, []string{"code"}),

		engineCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamgrid_engine_call_duration_seconds",
			Help:    "Duration of media engine calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op", "status"}),

		streamSubscribers: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamgrid_stream_subscribers",
			Help: "Number of subscribers per stream",
		}, []string{"stream_id"}),
	}
}

func (p *PrometheusCollector) SessionConnected() {
	p.sessionsConnected.Inc()
}

func (p *PrometheusCollector) SessionDisconnected() {
	p.sessionsConnected.Dec()
}

func (p *PrometheusCollector) StreamCreated() {
	p.streamsCreated.Inc()
}

func (p *PrometheusCollector) StreamActivated() {
	p.streamsActive.Inc()
}

func (p *PrometheusCollector) StreamDeactivated() {
	p.streamsActive.Dec()
}

func (p *PrometheusCollector) ProducerCreated() {
	p.producersCreated.Inc()
}

func (p *PrometheusCollector) ConsumerCreated() {
	p.consumersCreated.Inc()
}

func (p *PrometheusCollector) SubscriberCount(stream domain.StreamID, count int) {
	if count <= 0 {
		p.streamSubscribers.DeleteLabelValues(string(stream))
		return
	}
	p.streamSubscribers.WithLabelValues(string(stream)).Set(float64(count))
}

func (p *PrometheusCollector) EngineCall(op string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.engineCallDuration.WithLabelValues(op, status).Observe(seconds)
}

func (p *PrometheusCollector) SignalingError(code string) {
	if code == "" {
		code = string(sgerrors.CodeEngineFailure)
	}
	p.signalingErrors.WithLabelValues(code).Inc()
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)
