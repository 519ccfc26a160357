// Package metrics records delivery engine measurements in Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/songhahaha66/inlong/internal/ports"
)

// Namespace prefixes every metric name.
const Namespace = "inlong_dataproxy"

// Prometheus implements ports.Metrics.
type Prometheus struct {
	messagesEnqueued *prometheus.CounterVec
	bytesEnqueued    *prometheus.CounterVec
	messagesRejected *prometheus.CounterVec
	batchesFlushed   *prometheus.CounterVec
	batchMessages    prometheus.Histogram
	batchBytes       *prometheus.CounterVec
	sendAttempts     *prometheus.CounterVec
	sendLatency      *prometheus.HistogramVec
	batchesCompleted *prometheus.CounterVec
	messagesDone     *prometheus.CounterVec
	inflight         prometheus.Gauge
	endpointHealthy  *prometheus.GaugeVec
	endpointsKnown   prometheus.Gauge
	connectionsOpen  *prometheus.GaugeVec
	resolves         *prometheus.CounterVec
}

var _ ports.Metrics = (*Prometheus)(nil)

// NewPrometheus registers the collectors with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		messagesEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_enqueued_total",
			Help:      "Messages accepted into the buffer.",
		}, []string{"group"}),
		bytesEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bytes_enqueued_total",
			Help:      "Payload bytes accepted into the buffer.",
		}, []string{"group"}),
		messagesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_rejected_total",
			Help:      "Messages refused or dropped at enqueue.",
		}, []string{"group", "reason"}),
		batchesFlushed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_flushed_total",
			Help:      "Batches flushed by trigger.",
		}, []string{"group", "trigger"}),
		batchMessages: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "batch_messages",
			Help:      "Messages per flushed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
		batchBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batch_bytes_total",
			Help:      "Encoded bytes before and after compression.",
		}, []string{"codec", "stage"}),
		sendAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "send_attempts_total",
			Help:      "Send attempts by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		sendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "send_duration_seconds",
			Help:      "Duration of send attempts.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"endpoint"}),
		batchesCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_completed_total",
			Help:      "Batches that reached a terminal outcome.",
		}, []string{"group", "result"}),
		messagesDone: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_completed_total",
			Help:      "Messages that reached a terminal outcome.",
		}, []string{"group", "result"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "inflight_batches",
			Help:      "Batches currently being sent.",
		}),
		endpointHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "endpoint_healthy",
			Help:      "1 when the endpoint is healthy, 0 when unhealthy.",
		}, []string{"endpoint"}),
		endpointsKnown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "endpoints_known",
			Help:      "Endpoints in the current resolved set.",
		}),
		connectionsOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connections_open",
			Help:      "Open connections per endpoint.",
		}, []string{"endpoint"}),
		resolves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resolves_total",
			Help:      "Endpoint refreshes by result.",
		}, []string{"result"}),
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (p *Prometheus) MessageEnqueued(group string, bytes int) {
	p.messagesEnqueued.WithLabelValues(group).Inc()
	p.bytesEnqueued.WithLabelValues(group).Add(float64(bytes))
}

func (p *Prometheus) MessageRejected(group, reason string) {
	p.messagesRejected.WithLabelValues(group, reason).Inc()
}

func (p *Prometheus) BatchFlushed(group, trigger string, messages, bytes int) {
	p.batchesFlushed.WithLabelValues(group, trigger).Inc()
	p.batchMessages.Observe(float64(messages))
}

func (p *Prometheus) BatchCompressed(codec string, rawBytes, wireBytes int) {
	p.batchBytes.WithLabelValues(codec, "raw").Add(float64(rawBytes))
	p.batchBytes.WithLabelValues(codec, "wire").Add(float64(wireBytes))
}

func (p *Prometheus) SendAttempt(endpoint, outcome string, latency time.Duration) {
	p.sendAttempts.WithLabelValues(endpoint, outcome).Inc()
	if latency > 0 {
		p.sendLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
	}
}

func (p *Prometheus) BatchCompleted(group string, delivered bool, messages int) {
	p.batchesCompleted.WithLabelValues(group, result(delivered)).Inc()
	p.messagesDone.WithLabelValues(group, result(delivered)).Add(float64(messages))
}

func (p *Prometheus) InflightBatches(n int) {
	p.inflight.Set(float64(n))
}

func (p *Prometheus) EndpointHealth(endpoint string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	p.endpointHealthy.WithLabelValues(endpoint).Set(v)
}

func (p *Prometheus) EndpointsKnown(n int) {
	p.endpointsKnown.Set(float64(n))
}

func (p *Prometheus) ConnectionsOpen(endpoint string, delta int) {
	p.connectionsOpen.WithLabelValues(endpoint).Add(float64(delta))
}

func (p *Prometheus) ResolveCompleted(success bool) {
	p.resolves.WithLabelValues(result(success)).Inc()
}
