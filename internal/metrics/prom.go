package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons used as label values.
const (
	ReasonInvalid    = "invalid"
	ReasonOutlier    = "outlier"
	ReasonQueueFull  = "queue_full"
	ReasonNotRunning = "not_running"
)

// Collectors groups the Prometheus series exported by the gateway.
// A nil *Collectors is valid and records nothing.
type Collectors struct {
	SamplesEnqueued prometheus.Counter
	SamplesRejected *prometheus.CounterVec
	Batches         *prometheus.CounterVec
	SinkRetries     prometheus.Counter
	QueueLength     prometheus.Gauge
	Latency         prometheus.Histogram
	Notifications   prometheus.Counter
	Reconnects      prometheus.Counter
	SessionState    *prometheus.GaugeVec
}

// NewCollectors creates the series and registers them on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		SamplesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hgu_samples_enqueued_total",
			Help: "Samples accepted into the pipeline queue.",
		}),
		SamplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hgu_samples_rejected_total",
			Help: "Samples dropped before reaching a batch.",
		}, []string{"reason"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hgu_batches_total",
			Help: "Batches handed to the sink by outcome.",
		}, []string{"result"}),
		SinkRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hgu_sink_retries_total",
			Help: "Retried sink write attempts.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hgu_queue_length",
			Help: "Samples waiting in the pipeline queue.",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hgu_processing_latency_seconds",
			Help:    "Time from queue pop to batch append.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hgu_notifications_total",
			Help: "Data change notifications received from the controller.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hgu_reconnects_total",
			Help: "Controller reconnect attempts.",
		}),
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hgu_session_state",
			Help: "1 for the current controller session state, 0 otherwise.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(
			c.SamplesEnqueued, c.SamplesRejected, c.Batches, c.SinkRetries,
			c.QueueLength, c.Latency, c.Notifications, c.Reconnects, c.SessionState,
		)
	}
	return c
}

func (c *Collectors) Enqueued() {
	if c != nil {
		c.SamplesEnqueued.Inc()
	}
}

func (c *Collectors) Rejected(reason string) {
	if c != nil {
		c.SamplesRejected.WithLabelValues(reason).Inc()
	}
}

func (c *Collectors) Batch(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.Batches.WithLabelValues("success").Inc()
	} else {
		c.Batches.WithLabelValues("failure").Inc()
	}
}

func (c *Collectors) Retry() {
	if c != nil {
		c.SinkRetries.Inc()
	}
}

func (c *Collectors) Queue(n int) {
	if c != nil {
		c.QueueLength.Set(float64(n))
	}
}

func (c *Collectors) ObserveLatency(seconds float64) {
	if c != nil {
		c.Latency.Observe(seconds)
	}
}

func (c *Collectors) Notification() {
	if c != nil {
		c.Notifications.Inc()
	}
}

func (c *Collectors) Reconnect() {
	if c != nil {
		c.Reconnects.Inc()
	}
}

// State marks current as the active session state among all.
func (c *Collectors) State(current string, all []string) {
	if c == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		c.SessionState.WithLabelValues(s).Set(v)
	}
}
