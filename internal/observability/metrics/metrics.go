// Package metrics holds the Prometheus instruments for the calling,
// delivery and routing pipelines. All observe methods are nil-safe so
// callers can run without metrics wired.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallMetrics covers the outbound dialer and the conversation driver.
type CallMetrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phoneagent",
			Subsystem: "calls",
			Name:      "total",
			Help:      "Completed outbound calls by campaign type and outcome",
		}, []string{"call_type", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "phoneagent",
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "Duration of answered calls",
			Buckets:   []float64{15, 30, 60, 120, 240, 480, 900},
		}, []string{"call_type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phoneagent",
			Subsystem: "calls",
			Name:      "queue_depth",
			Help:      "Calls waiting in the dialer queue",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsTotal, m.callDuration, m.queueDepth)
	return m
}

func (m *CallMetrics) ObserveCall(callType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(callType, outcome).Inc()
	if seconds > 0 {
		m.callDuration.WithLabelValues(callType).Observe(seconds)
	}
}

func (m *CallMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// DeliveryMetrics covers the SMS and email delivery state machines.
type DeliveryMetrics struct {
	transitionsTotal *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
}

func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	m := &DeliveryMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phoneagent",
			Subsystem: "delivery",
			Name:      "transitions_total",
			Help:      "Delivery status transitions by channel",
		}, []string{"channel", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "phoneagent",
			Subsystem: "delivery",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of provider webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.webhookLatency)
	return m
}

func (m *DeliveryMetrics) ObserveTransition(channel, status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(channel, status).Inc()
}

func (m *DeliveryMetrics) ObserveWebhookLatency(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(channel).Observe(seconds)
}

// TaskMetrics covers intake and routing.
type TaskMetrics struct {
	routedTotal      *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec
}

func NewTaskMetrics(reg prometheus.Registerer) *TaskMetrics {
	m := &TaskMetrics{
		routedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phoneagent",
			Subsystem: "tasks",
			Name:      "routed_total",
			Help:      "Tasks routed by source, urgency and whether a worker was assigned",
		}, []string{"source_type", "urgency", "assigned"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phoneagent",
			Subsystem: "tasks",
			Name:      "escalations_total",
			Help:      "Task escalations by urgency",
		}, []string{"urgency"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.routedTotal, m.escalationsTotal)
	return m
}

func (m *TaskMetrics) ObserveRouted(sourceType, urgency string, assigned bool) {
	if m == nil {
		return
	}
	label := "false"
	if assigned {
		label = "true"
	}
	m.routedTotal.WithLabelValues(sourceType, urgency, label).Inc()
}

func (m *TaskMetrics) ObserveEscalation(urgency string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(urgency).Inc()
}
