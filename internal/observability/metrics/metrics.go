package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the lead-capture flow.
type PipelineMetrics struct {
	messagesTotal    *prometheus.CounterVec
	extractionsTotal *prometheus.CounterVec
	leadsTotal       *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	gatewayLatency   prometheus.Histogram
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Inbound chat messages by outcome",
		}, []string{"status"}),
		extractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "pipeline",
			Name:      "extractions_total",
			Help:      "Lead extraction attempts by tier and outcome",
		}, []string{"tier", "outcome"}),
		leadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "pipeline",
			Name:      "leads_total",
			Help:      "Leads resolved by kind (created or merged)",
		}, []string{"kind"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Outbound notification events by stage",
		}, []string{"event_type", "stage"}),
		gatewayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "pipeline",
			Name:      "gateway_latency_seconds",
			Help:      "Latency of gateway chat completions",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.extractionsTotal, m.leadsTotal, m.eventsTotal, m.gatewayLatency)
	return m
}

func (m *PipelineMetrics) ObserveMessage(status string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) ObserveExtraction(tier, outcome string) {
	if m == nil {
		return
	}
	m.extractionsTotal.WithLabelValues(tier, outcome).Inc()
}

func (m *PipelineMetrics) ObserveLead(created bool) {
	if m == nil {
		return
	}
	kind := "merged"
	if created {
		kind = "created"
	}
	m.leadsTotal.WithLabelValues(kind).Inc()
}

func (m *PipelineMetrics) ObserveEvent(eventType, stage string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType, stage).Inc()
}

func (m *PipelineMetrics) ObserveGatewayLatency(seconds float64) {
	if m == nil {
		return
	}
	m.gatewayLatency.Observe(seconds)
}
