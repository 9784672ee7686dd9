package qcomtee

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a Metrics instance to a Prometheus registry. Values
// are read from a snapshot at scrape time; registering the collector
// does not change how metrics are recorded.
type Collector struct {
	metrics *Metrics

	invokes            *prometheus.Desc
	invokeTransportErr *prometheus.Desc
	invokeDomainErr    *prometheus.Desc
	callbackRequests   *prometheus.Desc
	callbackErrors     *prometheus.Desc
	invokeLatency      *prometheus.Desc
}

// NewCollector creates a Prometheus collector over m.
func NewCollector(m *Metrics) *Collector {
	return &Collector{
		metrics: m,
		invokes: prometheus.NewDesc("qcomtee_invokes_total",
			"Forward object invocations issued.", nil, nil),
		invokeTransportErr: prometheus.NewDesc("qcomtee_invoke_transport_errors_total",
			"Forward invocations failed at the transport layer.", nil, nil),
		invokeDomainErr: prometheus.NewDesc("qcomtee_invoke_domain_errors_total",
			"Forward invocations answered with a domain error.", nil, nil),
		callbackRequests: prometheus.NewDesc("qcomtee_callback_requests_total",
			"Reverse requests dispatched to callback objects.", nil, nil),
		callbackErrors: prometheus.NewDesc("qcomtee_callback_errors_total",
			"Reverse requests answered with an error.", nil, nil),
		invokeLatency: prometheus.NewDesc("qcomtee_invoke_latency_seconds",
			"Forward invocation latency.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.invokes
	ch <- c.invokeTransportErr
	ch <- c.invokeDomainErr
	ch <- c.callbackRequests
	ch <- c.callbackErrors
	ch <- c.invokeLatency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.invokes, prometheus.CounterValue, float64(snap.Invokes))
	ch <- prometheus.MustNewConstMetric(c.invokeTransportErr, prometheus.CounterValue, float64(snap.InvokeTransportErrs))
	ch <- prometheus.MustNewConstMetric(c.invokeDomainErr, prometheus.CounterValue, float64(snap.InvokeDomainErrs))
	ch <- prometheus.MustNewConstMetric(c.callbackRequests, prometheus.CounterValue, float64(snap.CallbackRequests))
	ch <- prometheus.MustNewConstMetric(c.callbackErrors, prometheus.CounterValue, float64(snap.CallbackErrors))

	// Cumulative bucket counts translate directly to a histogram; the
	// recorded sum is in nanoseconds.
	buckets := make(map[float64]uint64, numLatencyBuckets)
	for i, upper := range LatencyBuckets {
		buckets[float64(upper)/1e9] = snap.LatencyHistogram[i]
	}
	ch <- prometheus.MustNewConstHistogram(c.invokeLatency,
		snap.Invokes, float64(c.metrics.TotalLatencyNs.Load())/1e9, buckets)
}

var _ prometheus.Collector = (*Collector)(nil)
