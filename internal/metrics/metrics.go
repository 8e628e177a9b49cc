package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus instrumentation.
type Metrics struct {
	samplesAccepted *prometheus.CounterVec
	samplesRejected prometheus.Counter
	refreshes       *prometheus.CounterVec
	publishes       prometheus.Counter
	publishErrors   prometheus.Counter
	currentPower    *prometheus.GaugeVec
	sampleAge       *prometheus.GaugeVec
}

// New registers and returns the metric set.
func New() *Metrics {
	m := &Metrics{
		samplesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tibberwatch_realtime_samples_total",
			Help: "Total realtime telemetry samples accepted, by site.",
		}, []string{"site"}),
		samplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tibberwatch_realtime_samples_rejected_total",
			Help: "Total realtime frames dropped for failing schema validation.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tibberwatch_refreshes_total",
			Help: "Total batch refresh cycles by site and result.",
		}, []string{"site", "result"}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tibberwatch_mqtt_publishes_total",
			Help: "Total snapshot publishes to the MQTT broker.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tibberwatch_mqtt_publish_errors_total",
			Help: "Total failed snapshot publishes.",
		}),
		currentPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tibberwatch_power_watts",
			Help: "Latest net power reading per site (negative is net production).",
		}, []string{"site"}),
		sampleAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tibberwatch_sample_age_seconds",
			Help: "Seconds since the last accepted realtime sample per site.",
		}, []string{"site"}),
	}

	prometheus.MustRegister(
		m.samplesAccepted,
		m.samplesRejected,
		m.refreshes,
		m.publishes,
		m.publishErrors,
		m.currentPower,
		m.sampleAge,
	)

	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// SampleAccepted records an accepted realtime sample and its power value.
func (m *Metrics) SampleAccepted(site string, power float64) {
	if m == nil {
		return
	}
	m.samplesAccepted.WithLabelValues(site).Inc()
	m.currentPower.WithLabelValues(site).Set(power)
}

// SampleRejected records a dropped realtime frame.
func (m *Metrics) SampleRejected() {
	if m == nil {
		return
	}
	m.samplesRejected.Inc()
}

// Refresh records the outcome of a batch refresh cycle.
func (m *Metrics) Refresh(site string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshes.WithLabelValues(site, result).Inc()
}

// Publish records the outcome of a snapshot publish.
func (m *Metrics) Publish(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishErrors.Inc()
		return
	}
	m.publishes.Inc()
}

// SetSampleAge updates the staleness gauge for a site.
func (m *Metrics) SetSampleAge(site string, seconds float64) {
	if m == nil {
		return
	}
	m.sampleAge.WithLabelValues(site).Set(seconds)
}
