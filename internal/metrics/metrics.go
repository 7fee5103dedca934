package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CRMMetrics exposes counters/histograms for CRM calls and booking outcomes.
// A nil *CRMMetrics is valid and records nothing.
type CRMMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	bookingsTotal   *prometheus.CounterVec
	tokenRefreshing prometheus.Counter
}

func NewCRMMetrics(reg prometheus.Registerer) *CRMMetrics {
	m := &CRMMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic_portal",
			Subsystem: "crm",
			Name:      "requests_total",
			Help:      "Total CRM API requests by operation and response status",
		}, []string{"operation", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic_portal",
			Subsystem: "crm",
			Name:      "request_duration_seconds",
			Help:      "Latency of CRM API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic_portal",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		tokenRefreshing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic_portal",
			Subsystem: "crm",
			Name:      "token_refresh_total",
			Help:      "CRM access token exchanges",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestLatency, m.bookingsTotal, m.tokenRefreshing)
	return m
}

// ObserveRequest records one CRM call. A zero status means the request
// failed before a response was received.
func (m *CRMMetrics) ObserveRequest(operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	m.requestsTotal.WithLabelValues(operation, label).Inc()
	m.requestLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveBooking records the outcome of a booking attempt: "booked",
// "invalid", "patient_not_found" or "upstream_error".
func (m *CRMMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *CRMMetrics) ObserveTokenRefresh() {
	if m == nil {
		return
	}
	m.tokenRefreshing.Inc()
}
