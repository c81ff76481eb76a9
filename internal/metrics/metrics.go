// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anonrelay"

// Metrics holds the relay's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	events             *prometheus.CounterVec
	eventDuration      *prometheus.HistogramVec
	relayed            *prometheus.CounterVec
	registrations      prometheus.Counter
	deliveryFailures   prometheus.Counter
	directoryExhausted prometheus.Counter
	unauthorized       prometheus.Counter
	panics             prometheus.Counter
	apiRequests        *prometheus.CounterVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events handled, by kind.",
		}, []string{"kind"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one inbound event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages stored for a recipient, by kind (new or reply).",
		}, []string{"kind"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_registered_total",
			Help:      "Users seen for the first time.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound notifications that could not be delivered.",
		}),
		directoryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_exhausted_total",
			Help:      "Registrations that ran out of link token attempts.",
		}),
		unauthorized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unauthorized_actions_total",
			Help:      "Operator actions attempted by non-operators.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Panics recovered while handling events.",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_api_requests_total",
			Help:      "Telegram Bot API calls, by method and outcome.",
		}, []string{"method", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events, m.eventDuration, m.relayed, m.registrations, m.deliveryFailures,
		m.directoryExhausted, m.unauthorized, m.panics, m.apiRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gauge registers a gauge whose value is read from fn on every scrape.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// ObserveEvent counts one handled event and its duration.
func (m *Metrics) ObserveEvent(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
	m.eventDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Relayed counts a stored message. reply selects the "reply" label.
func (m *Metrics) Relayed(reply bool) {
	if m == nil {
		return
	}
	kind := "new"
	if reply {
		kind = "reply"
	}
	m.relayed.WithLabelValues(kind).Inc()
}

// Registered counts a first-time user.
func (m *Metrics) Registered() {
	if m != nil {
		m.registrations.Inc()
	}
}

// DeliveryFailed counts an undeliverable notification.
func (m *Metrics) DeliveryFailed() {
	if m != nil {
		m.deliveryFailures.Inc()
	}
}

// DirectoryExhausted counts a registration that ran out of token attempts.
func (m *Metrics) DirectoryExhausted() {
	if m != nil {
		m.directoryExhausted.Inc()
	}
}

// Unauthorized counts a dropped operator action.
func (m *Metrics) Unauthorized() {
	if m != nil {
		m.unauthorized.Inc()
	}
}

// Panic counts a recovered handler panic.
func (m *Metrics) Panic() {
	if m != nil {
		m.panics.Inc()
	}
}

// APIRequest counts one Telegram API call. status is the HTTP status, or 0
// when the request never got a response.
func (m *Metrics) APIRequest(method string, status int) {
	if m == nil {
		return
	}
	outcome := "error"
	if status > 0 {
		outcome = strconv.Itoa(status)
	}
	m.apiRequests.WithLabelValues(method, outcome).Inc()
}
