// Package metrics exposes Prometheus counters for the tracking pipeline.
package metrics

import (
	"net/http"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	FetchRecorded = "recorded"
	FetchTooSoon  = "too_soon"
	FetchUnknown  = "unknown_id"
	FetchError    = "error"
)

var (
	fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailtrack",
		Name:      "pixel_fetches_total",
		Help:      "Pixel fetches by recording outcome.",
	}, []string{"outcome"})

	opens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailtrack",
		Name:      "opens_total",
		Help:      "Recorded opens by proxy classification.",
	}, []string{"proxy"})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailtrack",
		Name:      "notifications_total",
		Help:      "Notification attempts by kind and result.",
	}, []string{"kind", "result"})

	sweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailtrack",
		Name:      "followup_sweeps_total",
		Help:      "Follow-up sweep cycles by result.",
	}, []string{"result"})
)

// Fetch counts one pixel fetch.
func Fetch(outcome string) { fetches.WithLabelValues(outcome).Inc() }

// Open counts one recorded open.
func Open(kind domain.ProxyKind) {
	label := string(kind)
	if kind == domain.ProxyNone {
		label = "real"
	}
	opens.WithLabelValues(label).Inc()
}

// Notification counts one delivery attempt; err nil means sent.
func Notification(kind domain.Latch, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	notifications.WithLabelValues(string(kind), result).Inc()
}

// Sweep counts one follow-up sweep cycle.
func Sweep(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sweeps.WithLabelValues(result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
