// Package metrics exposes the service's Prometheus collectors. A nil
// *Registry is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg             *prometheus.Registry
	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	bulkItems       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpi_gateway_requests_total",
			Help: "Requests sent to the remote data collection service.",
		}, []string{"method", "status"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kpi_gateway_request_duration_seconds",
			Help:    "Latency of requests sent to the remote data collection service.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpi_bulk_update_items_total",
			Help: "Submissions processed by bulk updates, by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpi_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "status"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.gatewayRequests, r.gatewayDuration, r.bulkItems, r.httpRequests,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveGateway records one outbound request. A status of 0 marks a
// transport failure.
func (r *Registry) ObserveGateway(method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	r.gatewayRequests.WithLabelValues(method, label).Inc()
	r.gatewayDuration.WithLabelValues(method).Observe(d.Seconds())
}

// BulkItem records the outcome ("success" or "failure") of one bulk item.
func (r *Registry) BulkItem(outcome string) {
	if r == nil {
		return
	}
	r.bulkItems.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served request.
func (r *Registry) ObserveHTTP(method string, status int) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
