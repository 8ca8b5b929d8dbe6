package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package metrics wraps a private Prometheus registry behind two calls:
// Inc for counters and ObserveSummary for latency summaries. Collectors are
// created lazily on first use; the label set of the first call fixes the
// label names for that metric.

var (
	mu        sync.Mutex
	registry  = prometheus.NewRegistry()
	counters  = map[string]*prometheus.CounterVec{}
	summaries = map[string]*prometheus.SummaryVec{}
)

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Inc increments the named counter for the given label set.
func Inc(name string, labels map[string]string) {
	mu.Lock()
	cv, ok := counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames(labels))
		registry.MustRegister(cv)
		counters[name] = cv
	}
	mu.Unlock()
	cv.With(labels).Inc()
}

// ObserveSummary records one observation on the named summary.
func ObserveSummary(name string, labels map[string]string, v float64) {
	mu.Lock()
	sv, ok := summaries[name]
	if !ok {
		sv = prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       name,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, labelNames(labels))
		registry.MustRegister(sv)
		summaries[name] = sv
	}
	mu.Unlock()
	sv.With(labels).Observe(v)
}

// Handler exposes the registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
