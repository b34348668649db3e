// Package metrics exposes engine activity as Prometheus series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"openeconomy/internal/record"
)

// Collector counts entries by status and blocked entries by constraint. It
// implements engine.Observer.
type Collector struct {
	registry *prometheus.Registry
	entries  *prometheus.CounterVec
	blocks   *prometheus.CounterVec
	renames  prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openeconomy",
			Name:      "entries_total",
			Help:      "Execution record entries produced, by status.",
		}, []string{"status"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openeconomy",
			Name:      "constraint_blocks_total",
			Help:      "Times a constraint blocked a rule, by constraint id.",
		}, []string{"constraint"}),
		renames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openeconomy",
			Name:      "label_renames_total",
			Help:      "Catalog labels renamed.",
		}),
	}
	c.registry.MustRegister(c.entries, c.blocks, c.renames, collectors.NewGoCollector())
	return c
}

func (c *Collector) ObserveEntry(e record.Entry) {
	c.entries.WithLabelValues(string(e.Status)).Inc()
	for _, id := range e.ConstraintsBlocking {
		c.blocks.WithLabelValues(id).Inc()
	}
}

func (c *Collector) ObserveRename() {
	c.renames.Inc()
}

// Registry is the registry every series is registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
