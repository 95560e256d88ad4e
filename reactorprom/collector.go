//go:build unix

// Package reactorprom exports reactor metrics to Prometheus.
package reactorprom

import (
	"github.com/joeycumines/go-reactor"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSource is implemented by *reactor.Reactor.
type MetricsSource interface {
	Metrics() reactor.Metrics
}

// Collector is a prometheus.Collector reading a snapshot from a
// MetricsSource on every scrape. Counters only advance for reactors created
// with reactor.WithMetrics(true).
type Collector struct {
	source          MetricsSource
	iterations      *prometheus.Desc
	wakeups         *prometheus.Desc
	dispatches      *prometheus.Desc
	timeouts        *prometheus.Desc
	handlerFailures *prometheus.Desc
	suppressedLogs  *prometheus.Desc
	registered      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector for source. Metric names are prefixed by
// namespace, if non-empty, and labelled with constLabels.
func NewCollector(source MetricsSource, namespace string, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "reactor", name),
			help,
			labels,
			constLabels,
		)
	}
	return &Collector{
		source:          source,
		iterations:      desc("iterations_total", "Completed loop iterations."),
		wakeups:         desc("wakeups_total", "Drains of the wakeup channel."),
		dispatches:      desc("dispatches_total", "Readiness callbacks dispatched.", "op"),
		timeouts:        desc("timeouts_total", "Timeout callbacks dispatched."),
		handlerFailures: desc("handler_failures_total", "Callbacks that returned an error or panicked."),
		suppressedLogs:  desc("suppressed_logs_total", "Handler failures not logged due to rate limiting."),
		registered:      desc("registered", "Registered selectables."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.iterations
	ch <- c.wakeups
	ch <- c.dispatches
	ch <- c.timeouts
	ch <- c.handlerFailures
	ch <- c.suppressedLogs
	ch <- c.registered
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.Metrics()
	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.iterations, m.Iterations)
	counter(c.wakeups, m.Wakeups)
	counter(c.dispatches, m.ReadableDispatches, "readable")
	counter(c.dispatches, m.WritableDispatches, "writable")
	counter(c.timeouts, m.Timeouts)
	counter(c.handlerFailures, m.HandlerFailures)
	counter(c.suppressedLogs, m.SuppressedLogs)
	ch <- prometheus.MustNewConstMetric(c.registered, prometheus.GaugeValue, float64(m.Registered))
}
