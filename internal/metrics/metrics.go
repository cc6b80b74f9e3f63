// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package metrics exposes counters and gauges describing the
// reconciliation behaviour of the unit controller, for scraping by an
// external collector.
package metrics

import (
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/unitpki"
)

// Port is the pull endpoint port scrapers are pointed at.
const Port = 9089

var certificateStates = []unitpki.Status{
	unitpki.NoPrivateKey,
	unitpki.CsrPending,
	unitpki.Certified,
	unitpki.Outdated,
}

// Collector publishes reconciliation metrics.
type Collector struct {
	passes    *prometheus.CounterVec
	restarts  prometheus.Counter
	certState *prometheus.GaugeVec
}

// NewCollector returns a Collector with all metrics registered against
// their descriptions but no observations yet.
func NewCollector() *Collector {
	return &Collector{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amf_operator",
			Name:      "reconcile_passes_total",
			Help:      "Completed reconciliation passes by resulting status.",
		}, []string{"status"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amf_operator",
			Name:      "workload_restarts_total",
			Help:      "Workload restarts issued by the convergence driver.",
		}),
		certState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "amf_operator",
			Name:      "certificate_state",
			Help:      "Current certificate lifecycle state (1 for the active state).",
		}, []string{"state"}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.passes.Describe(ch)
	c.restarts.Describe(ch)
	c.certState.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.passes.Collect(ch)
	c.restarts.Collect(ch)
	c.certState.Collect(ch)
}

// ObservePass records a completed pass and its resulting status.
func (c *Collector) ObservePass(status string) {
	c.passes.WithLabelValues(status).Inc()
}

// ObserveRestart records a workload restart.
func (c *Collector) ObserveRestart() {
	c.restarts.Inc()
}

// ObserveCertificateState records the certificate lifecycle state.
func (c *Collector) ObserveCertificateState(state unitpki.Status) {
	for _, s := range certificateStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		c.certState.WithLabelValues(string(s)).Set(value)
	}
}

// NewRegistry returns a prometheus registry carrying the Go and
// process collectors plus the supplied unit collector.
func NewRegistry(collector *Collector) (*prometheus.Registry, error) {
	r := prometheus.NewRegistry()
	if err := r.Register(prometheus.NewGoCollector()); err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.Register(prometheus.NewProcessCollector(
		prometheus.ProcessCollectorOpts{})); err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.Register(collector); err != nil {
		return nil, errors.Trace(err)
	}
	return r, nil
}
