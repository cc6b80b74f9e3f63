// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package metrics_test

import (
	"strings"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gc "gopkg.in/check.v1"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/metrics"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/unitpki"
)

type MetricsSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&MetricsSuite{})

func (s *MetricsSuite) TestObservations(c *gc.C) {
	collector := metrics.NewCollector()
	collector.ObservePass("active")
	collector.ObservePass("active")
	collector.ObservePass("waiting")
	collector.ObserveRestart()
	collector.ObserveCertificateState(unitpki.Certified)

	expected := `
# HELP amf_operator_reconcile_passes_total Completed reconciliation passes by resulting status.
# TYPE amf_operator_reconcile_passes_total counter
amf_operator_reconcile_passes_total{status="active"} 2
amf_operator_reconcile_passes_total{status="waiting"} 1
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"amf_operator_reconcile_passes_total")
	c.Check(err, jc.ErrorIsNil)

	expected = `
# HELP amf_operator_certificate_state Current certificate lifecycle state (1 for the active state).
# TYPE amf_operator_certificate_state gauge
amf_operator_certificate_state{state="certified"} 1
amf_operator_certificate_state{state="csr-pending"} 0
amf_operator_certificate_state{state="no-private-key"} 0
amf_operator_certificate_state{state="outdated"} 0
`
	err = testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"amf_operator_certificate_state")
	c.Check(err, jc.ErrorIsNil)
}

func (s *MetricsSuite) TestCertificateStateTransition(c *gc.C) {
	collector := metrics.NewCollector()
	collector.ObserveCertificateState(unitpki.CsrPending)
	collector.ObserveCertificateState(unitpki.Certified)

	expected := `
# HELP amf_operator_certificate_state Current certificate lifecycle state (1 for the active state).
# TYPE amf_operator_certificate_state gauge
amf_operator_certificate_state{state="certified"} 1
amf_operator_certificate_state{state="csr-pending"} 0
amf_operator_certificate_state{state="no-private-key"} 0
amf_operator_certificate_state{state="outdated"} 0
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"amf_operator_certificate_state")
	c.Check(err, jc.ErrorIsNil)
}

func (s *MetricsSuite) TestRegistry(c *gc.C) {
	registry, err := metrics.NewRegistry(metrics.NewCollector())
	c.Assert(err, jc.ErrorIsNil)
	families, err := registry.Gather()
	c.Assert(err, jc.ErrorIsNil)
	// The Go and process collectors contribute baseline metrics.
	c.Check(len(families) > 0, jc.IsTrue)
}
