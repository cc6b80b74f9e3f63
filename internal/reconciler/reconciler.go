// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reconciler implements the reconciliation pass of the AMF
// unit controller: read the integration channels, advance the
// certificate lifecycle, compute the desired workload configuration,
// converge the workload, publish the unit's own connectivity facts and
// report status. A pass is idempotent and always runs to completion,
// even when the end state is blocked, so the reported status is never
// stale.
package reconciler

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/amfconfig"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/charmconfig"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/corestatus"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/metrics"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/relation"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/unitpki"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/unitstate"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/workload"
)

var logger = loggo.GetLogger("sdcore-amf.reconciler")

// ExternalService manages the unit's externally reachable NGAP
// service.
type ExternalService interface {
	Ensure(ctx context.Context) error
	Remove(ctx context.Context) error
	Address(ctx context.Context) (ip, hostname string, err error)
	FQDN() string
}

// Config holds the collaborators of a Reconciler.
type Config struct {
	Channels     relation.Store
	Publisher    relation.Publisher
	ConfigSource charmconfig.Source
	Certificates *unitpki.Manager
	Driver       *workload.Driver
	Container    workload.Container
	State        unitstate.Store
	StatusSetter corestatus.StatusSetter
	External     ExternalService
	PodIP        func() (string, error)
	Clock        clock.Clock

	// Metrics is optional; a nil collector disables observation.
	Metrics *metrics.Collector
}

// Validate returns an error if the config cannot drive a Reconciler.
func (config Config) Validate() error {
	if config.Channels == nil {
		return errors.NotValidf("nil Channels")
	}
	if config.Publisher == nil {
		return errors.NotValidf("nil Publisher")
	}
	if config.ConfigSource == nil {
		return errors.NotValidf("nil ConfigSource")
	}
	if config.Certificates == nil {
		return errors.NotValidf("nil Certificates")
	}
	if config.Driver == nil {
		return errors.NotValidf("nil Driver")
	}
	if config.Container == nil {
		return errors.NotValidf("nil Container")
	}
	if config.State == nil {
		return errors.NotValidf("nil State")
	}
	if config.StatusSetter == nil {
		return errors.NotValidf("nil StatusSetter")
	}
	if config.External == nil {
		return errors.NotValidf("nil External")
	}
	if config.PodIP == nil {
		return errors.NotValidf("nil PodIP")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Outcome reports what a pass concluded.
type Outcome struct {
	Status    corestatus.StatusInfo
	Published *relation.N2Facts
}

// Reconciler runs reconciliation passes for one AMF unit.
type Reconciler struct {
	config Config
}

// New returns a Reconciler backed by config.
func New(config Config) (*Reconciler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Reconciler{config: config}, nil
}

// Reconcile runs one full pass. Precondition failures are folded into
// the reported status and are not errors; only infrastructure failures
// (workload or state storage I/O) escalate, for the platform to retry
// the whole pass on its next event.
func (r *Reconciler) Reconcile(ctx context.Context) (Outcome, error) {
	cfg, invalidMsg, err := r.currentConfig()
	if err != nil {
		return Outcome{}, errors.Trace(err)
	}
	if invalidMsg != "" {
		return r.conclude(corestatus.Blocked, invalidMsg)
	}

	if !r.config.Container.CanConnect() {
		return r.conclude(corestatus.Maintenance, "waiting for workload to start")
	}

	if version, err := r.config.Driver.WorkloadVersion(); err != nil {
		logger.Warningf("cannot read workload version: %v", err)
	} else if err := r.config.State.SetWorkloadVersion(version); err != nil {
		return Outcome{}, errors.Trace(err)
	}

	if err := r.config.External.Ensure(ctx); err != nil {
		logger.Warningf("cannot ensure external service: %v", err)
	}

	snap := relation.Read(r.config.Channels)

	podIP, err := r.config.PodIP()
	if err != nil || podIP == "" {
		if err != nil {
			logger.Warningf("cannot determine pod IP: %v", err)
		}
		return r.conclude(corestatus.Waiting, "waiting for pod IP address")
	}

	lbIP, lbHostname, err := r.config.External.Address(ctx)
	if err != nil {
		logger.Warningf("cannot read external service address: %v", err)
	}
	facts := amfconfig.UnitNetworkFacts{
		PodIP:                podIP,
		LoadBalancerIP:       lbIP,
		LoadBalancerHostname: lbHostname,
		InternalHostname:     r.config.External.FQDN(),
	}

	certState, err := r.certificateStep(snap, podIP, cfg)
	if err != nil {
		return Outcome{}, errors.Trace(err)
	}

	result := amfconfig.Compute(snap, facts, cfg, certState.Status)

	converged, err := r.config.Driver.Converge(result, certState.Updated)
	if err != nil {
		r.observePass("failed")
		return Outcome{}, errors.Trace(err)
	}
	if converged.Restarted && r.config.Metrics != nil {
		r.config.Metrics.ObserveRestart()
	}

	if !result.Ready {
		return r.conclude(result.Verdict.Status, result.Verdict.Message)
	}

	// A converged workload is not necessarily a running one: nothing is
	// advertised and the unit is not Active until the service is up.
	running, err := r.config.Driver.Running()
	if err != nil {
		r.observePass("failed")
		return Outcome{}, errors.Trace(err)
	}
	if !running {
		return r.conclude(corestatus.Waiting, "waiting for AMF service to start")
	}

	published, outcome, done, err := r.publishStep(snap, facts, cfg)
	if done || err != nil {
		return outcome, errors.Trace(err)
	}

	outcome, err = r.conclude(corestatus.Active, "")
	outcome.Published = published
	return outcome, errors.Trace(err)
}

// Teardown handles full unit removal: the TLS material is wiped, the
// external service is dropped and the applied configuration is
// forgotten. This is the only path that returns the certificate
// lifecycle to NoPrivateKey.
func (r *Reconciler) Teardown(ctx context.Context) error {
	if r.config.Container.CanConnect() {
		if err := r.config.Certificates.Teardown(); err != nil {
			logger.Warningf("cannot remove TLS material: %v", err)
		}
	}
	if err := r.config.External.Remove(ctx); err != nil {
		logger.Warningf("cannot remove external service: %v", err)
	}
	if err := r.config.State.ClearAppliedChecksum(); err != nil {
		return errors.Trace(err)
	}
	_, err := r.conclude(corestatus.Maintenance, "unit is being removed")
	return errors.Trace(err)
}

// currentConfig loads and validates the static configuration. An
// invalid configuration is an operator problem, reported as a blocked
// message rather than an error.
func (r *Reconciler) currentConfig() (*charmconfig.Config, string, error) {
	attrs, err := r.config.ConfigSource.Current()
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	cfg, err := charmconfig.New(attrs)
	if err != nil {
		logger.Infof("invalid configuration: %v", err)
		return nil, "invalid configuration: " + err.Error(), nil
	}
	if level, ok := loggo.ParseLevel(cfg.LogLevel); ok {
		loggo.GetLogger("sdcore-amf").SetLogLevel(level)
	}
	return cfg, "", nil
}

// certificateStep advances the certificate lifecycle. The private key
// exists from the first pass onward; a request is derived and
// submitted only while the authority channel is connected, and a facts
// change supersedes any in-flight request.
func (r *Reconciler) certificateStep(snap *relation.Snapshot, podIP string, cfg *charmconfig.Config) (unitpki.State, error) {
	if err := r.config.Certificates.EnsurePrivateKey(); err != nil {
		return unitpki.State{}, errors.Trace(err)
	}
	sans := unitpki.RequestSANs(podIP, cfg.ExternalIP, cfg.ExternalHostname)
	if snap.Connected(relation.Certificates) {
		if _, err := r.config.Certificates.EnsureRequest(sans); err != nil {
			return unitpki.State{}, errors.Trace(err)
		}
	}
	certState, err := r.config.Certificates.Reconcile(snap.Authority, sans)
	if err != nil {
		return unitpki.State{}, errors.Trace(err)
	}
	if r.config.Metrics != nil {
		r.config.Metrics.ObserveCertificateState(certState.Status)
	}
	return certState, nil
}

// publishStep pushes the unit's own connectivity facts onto the N2
// channel, but only while the unit is fully ready: downstream peers
// must never observe a half-ready AMF. Nothing is published while the
// channel is not connected.
func (r *Reconciler) publishStep(snap *relation.Snapshot, facts amfconfig.UnitNetworkFacts, cfg *charmconfig.Config) (*relation.N2Facts, Outcome, bool, error) {
	if !snap.Connected(relation.N2) {
		return nil, Outcome{}, false, nil
	}
	n2 := relation.N2Facts{
		IPAddress: facts.AdvertisedIP(cfg.ExternalIP),
		Hostname:  facts.AdvertisedHostname(cfg.ExternalHostname),
		Port:      amfconfig.NGAPPort,
	}
	if err := n2.Validate(); err != nil {
		logger.Infof("external AMF address not available yet: %v", err)
		outcome, err := r.conclude(corestatus.Blocked,
			"no external AMF address to advertise (is a load balancer available?)")
		return nil, outcome, true, errors.Trace(err)
	}
	if err := relation.PublishN2(r.config.Publisher, n2); err != nil {
		return nil, Outcome{}, false, errors.Trace(err)
	}
	return &n2, Outcome{}, false, nil
}

func (r *Reconciler) conclude(status corestatus.Status, message string) (Outcome, error) {
	now := r.config.Clock.Now()
	info := corestatus.StatusInfo{
		Status:  status,
		Message: message,
		Since:   &now,
	}
	if err := r.config.StatusSetter.SetStatus(info); err != nil {
		return Outcome{Status: info}, errors.Annotate(err, "setting status")
	}
	if message != "" {
		logger.Infof("status %s: %s", status, message)
	} else {
		logger.Infof("status %s", status)
	}
	r.observePass(status.String())
	return Outcome{Status: info}, nil
}

func (r *Reconciler) observePass(result string) {
	if r.config.Metrics != nil {
		r.config.Metrics.ObservePass(result)
	}
}
