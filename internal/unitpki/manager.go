// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package unitpki

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/relation"
)

var logger = loggo.GetLogger("sdcore-amf.unitpki")

// Artifact names within the unit's TLS material store.
const (
	PrivateKeyName  = "amf.key"
	CSRName         = "amf.csr"
	CertificateName = "amf.pem"
	CAChainName     = "ca.pem"
)

// Status names a state of the certificate lifecycle.
type Status string

const (
	// NoPrivateKey: the unit has not generated its key, or has not
	// derived and submitted a signing request yet.
	NoPrivateKey Status = "no-private-key"

	// CsrPending: a request matching the current facts has been
	// submitted and no acceptable certificate has arrived yet.
	CsrPending Status = "csr-pending"

	// Certified: a certificate covering the currently requested SANs
	// is stored and not due for renewal.
	Certified Status = "certified"

	// Outdated: a previously issued certificate no longer covers the
	// requested SANs, or expiry is imminent, and a superseding request
	// has not been submitted yet.
	Outdated Status = "outdated"
)

// State is the certificate lifecycle state after a reconcile step.
type State struct {
	Status         Status
	PrivateKeyPEM  []byte
	CSRPEM         []byte
	CertificatePEM []byte
	CAChainPEM     []byte

	// Updated is true when this step stored new certificate material,
	// which obliges the convergence driver to restart the workload.
	Updated bool
}

// Store persists the unit's TLS material. Get returns a NotFound error
// for artifacts that do not exist.
type Store interface {
	Get(name string) ([]byte, error)
	Put(name string, data []byte) error
	Delete(name string) error
}

// ManagerConfig holds the dependencies of a Manager.
type ManagerConfig struct {
	Store     Store
	Publisher relation.Publisher
	Clock     clock.Clock
}

// Validate returns an error if the config cannot drive a Manager.
func (config ManagerConfig) Validate() error {
	if config.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if config.Publisher == nil {
		return errors.NotValidf("nil Publisher")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Manager drives the certificate lifecycle of the unit. It is the sole
// owner of private key generation.
type Manager struct {
	config ManagerConfig
}

// NewManager returns a Manager backed by config.
func NewManager(config ManagerConfig) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Manager{config: config}, nil
}

// EnsurePrivateKey generates and stores the unit's private key if one
// does not exist yet. Calling it again is a no-op.
func (m *Manager) EnsurePrivateKey() error {
	_, err := m.config.Store.Get(PrivateKeyName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errors.NotFound) {
		return errors.Trace(err)
	}
	keyPEM, err := GeneratePrivateKey()
	if err != nil {
		return errors.Trace(err)
	}
	if err := m.config.Store.Put(PrivateKeyName, keyPEM); err != nil {
		return errors.Annotate(err, "storing private key")
	}
	logger.Infof("generated and stored private key")
	return nil
}

// EnsureRequest makes sure a signing request claiming the SANs for the
// current facts is stored and submitted to the authority. A stored
// request whose SANs still match is reused, so unchanged facts never
// trigger a spurious re-request; any mismatch supersedes the stored
// request immediately. A matching request whose certificate has
// entered the renewal window is resubmitted anyway, as the authority
// has already answered it with the now expiring certificate.
func (m *Manager) EnsureRequest(sans SANs) ([]byte, error) {
	keyPEM, err := m.config.Store.Get(PrivateKeyName)
	if err != nil {
		return nil, errors.Annotate(err, "private key required before requesting a certificate")
	}
	existing, err := m.config.Store.Get(CSRName)
	if err == nil {
		existingSANs, sansErr := CSRSANs(existing)
		switch {
		case sansErr != nil:
			logger.Warningf("stored signing request is unreadable, regenerating: %v", sansErr)
		case !existingSANs.Equal(sans):
			logger.Infof("network facts changed, superseding in-flight signing request")
		case !m.renewalDue(sans):
			return existing, nil
		}
	} else if !errors.Is(err, errors.NotFound) {
		return nil, errors.Trace(err)
	}

	csrPEM, err := GenerateCSR(keyPEM, sans)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := m.config.Store.Put(CSRName, csrPEM); err != nil {
		return nil, errors.Annotate(err, "storing signing request")
	}
	if err := relation.SubmitCSR(m.config.Publisher, csrPEM); err != nil {
		return nil, errors.Trace(err)
	}
	return csrPEM, nil
}

// Reconcile advances the certificate state machine one step against
// what the authority channel currently provides and the SANs required
// by the current facts. It never blocks; a pending issuance simply
// leaves the state at CsrPending for a later event to resolve.
func (m *Manager) Reconcile(authority *relation.AuthorityInfo, sans SANs) (State, error) {
	st := State{Status: NoPrivateKey}

	keyPEM, err := m.config.Store.Get(PrivateKeyName)
	if errors.Is(err, errors.NotFound) {
		return st, nil
	} else if err != nil {
		return st, errors.Trace(err)
	}
	st.PrivateKeyPEM = keyPEM

	csrPEM, err := m.config.Store.Get(CSRName)
	if errors.Is(err, errors.NotFound) {
		return st, nil
	} else if err != nil {
		return st, errors.Trace(err)
	}
	st.CSRPEM = csrPEM

	now := m.config.Clock.Now()

	// Accept a certificate from the authority when it covers exactly
	// what the current request asks for and is not about to expire.
	if authority != nil && authority.CertificatePEM != "" {
		incoming := []byte(authority.CertificatePEM)
		cert, err := ParseCertificate(incoming)
		if err != nil {
			logger.Warningf("ignoring unparseable certificate from authority: %v", err)
		} else {
			certSANs, err := CertificateSANs(incoming)
			switch {
			case err != nil:
				logger.Warningf("ignoring certificate with unreadable SANs: %v", err)
			case !sans.CoveredBy(certSANs):
				logger.Infof("authority certificate does not cover requested SANs, treating as stale")
			case expiringSoon(cert.NotAfter, now):
				logger.Infof("authority certificate expires at %s, awaiting renewal", cert.NotAfter)
			default:
				updated, err := m.storeCertificate(incoming, []byte(authority.CAChainPEM))
				if err != nil {
					return st, errors.Trace(err)
				}
				st.Status = Certified
				st.CertificatePEM = incoming
				st.CAChainPEM = []byte(authority.CAChainPEM)
				st.Updated = updated
				return st, nil
			}
		}
	}

	// No acceptable certificate from the authority; fall back to what
	// is already stored.
	stored, err := m.config.Store.Get(CertificateName)
	if errors.Is(err, errors.NotFound) {
		st.Status = CsrPending
		return st, nil
	} else if err != nil {
		return st, errors.Trace(err)
	}
	st.CertificatePEM = stored
	if chain, err := m.config.Store.Get(CAChainName); err == nil {
		st.CAChainPEM = chain
	}

	cert, err := ParseCertificate(stored)
	if err == nil {
		certSANs, sansErr := CertificateSANs(stored)
		if sansErr == nil && sans.CoveredBy(certSANs) && !expiringSoon(cert.NotAfter, now) {
			st.Status = Certified
			return st, nil
		}
	}

	// The stored certificate is stale. If the stored request already
	// claims the current SANs the renewal is in flight; otherwise the
	// supersede has not happened yet.
	csrSANs, err := CSRSANs(csrPEM)
	if err == nil && csrSANs.Equal(sans) {
		st.Status = CsrPending
	} else {
		st.Status = Outdated
	}
	return st, nil
}

// Teardown wipes all TLS material owned by the unit. Only full unit
// removal may do this; it returns the lifecycle to NoPrivateKey.
func (m *Manager) Teardown() error {
	for _, name := range []string{PrivateKeyName, CSRName, CertificateName, CAChainName} {
		if err := m.config.Store.Delete(name); err != nil && !errors.Is(err, errors.NotFound) {
			return errors.Annotatef(err, "deleting %s", name)
		}
	}
	logger.Infof("removed TLS material")
	return nil
}

// renewalDue reports whether the stored certificate answers the
// requested SANs but is inside the renewal window, in which case the
// request must be submitted again for the authority to issue a fresh
// certificate.
func (m *Manager) renewalDue(sans SANs) bool {
	stored, err := m.config.Store.Get(CertificateName)
	if err != nil {
		return false
	}
	cert, err := ParseCertificate(stored)
	if err != nil {
		return false
	}
	certSANs, err := CertificateSANs(stored)
	if err != nil || !sans.CoveredBy(certSANs) {
		return false
	}
	if expiringSoon(cert.NotAfter, m.config.Clock.Now()) {
		logger.Infof("stored certificate expires at %s, requesting renewal", cert.NotAfter)
		return true
	}
	return false
}

func (m *Manager) storeCertificate(certPEM, chainPEM []byte) (bool, error) {
	existing, err := m.config.Store.Get(CertificateName)
	if err == nil && string(existing) == string(certPEM) {
		return false, nil
	} else if err != nil && !errors.Is(err, errors.NotFound) {
		return false, errors.Trace(err)
	}
	if err := m.config.Store.Put(CertificateName, certPEM); err != nil {
		return false, errors.Annotate(err, "storing certificate")
	}
	if len(chainPEM) > 0 {
		if err := m.config.Store.Put(CAChainName, chainPEM); err != nil {
			return false, errors.Annotate(err, "storing CA chain")
		}
	}
	logger.Infof("stored new certificate")
	return true, nil
}

func expiringSoon(notAfter, now time.Time) bool {
	return !now.Before(notAfter.Add(-RenewalWindow))
}
