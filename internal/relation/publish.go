// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relation

import (
	"strconv"

	"github.com/juju/errors"
)

// N2Facts are this unit's own connectivity facts, consumed by peers
// needing to reach the AMF over the N2 interface.
type N2Facts struct {
	IPAddress string
	Hostname  string
	Port      int
}

// Validate returns an error if the facts are not complete enough to
// publish. Partial facts must never reach downstream consumers.
func (f N2Facts) Validate() error {
	if f.IPAddress == "" {
		return errors.NotValidf("empty AMF IP address")
	}
	if f.Hostname == "" {
		return errors.NotValidf("empty AMF hostname")
	}
	if f.Port <= 0 {
		return errors.NotValidf("AMF port %d", f.Port)
	}
	return nil
}

// PublishN2 writes the unit's connectivity facts onto the fiveg-n2
// relation.
func PublishN2(p Publisher, facts N2Facts) error {
	if err := facts.Validate(); err != nil {
		return errors.Trace(err)
	}
	err := p.Publish(N2, map[string]string{
		"amf_ip_address": facts.IPAddress,
		"amf_hostname":   facts.Hostname,
		"amf_port":       strconv.Itoa(facts.Port),
	})
	if err != nil {
		return errors.Annotate(err, "publishing N2 information")
	}
	logger.Infof("published N2 information: %s:%d (%s)", facts.IPAddress, facts.Port, facts.Hostname)
	return nil
}

// SubmitCSR places a certificate signing request on the certificates
// relation for the authority to sign. Issuance is asynchronous; the
// signed certificate arrives through the consumed side of the channel
// on a later event.
func SubmitCSR(p Publisher, csrPEM []byte) error {
	if len(csrPEM) == 0 {
		return errors.NotValidf("empty certificate signing request")
	}
	err := p.Publish(Certificates, map[string]string{
		"certificate_signing_request": string(csrPEM),
	})
	if err != nil {
		return errors.Annotate(err, "submitting certificate signing request")
	}
	logger.Infof("submitted certificate signing request")
	return nil
}
