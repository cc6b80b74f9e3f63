// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package unitpki owns the TLS identity of the AMF unit: the private
// key, the certificate signing request derived from the unit's current
// network facts, and the lifecycle of the certificate obtained from the
// authority channel.
package unitpki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"net"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

const (
	// CertificateCommonName is the subject common name of every
	// certificate this unit requests.
	CertificateCommonName = "amf.sdcore"

	// RenewalWindow is how close to expiry a certificate may get
	// before re-issuance is triggered.
	RenewalWindow = 24 * time.Hour

	rsaKeyBits = 2048

	pemTypePrivateKey = "RSA PRIVATE KEY"
	pemTypeCSR        = "CERTIFICATE REQUEST"
	pemTypeCert       = "CERTIFICATE"
)

// SANs is the set of subject alternative names requested for, or
// present in, a certificate.
type SANs struct {
	DNSNames    set.Strings
	IPAddresses set.Strings
}

// RequestSANs derives the SANs the unit's certificate must carry for
// the given addressing facts. The common name is always claimed as a
// DNS name; the external overrides are claimed only when set.
func RequestSANs(podIP, externalIP, externalHostname string) SANs {
	sans := SANs{
		DNSNames:    set.NewStrings(CertificateCommonName),
		IPAddresses: set.NewStrings(),
	}
	if podIP != "" {
		sans.IPAddresses.Add(podIP)
	}
	if externalIP != "" {
		sans.IPAddresses.Add(externalIP)
	}
	if externalHostname != "" {
		sans.DNSNames.Add(externalHostname)
	}
	return sans
}

// Equal reports whether both SAN sets claim exactly the same names.
func (s SANs) Equal(other SANs) bool {
	return s.DNSNames.Difference(other.DNSNames).IsEmpty() &&
		other.DNSNames.Difference(s.DNSNames).IsEmpty() &&
		s.IPAddresses.Difference(other.IPAddresses).IsEmpty() &&
		other.IPAddresses.Difference(s.IPAddresses).IsEmpty()
}

// CoveredBy reports whether every name in s is claimed by other. A
// certificate is only acceptable when its encoded SANs cover the full
// set requested for the current facts.
func (s SANs) CoveredBy(other SANs) bool {
	return s.DNSNames.Difference(other.DNSNames).IsEmpty() &&
		s.IPAddresses.Difference(other.IPAddresses).IsEmpty()
}

// GeneratePrivateKey returns a new PEM encoded RSA private key.
func GeneratePrivateKey() ([]byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, errors.Annotate(err, "generating private key")
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemTypePrivateKey,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), nil
}

// GenerateCSR builds a PEM encoded certificate signing request for the
// supplied private key claiming the supplied SANs.
func GenerateCSR(keyPEM []byte, sans SANs) ([]byte, error) {
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var ips []net.IP
	for _, raw := range sans.IPAddresses.SortedValues() {
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, errors.NotValidf("IP address %q", raw)
		}
		ips = append(ips, ip)
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:     pkix.Name{CommonName: CertificateCommonName},
		DNSNames:    sans.DNSNames.SortedValues(),
		IPAddresses: ips,
	}, key)
	if err != nil {
		return nil, errors.Annotate(err, "creating certificate request")
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCSR, Bytes: der}), nil
}

// CSRSANs returns the SANs claimed by a PEM encoded certificate
// signing request.
func CSRSANs(csrPEM []byte) (SANs, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != pemTypeCSR {
		return SANs{}, errors.NotValidf("certificate request PEM")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return SANs{}, errors.Annotate(err, "parsing certificate request")
	}
	return SANs{
		DNSNames:    set.NewStrings(csr.DNSNames...),
		IPAddresses: ipStrings(csr.IPAddresses),
	}, nil
}

// CertificateSANs returns the SANs encoded in a PEM certificate.
func CertificateSANs(certPEM []byte) (SANs, error) {
	cert, err := ParseCertificate(certPEM)
	if err != nil {
		return SANs{}, errors.Trace(err)
	}
	return SANs{
		DNSNames:    set.NewStrings(cert.DNSNames...),
		IPAddresses: ipStrings(cert.IPAddresses),
	}, nil
}

// ParseCertificate decodes the first certificate in a PEM bundle.
func ParseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != pemTypeCert {
		return nil, errors.NotValidf("certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Annotate(err, "parsing certificate")
	}
	return cert, nil
}

func parsePrivateKey(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil || block.Type != pemTypePrivateKey {
		return nil, errors.NotValidf("private key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Annotate(err, "parsing private key")
	}
	return key, nil
}

func ipStrings(ips []net.IP) set.Strings {
	out := set.NewStrings()
	for _, ip := range ips {
		out.Add(ip.String())
	}
	return out
}
