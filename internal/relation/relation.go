// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relation provides typed accessors over the integration
// channels of the AMF unit. All reads are served from locally cached
// relation data; a channel that has not provided its required fields
// yet simply reads as absent and the next platform event will carry it.
package relation

import (
	"net/url"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("sdcore-amf.relation")

// Relation names, matching the unit's integration endpoints.
const (
	NRF          = "fiveg_nrf"
	Database     = "database"
	Certificates = "certificates"
	SdcoreConfig = "sdcore_config"
	Logging      = "logging"
	N2           = "fiveg-n2"
)

// DatabaseName is the logical database the AMF stores its state in.
const DatabaseName = "sdcore_amf"

// Store provides read access to the locally cached remote databags of
// the unit's relations. The second return value reports whether the
// relation is connected at all, regardless of databag completeness.
type Store interface {
	Databag(relation string) (map[string]string, bool)
}

// Publisher writes this unit's own data onto the local side of a
// relation for remote consumers.
type Publisher interface {
	Publish(relation string, values map[string]string) error
}

// NRFEndpoint is the service registry endpoint.
type NRFEndpoint struct {
	URL string
}

// DatabaseConnection holds validated database access details.
type DatabaseConnection struct {
	URI          string
	Username     string
	Password     string
	DatabaseName string
}

// AuthorityInfo holds what the certificate authority channel has
// provided so far. CertificatePEM is empty while issuance is pending.
type AuthorityInfo struct {
	CertificatePEM string
	CAChainPEM     string
}

// SharedConfig holds the shared configuration bus payload.
type SharedConfig struct {
	WebUIURL string
}

// LoggingEndpoint is the log sink the workload forwards to.
type LoggingEndpoint struct {
	URL string
}

// Snapshot is a point-in-time read of every channel. A nil field means
// the channel is absent: either not connected, or connected without the
// required fields. Channels that are connected but carry data failing
// validation are additionally recorded in Invalid.
type Snapshot struct {
	NRF          *NRFEndpoint
	Database     *DatabaseConnection
	Authority    *AuthorityInfo
	SharedConfig *SharedConfig
	Logging      *LoggingEndpoint

	connected map[string]bool
	Invalid   map[string]error
}

// Connected reports whether the named relation is connected, even if
// its databag is still incomplete.
func (s *Snapshot) Connected(relation string) bool {
	return s.connected[relation]
}

// Read takes a snapshot of all channels from the cached store. It never
// blocks and never fails; validation problems are folded into the
// snapshot for the status aggregator to report.
func Read(store Store) *Snapshot {
	snap := &Snapshot{
		connected: make(map[string]bool),
		Invalid:   make(map[string]error),
	}
	snap.NRF = readNRF(store, snap)
	snap.Database = readDatabase(store, snap)
	snap.Authority = readAuthority(store, snap)
	snap.SharedConfig = readSharedConfig(store, snap)
	snap.Logging = readLogging(store, snap)
	return snap
}

func databag(store Store, relation string, snap *Snapshot) (map[string]string, bool) {
	bag, ok := store.Databag(relation)
	if !ok {
		logger.Debugf("relation %q not connected", relation)
		return nil, false
	}
	snap.connected[relation] = true
	return bag, true
}

func readNRF(store Store, snap *Snapshot) *NRFEndpoint {
	bag, ok := databag(store, NRF, snap)
	if !ok {
		return nil
	}
	rawURL := bag["url"]
	if rawURL == "" {
		logger.Infof("relation %q connected but has not provided an NRF URL yet", NRF)
		return nil
	}
	if err := validateHTTPURL(rawURL); err != nil {
		logger.Warningf("relation %q provided an invalid NRF URL: %v", NRF, err)
		snap.Invalid[NRF] = errors.Annotatef(err, "NRF URL %q", rawURL)
		return nil
	}
	return &NRFEndpoint{URL: rawURL}
}

func readDatabase(store Store, snap *Snapshot) *DatabaseConnection {
	bag, ok := databag(store, Database, snap)
	if !ok {
		return nil
	}
	uris := bag["uris"]
	username := bag["username"]
	password := bag["password"]
	if uris == "" || username == "" || password == "" {
		logger.Infof("relation %q connected but its databag is incomplete", Database)
		return nil
	}
	uri := strings.SplitN(uris, ",", 2)[0]
	if err := validateMongoURI(uri); err != nil {
		logger.Warningf("relation %q provided an invalid database URI: %v", Database, err)
		snap.Invalid[Database] = errors.Annotatef(err, "database URI %q", uri)
		return nil
	}
	return &DatabaseConnection{
		URI:          uri,
		Username:     username,
		Password:     password,
		DatabaseName: DatabaseName,
	}
}

func readAuthority(store Store, snap *Snapshot) *AuthorityInfo {
	bag, ok := databag(store, Certificates, snap)
	if !ok {
		return nil
	}
	// An empty databag is the normal state while issuance is pending;
	// the authority is connected but has not signed anything yet.
	return &AuthorityInfo{
		CertificatePEM: bag["certificate"],
		CAChainPEM:     bag["ca_chain"],
	}
}

func readSharedConfig(store Store, snap *Snapshot) *SharedConfig {
	bag, ok := databag(store, SdcoreConfig, snap)
	if !ok {
		return nil
	}
	rawURL := bag["webui_url"]
	if rawURL == "" {
		logger.Infof("relation %q connected but has not provided the webui URL yet", SdcoreConfig)
		return nil
	}
	return &SharedConfig{WebUIURL: rawURL}
}

func readLogging(store Store, snap *Snapshot) *LoggingEndpoint {
	bag, ok := databag(store, Logging, snap)
	if !ok {
		return nil
	}
	endpoint := bag["endpoint"]
	if endpoint == "" {
		logger.Infof("relation %q connected but has not provided an endpoint yet", Logging)
		return nil
	}
	if err := validateHTTPURL(endpoint); err != nil {
		logger.Warningf("relation %q provided an invalid endpoint: %v", Logging, err)
		snap.Invalid[Logging] = errors.Annotatef(err, "logging endpoint %q", endpoint)
		return nil
	}
	return &LoggingEndpoint{URL: endpoint}
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.Trace(err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.NotValidf("scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.NotValidf("missing host")
	}
	return nil
}

func validateMongoURI(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.Trace(err)
	}
	if parsed.Scheme != "mongodb" && parsed.Scheme != "mongodb+srv" {
		return errors.NotValidf("scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.NotValidf("missing host")
	}
	return nil
}
