// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package amfconfig_test

import (
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	"gopkg.in/yaml.v3"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/amfconfig"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/charmconfig"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/corestatus"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/relation"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/unitpki"
)

type fakeStore map[string]map[string]string

func (f fakeStore) Databag(rel string) (map[string]string, bool) {
	bag, ok := f[rel]
	return bag, ok
}

// fullStore carries complete databags for every consumed channel.
func fullStore() fakeStore {
	return fakeStore{
		relation.NRF: {"url": "https://nrf:29510"},
		relation.Database: {
			"uris":     "mongodb://mongo:27017",
			"username": "amf",
			"password": "sekrit",
		},
		relation.Certificates: {"certificate": "CERT", "ca_chain": "CHAIN"},
		relation.SdcoreConfig: {"webui_url": "http://webui:5000"},
		relation.Logging:      {"endpoint": "http://loki:3100/loki/api/v1/push"},
	}
}

func defaultFacts() amfconfig.UnitNetworkFacts {
	return amfconfig.UnitNetworkFacts{
		PodIP:            "10.1.2.3",
		LoadBalancerIP:   "203.0.113.9",
		InternalHostname: "amf-external.sdcore.svc.cluster.local",
	}
}

type ComputeSuite struct {
	testing.IsolationSuite

	cfg *charmconfig.Config
}

var _ = gc.Suite(&ComputeSuite{})

func (s *ComputeSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	var err error
	s.cfg, err = charmconfig.New(map[string]any{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *ComputeSuite) compute(store fakeStore, certStatus unitpki.Status) amfconfig.Result {
	return amfconfig.Compute(relation.Read(store), defaultFacts(), s.cfg, certStatus)
}

func (s *ComputeSuite) TestReady(c *gc.C) {
	result := s.compute(fullStore(), unitpki.Certified)
	c.Check(result.Ready, jc.IsTrue)
	c.Check(result.Verdict.Status, gc.Equals, corestatus.Active)
	c.Check(result.LoggingURL, gc.Equals, "http://loki:3100/loki/api/v1/push")
	c.Check(result.PodIP, gc.Equals, "10.1.2.3")
}

func (s *ComputeSuite) TestDeterministic(c *gc.C) {
	first := s.compute(fullStore(), unitpki.Certified)
	second := s.compute(fullStore(), unitpki.Certified)
	c.Check(first.Document, jc.DeepEquals, second.Document)
}

func (s *ComputeSuite) TestDocumentContents(c *gc.C) {
	result := s.compute(fullStore(), unitpki.Certified)

	var doc map[string]any
	err := yaml.Unmarshal(result.Document, &doc)
	c.Assert(err, jc.ErrorIsNil)
	conf := doc["configuration"].(map[string]any)

	c.Check(conf["amfName"], gc.Equals, "AMF")
	c.Check(conf["ngapIpList"], jc.DeepEquals, []any{"10.1.2.3"})
	c.Check(conf["ngappPort"], gc.Equals, 38412)
	c.Check(conf["sctpGrpcPort"], gc.Equals, 9000)
	c.Check(conf["nrfUri"], gc.Equals, "https://nrf:29510")
	c.Check(conf["webuiUri"], gc.Equals, "http://webui:5000")

	mongo := conf["mongodb"].(map[string]any)
	c.Check(mongo["name"], gc.Equals, "sdcore_amf")
	c.Check(mongo["url"], gc.Equals, "mongodb://mongo:27017")

	sbi := conf["sbi"].(map[string]any)
	c.Check(sbi["scheme"], gc.Equals, "https")
	c.Check(sbi["registerIPv4"], gc.Equals, "10.1.2.3")
	c.Check(sbi["bindingIPv4"], gc.Equals, "0.0.0.0")
	c.Check(sbi["port"], gc.Equals, 29518)
	tls := sbi["tls"].(map[string]any)
	c.Check(tls["key"], gc.Equals, "/support/TLS/amf.key")
	c.Check(tls["pem"], gc.Equals, "/support/TLS/amf.pem")

	network := conf["networkName"].(map[string]any)
	c.Check(network["full"], gc.Equals, "SDCORE5G")
	c.Check(network["short"], gc.Equals, "SDCORE")

	t3513 := conf["t3513"].(map[string]any)
	c.Check(t3513["enable"], gc.Equals, true)
	c.Check(t3513["expireTime"], gc.Equals, "6s")
	c.Check(t3513["maxRetryTimes"], gc.Equals, 4)

	logger := doc["logger"].(map[string]any)
	amfLogger := logger["AMF"].(map[string]any)
	c.Check(amfLogger["debugLevel"], gc.Equals, "info")
}

func (s *ComputeSuite) TestRendersEvenWhenNotReady(c *gc.C) {
	result := s.compute(fakeStore{}, unitpki.NoPrivateKey)
	c.Check(result.Ready, jc.IsFalse)
	c.Check(result.Document, gc.Not(gc.HasLen), 0)
}

func (s *ComputeSuite) TestPrecedenceNRFFirst(c *gc.C) {
	result := s.compute(fakeStore{}, unitpki.NoPrivateKey)
	c.Check(result.Verdict.Status, gc.Equals, corestatus.Waiting)
	c.Check(result.Verdict.Message, gc.Equals, "waiting for fiveg_nrf endpoint")
}

func (s *ComputeSuite) TestInvalidNRFBlocks(c *gc.C) {
	store := fullStore()
	store[relation.NRF] = map[string]string{"url": "ldap://nope"}
	result := s.compute(store, unitpki.Certified)
	c.Check(result.Verdict.Status, gc.Equals, corestatus.Blocked)
	c.Check(result.Verdict.Message, gc.Matches, "invalid fiveg_nrf data: .*")
}

func (s *ComputeSuite) TestDatabaseSecond(c *gc.C) {
	store := fullStore()
	delete(store, relation.Database)
	result := s.compute(store, unitpki.Certified)
	c.Check(result.Verdict.Status, gc.Equals, corestatus.Waiting)
	c.Check(result.Verdict.Message, gc.Equals, "waiting for database connection details")
}

func (s *ComputeSuite) TestCertificatesRelationThird(c *gc.C) {
	store := fullStore()
	delete(store, relation.Certificates)
	result := s.compute(store, unitpki.NoPrivateKey)
	c.Check(result.Verdict.Status, gc.Equals, corestatus.Waiting)
	c.Check(result.Verdict.Message, gc.Equals, "waiting for certificates relation")
}

func (s *ComputeSuite) TestCertificateIssuancePending(c *gc.C) {
	result := s.compute(fullStore(), unitpki.CsrPending)
	c.Check(result.Verdict.Status, gc.Equals, corestatus.Waiting)
	c.Check(result.Verdict.Message, gc.Equals, "waiting for certificate to be issued over certificates")
}

func (s *ComputeSuite) TestWebUILast(c *gc.C) {
	store := fullStore()
	delete(store, relation.SdcoreConfig)
	result := s.compute(store, unitpki.Certified)
	c.Check(result.Verdict.Status, gc.Equals, corestatus.Waiting)
	c.Check(result.Verdict.Message, gc.Equals, "waiting for webui URL over sdcore_config")
}

func (s *ComputeSuite) TestNRFNamedBeforeCertificates(c *gc.C) {
	// Both the registry and the certificate are missing; the registry
	// is the one the status names.
	store := fullStore()
	delete(store, relation.NRF)
	result := s.compute(store, unitpki.CsrPending)
	c.Check(result.Verdict.Message, gc.Equals, "waiting for fiveg_nrf endpoint")
}

type FactsSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&FactsSuite{})

func (s *FactsSuite) TestAdvertisedIPPrefersOverride(c *gc.C) {
	facts := defaultFacts()
	c.Check(facts.AdvertisedIP("198.51.100.7"), gc.Equals, "198.51.100.7")
	c.Check(facts.AdvertisedIP(""), gc.Equals, "203.0.113.9")
}

func (s *FactsSuite) TestAdvertisedHostnameFallbackChain(c *gc.C) {
	facts := defaultFacts()
	c.Check(facts.AdvertisedHostname("amf.example.com"), gc.Equals, "amf.example.com")
	c.Check(facts.AdvertisedHostname(""), gc.Equals, "amf-external.sdcore.svc.cluster.local")

	facts.LoadBalancerHostname = "lb.example.com"
	c.Check(facts.AdvertisedHostname(""), gc.Equals, "lb.example.com")
}
