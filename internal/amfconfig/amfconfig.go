// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package amfconfig computes the desired workload configuration of the
// AMF from an integration snapshot, the unit's network facts and the
// static configuration. Compute is a pure function: it mutates nothing
// and identical inputs always yield byte-identical output, which is
// what the convergence driver's change detection relies on.
package amfconfig

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/charmconfig"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/corestatus"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/relation"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/unitpki"
)

// Well known ports of the AMF workload.
const (
	NGAPPort     = 38412
	SBIPort      = 29518
	SCTPGRPCPort = 9000
)

// Paths hardcoded in the AMF workload image.
const (
	ConfigDirPath  = "/free5gc/config"
	ConfigFileName = "amfcfg.conf"
	ConfigPath     = ConfigDirPath + "/" + ConfigFileName
	CertsDirPath   = "/support/TLS"
)

const (
	t3502Seconds = 720
	t3512Seconds = 3600
)

// UnitNetworkFacts are the platform-supplied addressing facts of the
// unit, immutable for the duration of one reconciliation pass.
type UnitNetworkFacts struct {
	PodIP                string
	LoadBalancerIP       string
	LoadBalancerHostname string
	InternalHostname     string
}

// AdvertisedIP is the IP peers should use to reach the AMF over N2:
// the configured override when present, otherwise the external
// load balancer address.
func (f UnitNetworkFacts) AdvertisedIP(externalIP string) string {
	if externalIP != "" {
		return externalIP
	}
	return f.LoadBalancerIP
}

// AdvertisedHostname is the hostname advertised to N2 peers, falling
// back from the configured override through the load balancer hostname
// to the in-cluster service FQDN.
func (f UnitNetworkFacts) AdvertisedHostname(externalHostname string) string {
	if externalHostname != "" {
		return externalHostname
	}
	if f.LoadBalancerHostname != "" {
		return f.LoadBalancerHostname
	}
	return f.InternalHostname
}

// Verdict is the readiness verdict attached to a computed
// configuration. When not ready it carries the status for the first
// unmet precondition, in the fixed precedence order.
type Verdict struct {
	Status  corestatus.Status
	Message string
}

// Result is a fully rendered workload configuration document plus the
// readiness verdict. The document is always rendered, even when not
// ready, so operators can inspect what would be applied.
type Result struct {
	Document   []byte
	Ready      bool
	Verdict    Verdict
	LoggingURL string
	PodIP      string
}

// Compute derives the desired workload configuration. The precondition
// order is fixed so status messages always name the first unmet
// dependency: service registry, database, certificate, shared config.
func Compute(snap *relation.Snapshot, facts UnitNetworkFacts, cfg *charmconfig.Config, certStatus unitpki.Status) Result {
	result := Result{
		Document: render(snap, facts, cfg),
		Verdict:  Verdict{Status: corestatus.Active},
		PodIP:    facts.PodIP,
	}
	if snap.Logging != nil {
		result.LoggingURL = snap.Logging.URL
	}

	if verdict, ok := unmetPrecondition(snap, certStatus); ok {
		result.Verdict = verdict
		return result
	}
	result.Ready = true
	return result
}

func unmetPrecondition(snap *relation.Snapshot, certStatus unitpki.Status) (Verdict, bool) {
	if err, ok := snap.Invalid[relation.NRF]; ok {
		return blocked(relation.NRF, err), true
	}
	if snap.NRF == nil {
		return waiting("waiting for %s endpoint", relation.NRF), true
	}
	if err, ok := snap.Invalid[relation.Database]; ok {
		return blocked(relation.Database, err), true
	}
	if snap.Database == nil {
		return waiting("waiting for %s connection details", relation.Database), true
	}
	if !snap.Connected(relation.Certificates) {
		return waiting("waiting for %s relation", relation.Certificates), true
	}
	if certStatus != unitpki.Certified {
		return waiting("waiting for certificate to be issued over %s", relation.Certificates), true
	}
	if snap.SharedConfig == nil {
		return waiting("waiting for webui URL over %s", relation.SdcoreConfig), true
	}
	return Verdict{}, false
}

func waiting(format string, args ...any) Verdict {
	return Verdict{
		Status:  corestatus.Waiting,
		Message: fmt.Sprintf(format, args...),
	}
}

func blocked(channel string, err error) Verdict {
	return Verdict{
		Status:  corestatus.Blocked,
		Message: fmt.Sprintf("invalid %s data: %v", channel, err),
	}
}

type document struct {
	Info          info             `yaml:"info"`
	Configuration configurationDoc `yaml:"configuration"`
	Logger        loggerDoc        `yaml:"logger"`
}

type info struct {
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

type configurationDoc struct {
	AMFName         string       `yaml:"amfName"`
	NgapIPList      []string     `yaml:"ngapIpList"`
	NgapPort        int          `yaml:"ngappPort"`
	SctpGrpcPort    int          `yaml:"sctpGrpcPort"`
	SBI             sbiDoc       `yaml:"sbi"`
	NRFURI          string       `yaml:"nrfUri"`
	WebUIURI        string       `yaml:"webuiUri"`
	Mongodb         mongoDoc     `yaml:"mongodb"`
	ServiceNameList []string     `yaml:"serviceNameList"`
	SupportDNNList  []string     `yaml:"supportDnnList"`
	Security        securityDoc  `yaml:"security"`
	NetworkName     networkName  `yaml:"networkName"`
	NetworkFeature  featureFlags `yaml:"networkFeatureSupport5GS"`
	T3502Value      int          `yaml:"t3502Value"`
	T3512Value      int          `yaml:"t3512Value"`
	T3513           retransTimer `yaml:"t3513"`
	T3522           retransTimer `yaml:"t3522"`
	T3550           retransTimer `yaml:"t3550"`
	T3560           retransTimer `yaml:"t3560"`
	T3565           retransTimer `yaml:"t3565"`
}

type sbiDoc struct {
	Scheme       string `yaml:"scheme"`
	RegisterIPv4 string `yaml:"registerIPv4"`
	BindingIPv4  string `yaml:"bindingIPv4"`
	Port         int    `yaml:"port"`
	TLS          tlsDoc `yaml:"tls"`
}

type tlsDoc struct {
	Key string `yaml:"key"`
	PEM string `yaml:"pem"`
}

type mongoDoc struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type securityDoc struct {
	IntegrityOrder []string `yaml:"integrityOrder"`
	CipheringOrder []string `yaml:"cipheringOrder"`
}

type networkName struct {
	Full  string `yaml:"full"`
	Short string `yaml:"short"`
}

type featureFlags struct {
	Enable  bool `yaml:"enable"`
	ImsVoPS int  `yaml:"imsVoPS"`
	Emc     int  `yaml:"emc"`
	Emf     int  `yaml:"emf"`
	IwkN26  int  `yaml:"iwkN26"`
	Mpsi    int  `yaml:"mpsi"`
	EmcN3   int  `yaml:"emcN3"`
	Mcsi    int  `yaml:"mcsi"`
}

type retransTimer struct {
	Enable        bool   `yaml:"enable"`
	ExpireTime    string `yaml:"expireTime"`
	MaxRetryTimes int    `yaml:"maxRetryTimes"`
}

type loggerDoc struct {
	AMF componentLogger `yaml:"AMF"`
}

type componentLogger struct {
	DebugLevel   string `yaml:"debugLevel"`
	ReportCaller bool   `yaml:"ReportCaller"`
}

// render is total: it produces a document from whatever is derivable,
// leaving fields for absent dependencies empty. Marshalling a fixed
// struct keeps the output deterministic.
func render(snap *relation.Snapshot, facts UnitNetworkFacts, cfg *charmconfig.Config) []byte {
	doc := document{
		Info: info{
			Version:     "1.0.0",
			Description: "AMF initial local configuration",
		},
		Configuration: configurationDoc{
			AMFName:      "AMF",
			NgapIPList:   []string{facts.PodIP},
			NgapPort:     NGAPPort,
			SctpGrpcPort: SCTPGRPCPort,
			SBI: sbiDoc{
				Scheme:       cfg.Scheme,
				RegisterIPv4: facts.PodIP,
				BindingIPv4:  cfg.BindAddress,
				Port:         SBIPort,
				TLS: tlsDoc{
					Key: CertsDirPath + "/" + unitpki.PrivateKeyName,
					PEM: CertsDirPath + "/" + unitpki.CertificateName,
				},
			},
			ServiceNameList: []string{
				"namf-comm", "namf-evts", "namf-mt", "namf-loc", "namf-oam",
			},
			SupportDNNList: cfg.DNNs,
			Security: securityDoc{
				IntegrityOrder: cfg.IntegrityOrder,
				CipheringOrder: cfg.CipheringOrder,
			},
			NetworkName: networkName{
				Full:  cfg.FullNetworkName,
				Short: cfg.ShortNetworkName,
			},
			NetworkFeature: featureFlags{Enable: true},
			T3502Value:     t3502Seconds,
			T3512Value:     t3512Seconds,
			T3513:          renderTimer(cfg, "t3513"),
			T3522:          renderTimer(cfg, "t3522"),
			T3550:          renderTimer(cfg, "t3550"),
			T3560:          renderTimer(cfg, "t3560"),
			T3565:          renderTimer(cfg, "t3565"),
		},
		Logger: loggerDoc{
			AMF: componentLogger{DebugLevel: cfg.LogLevel},
		},
	}
	if snap.NRF != nil {
		doc.Configuration.NRFURI = snap.NRF.URL
	}
	if snap.SharedConfig != nil {
		doc.Configuration.WebUIURI = snap.SharedConfig.WebUIURL
	}
	if snap.Database != nil {
		doc.Configuration.Mongodb = mongoDoc{
			Name: snap.Database.DatabaseName,
			URL:  snap.Database.URI,
		}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		// Marshalling a fixed struct of plain values cannot fail.
		panic(err)
	}
	return data
}

func renderTimer(cfg *charmconfig.Config, name string) retransTimer {
	t, _ := cfg.Timer(name)
	return retransTimer{
		Enable:        t.Enabled,
		ExpireTime:    t.ExpireTime.String(),
		MaxRetryTimes: t.MaxRetryTimes,
	}
}
