// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package charmconfig holds the static configuration surface of the AMF
// unit controller. Options arrive from the hosting platform as loosely
// typed attributes and are coerced and validated here once per
// reconciliation pass, so that an invalid option is reported as a blocked
// status rather than crashing the pass.
package charmconfig

import (
	"net"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/schema"
)

var logger = loggo.GetLogger("sdcore-amf.charmconfig")

// retransmissionTimers names the NAS retransmission timers the workload
// recognises. Each contributes three configuration options.
var retransmissionTimers = []string{"t3513", "t3522", "t3550", "t3560", "t3565"}

var knownIntegrityAlgorithms = map[string]bool{
	"NIA0": true, "NIA1": true, "NIA2": true, "NIA3": true,
}

var knownCipheringAlgorithms = map[string]bool{
	"NEA0": true, "NEA1": true, "NEA2": true, "NEA3": true,
}

// Timer holds the parameters of one NAS retransmission timer.
type Timer struct {
	Enabled       bool
	ExpireTime    time.Duration
	MaxRetryTimes int
}

// Config is the validated static configuration of the unit.
type Config struct {
	BindAddress      string
	Scheme           string
	DNNs             []string
	IntegrityOrder   []string
	CipheringOrder   []string
	FullNetworkName  string
	ShortNetworkName string
	ExternalIP       string
	ExternalHostname string
	LogLevel         string

	timers map[string]Timer
}

// Source supplies the current static configuration attributes.
type Source interface {
	Current() (map[string]any, error)
}

func configSchema() (schema.Fields, schema.Defaults) {
	fields := schema.Fields{
		"bind-address":                  schema.String(),
		"scheme":                        schema.String(),
		"dnn":                           schema.String(),
		"integrity-algorithm-priority":  schema.String(),
		"ciphering-algorithm-priority":  schema.String(),
		"full-network-name":             schema.String(),
		"short-network-name":            schema.String(),
		"external-amf-ip":               schema.String(),
		"external-amf-hostname":         schema.String(),
		"log-level":                     schema.String(),
	}
	defaults := schema.Defaults{
		"bind-address":                  "0.0.0.0",
		"scheme":                        "https",
		"dnn":                           "internet",
		"integrity-algorithm-priority":  "NIA2",
		"ciphering-algorithm-priority":  "NEA0",
		"full-network-name":             "SDCORE5G",
		"short-network-name":            "SDCORE",
		"external-amf-ip":               schema.Omit,
		"external-amf-hostname":         schema.Omit,
		"log-level":                     "info",
	}
	for _, name := range retransmissionTimers {
		fields[name+"-enabled"] = schema.Bool()
		fields[name+"-expire-time"] = schema.String()
		fields[name+"-max-retry-times"] = schema.Int()
		defaults[name+"-enabled"] = true
		defaults[name+"-expire-time"] = "6s"
		defaults[name+"-max-retry-times"] = int64(4)
	}
	return fields, defaults
}

// New coerces and validates the supplied attributes into a Config.
func New(attrs map[string]any) (*Config, error) {
	fields, defaults := configSchema()
	checker := schema.FieldMap(fields, defaults)
	coerced, err := checker.Coerce(attrs, nil)
	if err != nil {
		return nil, errors.Annotate(err, "coercing configuration")
	}
	m := coerced.(map[string]any)

	cfg := &Config{
		BindAddress:      m["bind-address"].(string),
		Scheme:           m["scheme"].(string),
		DNNs:             splitList(m["dnn"].(string)),
		IntegrityOrder:   splitList(m["integrity-algorithm-priority"].(string)),
		CipheringOrder:   splitList(m["ciphering-algorithm-priority"].(string)),
		FullNetworkName:  m["full-network-name"].(string),
		ShortNetworkName: m["short-network-name"].(string),
		LogLevel:         m["log-level"].(string),
		timers:           make(map[string]Timer),
	}
	if v, ok := m["external-amf-ip"]; ok {
		cfg.ExternalIP = v.(string)
	}
	if v, ok := m["external-amf-hostname"]; ok {
		cfg.ExternalHostname = v.(string)
	}
	for _, name := range retransmissionTimers {
		expire, err := time.ParseDuration(m[name+"-expire-time"].(string))
		if err != nil {
			return nil, errors.NotValidf("timer %s expire time %q", name, m[name+"-expire-time"])
		}
		cfg.timers[name] = Timer{
			Enabled:       m[name+"-enabled"].(bool),
			ExpireTime:    expire,
			MaxRetryTimes: int(m[name+"-max-retry-times"].(int64)),
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	logger.Tracef("validated configuration: %+v", cfg)
	return cfg, nil
}

func (c *Config) validate() error {
	if net.ParseIP(c.BindAddress) == nil {
		return errors.NotValidf("bind address %q", c.BindAddress)
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return errors.NotValidf("scheme %q", c.Scheme)
	}
	if len(c.DNNs) == 0 {
		return errors.NotValidf("empty dnn list")
	}
	if len(c.IntegrityOrder) == 0 {
		return errors.NotValidf("empty integrity algorithm list")
	}
	for _, alg := range c.IntegrityOrder {
		if !knownIntegrityAlgorithms[alg] {
			return errors.NotValidf("integrity algorithm %q", alg)
		}
	}
	if len(c.CipheringOrder) == 0 {
		return errors.NotValidf("empty ciphering algorithm list")
	}
	for _, alg := range c.CipheringOrder {
		if !knownCipheringAlgorithms[alg] {
			return errors.NotValidf("ciphering algorithm %q", alg)
		}
	}
	if c.ExternalIP != "" && net.ParseIP(c.ExternalIP) == nil {
		return errors.NotValidf("external AMF IP %q", c.ExternalIP)
	}
	if _, ok := loggo.ParseLevel(c.LogLevel); !ok {
		return errors.NotValidf("log level %q", c.LogLevel)
	}
	for name, t := range c.timers {
		if t.ExpireTime <= 0 {
			return errors.NotValidf("timer %s expire time %v", name, t.ExpireTime)
		}
		if t.MaxRetryTimes < 0 {
			return errors.NotValidf("timer %s max retry times %d", name, t.MaxRetryTimes)
		}
	}
	return nil
}

// Timer returns the named retransmission timer.
func (c *Config) Timer(name string) (Timer, bool) {
	t, ok := c.timers[name]
	return t, ok
}

// TimerNames returns the recognised retransmission timer names in a
// stable order.
func (c *Config) TimerNames() []string {
	names := make([]string, 0, len(c.timers))
	for name := range c.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
