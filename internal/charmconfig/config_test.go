// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charmconfig_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/charmconfig"
)

type ConfigSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&ConfigSuite{})

func (s *ConfigSuite) TestDefaults(c *gc.C) {
	cfg, err := charmconfig.New(map[string]any{})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.BindAddress, gc.Equals, "0.0.0.0")
	c.Check(cfg.Scheme, gc.Equals, "https")
	c.Check(cfg.DNNs, jc.DeepEquals, []string{"internet"})
	c.Check(cfg.IntegrityOrder, jc.DeepEquals, []string{"NIA2"})
	c.Check(cfg.CipheringOrder, jc.DeepEquals, []string{"NEA0"})
	c.Check(cfg.FullNetworkName, gc.Equals, "SDCORE5G")
	c.Check(cfg.ShortNetworkName, gc.Equals, "SDCORE")
	c.Check(cfg.ExternalIP, gc.Equals, "")
	c.Check(cfg.ExternalHostname, gc.Equals, "")
	c.Check(cfg.LogLevel, gc.Equals, "info")

	t, ok := cfg.Timer("t3513")
	c.Assert(ok, jc.IsTrue)
	c.Check(t.Enabled, jc.IsTrue)
	c.Check(t.ExpireTime, gc.Equals, 6*time.Second)
	c.Check(t.MaxRetryTimes, gc.Equals, 4)
}

func (s *ConfigSuite) TestTimerNames(c *gc.C) {
	cfg, err := charmconfig.New(map[string]any{})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.TimerNames(), jc.DeepEquals, []string{
		"t3513", "t3522", "t3550", "t3560", "t3565",
	})
}

func (s *ConfigSuite) TestListsSplitAndTrim(c *gc.C) {
	cfg, err := charmconfig.New(map[string]any{
		"dnn":                          "internet, ims ,sos",
		"integrity-algorithm-priority": "NIA1,NIA2",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.DNNs, jc.DeepEquals, []string{"internet", "ims", "sos"})
	c.Check(cfg.IntegrityOrder, jc.DeepEquals, []string{"NIA1", "NIA2"})
}

func (s *ConfigSuite) TestTimerOverride(c *gc.C) {
	cfg, err := charmconfig.New(map[string]any{
		"t3522-enabled":         false,
		"t3522-expire-time":     "12s",
		"t3522-max-retry-times": 7,
	})
	c.Assert(err, jc.ErrorIsNil)
	t, ok := cfg.Timer("t3522")
	c.Assert(ok, jc.IsTrue)
	c.Check(t.Enabled, jc.IsFalse)
	c.Check(t.ExpireTime, gc.Equals, 12*time.Second)
	c.Check(t.MaxRetryTimes, gc.Equals, 7)
}

func (s *ConfigSuite) TestExternalOverrides(c *gc.C) {
	cfg, err := charmconfig.New(map[string]any{
		"external-amf-ip":       "10.0.0.4",
		"external-amf-hostname": "amf.example.com",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.ExternalIP, gc.Equals, "10.0.0.4")
	c.Check(cfg.ExternalHostname, gc.Equals, "amf.example.com")
}

func (s *ConfigSuite) TestInvalidValues(c *gc.C) {
	for i, attrs := range []map[string]any{
		{"bind-address": "not-an-ip"},
		{"scheme": "ftp"},
		{"dnn": " ,"},
		{"integrity-algorithm-priority": "NIA9"},
		{"ciphering-algorithm-priority": "ROT13"},
		{"external-amf-ip": "256.0.0.1"},
		{"log-level": "chatty"},
		{"t3513-expire-time": "soonish"},
	} {
		c.Logf("test %d: %v", i, attrs)
		_, err := charmconfig.New(attrs)
		c.Check(err, jc.ErrorIs, errors.NotValid)
	}
}

func (s *ConfigSuite) TestUnknownAttributesIgnored(c *gc.C) {
	cfg, err := charmconfig.New(map[string]any{"something-else": "whatever"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Scheme, gc.Equals, "https")
}

type FileSourceSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&FileSourceSuite{})

func (s *FileSourceSuite) TestMissingFileMeansDefaults(c *gc.C) {
	source := charmconfig.NewFileSource(filepath.Join(c.MkDir(), "config.yaml"))
	attrs, err := source.Current()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(attrs, gc.HasLen, 0)
}

func (s *FileSourceSuite) TestReadsAttributes(c *gc.C) {
	path := filepath.Join(c.MkDir(), "config.yaml")
	err := os.WriteFile(path, []byte("scheme: http\ndnn: internet,ims\n"), 0600)
	c.Assert(err, jc.ErrorIsNil)

	source := charmconfig.NewFileSource(path)
	attrs, err := source.Current()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(attrs["scheme"], gc.Equals, "http")

	cfg, err := charmconfig.New(attrs)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Scheme, gc.Equals, "http")
	c.Check(cfg.DNNs, jc.DeepEquals, []string{"internet", "ims"})
}

func (s *FileSourceSuite) TestGarbageFile(c *gc.C) {
	path := filepath.Join(c.MkDir(), "config.yaml")
	err := os.WriteFile(path, []byte(":\tnot yaml"), 0600)
	c.Assert(err, jc.ErrorIsNil)

	source := charmconfig.NewFileSource(path)
	_, err = source.Current()
	c.Assert(err, gc.ErrorMatches, "parsing configuration: .*")
}
