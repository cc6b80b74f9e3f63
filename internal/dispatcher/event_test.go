// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher_test

import (
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/dispatcher"
)

type EventSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&EventSuite{})

func (s *EventSuite) TestParseHook(c *gc.C) {
	for i, test := range []struct {
		hook string
		want dispatcher.Event
	}{
		{"install", dispatcher.Event{Kind: dispatcher.KindSetup}},
		{"upgrade-charm", dispatcher.Event{Kind: dispatcher.KindSetup}},
		{"config-changed", dispatcher.Event{Kind: dispatcher.KindConfigChanged}},
		{"leader-elected", dispatcher.Event{Kind: dispatcher.KindConfigChanged}},
		{"amf-pebble-ready", dispatcher.Event{Kind: dispatcher.KindWorkloadReady}},
		{"update-status", dispatcher.Event{Kind: dispatcher.KindTick}},
		{"remove", dispatcher.Event{Kind: dispatcher.KindRemove}},
		{"stop", dispatcher.Event{Kind: dispatcher.KindRemove}},
		{"fiveg_nrf-relation-changed", dispatcher.Event{
			Kind: dispatcher.KindChannelChanged, Relation: "fiveg_nrf"}},
		{"database-relation-joined", dispatcher.Event{
			Kind: dispatcher.KindChannelChanged, Relation: "database"}},
		{"certificates-relation-created", dispatcher.Event{
			Kind: dispatcher.KindChannelChanged, Relation: "certificates"}},
		{"fiveg-n2-relation-broken", dispatcher.Event{
			Kind: dispatcher.KindChannelDeparted, Relation: "fiveg-n2"}},
		{"logging-relation-departed", dispatcher.Event{
			Kind: dispatcher.KindChannelDeparted, Relation: "logging"}},
	} {
		c.Logf("test %d: %s", i, test.hook)
		event, ok := dispatcher.ParseHook(test.hook)
		c.Check(ok, jc.IsTrue)
		c.Check(event, gc.Equals, test.want)
	}
}

func (s *EventSuite) TestParseHookIgnored(c *gc.C) {
	for i, hook := range []string{
		"collect-metrics",
		"secret-rotate",
		"-relation-changed",
		"something-unheard-of",
		"",
	} {
		c.Logf("test %d: %q", i, hook)
		_, ok := dispatcher.ParseHook(hook)
		c.Check(ok, jc.IsFalse)
	}
}
