// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher

import (
	"strings"
)

// Kind classifies a lifecycle event delivered to the unit.
type Kind string

const (
	// KindSetup fires when the unit is first installed or upgraded.
	KindSetup Kind = "setup"

	// KindConfigChanged fires when the static configuration may have
	// changed.
	KindConfigChanged Kind = "config-changed"

	// KindWorkloadReady fires when the workload container's service
	// manager becomes reachable.
	KindWorkloadReady Kind = "workload-ready"

	// KindChannelChanged fires when data on an integration channel
	// may have changed; Relation names the channel.
	KindChannelChanged Kind = "channel-changed"

	// KindChannelDeparted fires when an integration channel is going
	// away; Relation names the channel.
	KindChannelDeparted Kind = "channel-departed"

	// KindTick is the periodic re-reconciliation nudge.
	KindTick Kind = "tick"

	// KindRemove fires when the unit is being removed for good.
	KindRemove Kind = "remove"
)

// Event is one occurrence the dispatcher feeds into the engine. All
// kinds except KindRemove trigger the same full reconciliation pass;
// the kind is recorded for logging only.
type Event struct {
	Kind     Kind
	Relation string
}

// ParseHook maps a platform hook name onto an Event. Hooks with no
// bearing on reconciliation report ok=false and are ignored.
func ParseHook(name string) (Event, bool) {
	switch name {
	case "install", "upgrade-charm":
		return Event{Kind: KindSetup}, true
	case "config-changed", "leader-elected":
		return Event{Kind: KindConfigChanged}, true
	case "amf-pebble-ready":
		return Event{Kind: KindWorkloadReady}, true
	case "update-status":
		return Event{Kind: KindTick}, true
	case "remove", "stop":
		return Event{Kind: KindRemove}, true
	}
	for _, suffix := range []string{"-relation-created", "-relation-joined", "-relation-changed"} {
		if rel, ok := strings.CutSuffix(name, suffix); ok && rel != "" {
			return Event{Kind: KindChannelChanged, Relation: rel}, true
		}
	}
	for _, suffix := range []string{"-relation-departed", "-relation-broken"} {
		if rel, ok := strings.CutSuffix(name, suffix); ok && rel != "" {
			return Event{Kind: KindChannelDeparted, Relation: rel}, true
		}
	}
	return Event{}, false
}
