// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package corestatus

import (
	"time"
)

// Status represents the workload status of the AMF unit as reported to
// the hosting platform.
type Status string

// String returns a string representation of the Status.
func (s Status) String() string {
	return string(s)
}

const (
	// Maintenance is set when:
	// The unit is not yet providing services, but is actively doing stuff
	// in preparation for providing those services.
	// This is a "spinning" state, not an error state.
	Maintenance Status = "maintenance"

	// Waiting is set when:
	// The unit is unable to progress to an active state because a
	// collaborator it depends on has not yet provided what the unit needs.
	Waiting Status = "waiting"

	// Blocked is set when:
	// The unit needs manual intervention to get back to the Running state.
	Blocked Status = "blocked"

	// Active is set when:
	// The unit believes it is correctly offering all the services it has
	// been asked to offer.
	Active Status = "active"
)

// StatusInfo holds a Status and associated information.
type StatusInfo struct {
	Status  Status
	Message string
	Since   *time.Time
}

// StatusSetter represents a type whose status can be set.
type StatusSetter interface {
	SetStatus(StatusInfo) error
}

// Valid returns true if status has a value that it is OK to report for
// this unit.
func Valid(status Status) bool {
	switch status {
	case
		Maintenance,
		Waiting,
		Blocked,
		Active:
		return true
	default:
		return false
	}
}
