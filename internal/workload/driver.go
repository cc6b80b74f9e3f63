// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/amfconfig"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/unitstate"
)

// DriverConfig holds the dependencies of a Driver.
type DriverConfig struct {
	Container Container
	State     unitstate.Store
}

// Validate returns an error if the config cannot drive a Driver.
func (config DriverConfig) Validate() error {
	if config.Container == nil {
		return errors.NotValidf("nil Container")
	}
	if config.State == nil {
		return errors.NotValidf("nil State")
	}
	return nil
}

// Driver converges the workload onto a desired configuration.
type Driver struct {
	config DriverConfig
}

// NewDriver returns a Driver backed by config.
func NewDriver(config DriverConfig) (*Driver, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Driver{config: config}, nil
}

// ConvergeResult reports what a converge call actually did.
type ConvergeResult struct {
	ConfigApplied bool
	Restarted     bool
}

// Converge pushes the desired configuration into the workload and
// restarts the workload process only when the applied content changed.
// A non-ready desired state performs no workload mutation at all, so a
// previously applied configuration is never torn down by a dependency
// going away. Calling Converge repeatedly with identical inputs issues
// at most one restart.
func (d *Driver) Converge(desired amfconfig.Result, certUpdated bool) (ConvergeResult, error) {
	var result ConvergeResult
	if !desired.Ready {
		logger.Debugf("desired state not ready, leaving workload untouched")
		return result, nil
	}

	sum := checksum(desired.Document)
	applied, err := d.config.State.AppliedChecksum()
	if err != nil && !errors.Is(err, errors.NotFound) {
		return result, errors.Trace(err)
	}
	configChanged := sum != applied
	if configChanged {
		if err := d.config.Container.Push(amfconfig.ConfigPath, desired.Document); err != nil {
			return result, errors.Annotate(err, "writing workload configuration")
		}
		logger.Infof("pushed %s to workload", amfconfig.ConfigFileName)
	}

	layer := desiredLayer(desired.PodIP, desired.LoggingURL)
	changed, err := layerChanged(d.config.Container, layer)
	if err != nil {
		return result, errors.Trace(err)
	}
	if changed {
		layerData, err := yaml.Marshal(layer)
		if err != nil {
			return result, errors.Trace(err)
		}
		if err := d.config.Container.AddLayer(layerLabel, layerData); err != nil {
			return result, errors.Trace(err)
		}
		logger.Infof("updated %s service layer", ServiceName)
	}

	if configChanged || certUpdated {
		if err := d.config.Container.Restart(ServiceName); err != nil {
			return result, errors.Trace(err)
		}
		logger.Infof("restarted %s service", ServiceName)
		result.Restarted = true
	} else if err := d.config.Container.Replan(); err != nil {
		return result, errors.Trace(err)
	}

	// The checksum is recorded only once the configuration has been
	// fully applied; a crash before this point re-applies on the next
	// pass, which is harmless because every step above is idempotent.
	if configChanged {
		if err := d.config.State.SetAppliedChecksum(sum); err != nil {
			return result, errors.Annotate(err, "recording applied configuration")
		}
		result.ConfigApplied = true
	}
	return result, nil
}

// Running reports whether the workload service is active.
func (d *Driver) Running() (bool, error) {
	running, err := d.config.Container.Running(ServiceName)
	return running, errors.Trace(err)
}

// WorkloadVersion returns the version the workload image reports about
// itself. Images that ship no version file yield an empty version.
func (d *Driver) WorkloadVersion() (string, error) {
	data, err := d.config.Container.Pull(VersionFilePath)
	if errors.Is(err, errors.NotFound) {
		return "", nil
	} else if err != nil {
		return "", errors.Trace(err)
	}
	return strings.TrimSpace(string(data)), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
