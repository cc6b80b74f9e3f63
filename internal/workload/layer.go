// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"reflect"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/amfconfig"
)

const layerLabel = "amf"

// Layer mirrors the subset of the Pebble layer schema the driver
// manages. Pebble's own plan types are internal to it, so the layer is
// rendered here and shipped as YAML.
type Layer struct {
	Summary    string               `yaml:"summary,omitempty"`
	Services   map[string]Service   `yaml:"services"`
	LogTargets map[string]LogTarget `yaml:"log-targets,omitempty"`
}

// Service is one Pebble service definition.
type Service struct {
	Override    string            `yaml:"override"`
	Command     string            `yaml:"command"`
	Startup     string            `yaml:"startup"`
	Environment map[string]string `yaml:"environment,omitempty"`
}

// LogTarget forwards workload logs to an external sink.
type LogTarget struct {
	Override string   `yaml:"override"`
	Type     string   `yaml:"type"`
	Location string   `yaml:"location"`
	Services []string `yaml:"services"`
}

// desiredLayer builds the service layer for the current desired state.
func desiredLayer(podIP, loggingURL string) Layer {
	layer := Layer{
		Summary: "AMF layer",
		Services: map[string]Service{
			ServiceName: {
				Override: "replace",
				Command:  "/bin/amf --amfcfg " + amfconfig.ConfigPath,
				Startup:  "enabled",
				Environment: map[string]string{
					"GOTRACEBACK":                 "crash",
					"GRPC_GO_LOG_VERBOSITY_LEVEL": "99",
					"GRPC_GO_LOG_SEVERITY_LEVEL":  "info",
					"GRPC_TRACE":                  "all",
					"GRPC_VERBOSITY":              "DEBUG",
					"POD_IP":                      podIP,
					"MANAGED_BY_CONFIG_POD":       "true",
				},
			},
		},
	}
	if loggingURL != "" {
		layer.LogTargets = map[string]LogTarget{
			"amf-logs": {
				Override: "replace",
				Type:     "loki",
				Location: loggingURL,
				Services: []string{"all"},
			},
		}
	}
	return layer
}

// layerChanged reports whether the combined plan differs from the
// desired layer for the parts this driver manages.
func layerChanged(container Container, desired Layer) (bool, error) {
	data, err := container.Plan()
	if err != nil {
		return false, errors.Trace(err)
	}
	var current Layer
	if err := yaml.Unmarshal(data, &current); err != nil {
		logger.Warningf("unparseable plan, forcing layer update: %v", err)
		return true, nil
	}
	if !reflect.DeepEqual(current.Services[ServiceName], desired.Services[ServiceName]) {
		return true, nil
	}
	return !reflect.DeepEqual(current.LogTargets, desired.LogTargets), nil
}
