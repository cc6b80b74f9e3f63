// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workload converges the AMF workload onto a computed desired
// configuration: it pushes configuration and TLS material into the
// workload filesystem and starts or restarts the workload process only
// when the applied content actually changed.
package workload

import (
	"bytes"
	"os"
	"strings"

	"github.com/canonical/pebble/client"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("sdcore-amf.workload")

// ServiceName is the Pebble service running the AMF process.
const ServiceName = "amf"

// VersionFilePath is where the workload image records its version.
const VersionFilePath = "/etc/workload-version"

// Container abstracts the Pebble API surface the driver needs. All
// operations are idempotent from the driver's point of view.
type Container interface {
	// CanConnect reports whether the workload's Pebble socket is up.
	CanConnect() bool

	// Exists reports whether a path exists in the workload filesystem.
	Exists(path string) (bool, error)

	// Pull reads a file from the workload filesystem.
	Pull(path string) ([]byte, error)

	// Push writes a file into the workload filesystem. The write is
	// published atomically: a partially written file is never visible
	// at the destination path.
	Push(path string, data []byte) error

	// Remove deletes a path from the workload filesystem.
	Remove(path string) error

	// AddLayer adds or combines a configuration layer.
	AddLayer(label string, layerData []byte) error

	// Plan returns the combined plan as YAML.
	Plan() ([]byte, error)

	// Restart restarts the named service.
	Restart(service string) error

	// Replan starts any services the plan expects to be running.
	Replan() error

	// Running reports whether the named service is active.
	Running(service string) (bool, error)
}

// PebbleContainer is a Container backed by the workload's Pebble
// daemon.
type PebbleContainer struct {
	client *client.Client
}

// NewPebbleContainer connects a Container to the Pebble socket at
// socketPath.
func NewPebbleContainer(socketPath string) (*PebbleContainer, error) {
	pebble, err := client.New(&client.Config{Socket: socketPath})
	if err != nil {
		return nil, errors.Annotate(err, "creating pebble client")
	}
	return &PebbleContainer{client: pebble}, nil
}

// CanConnect implements Container.
func (c *PebbleContainer) CanConnect() bool {
	_, err := c.client.SysInfo()
	return err == nil
}

// Exists implements Container.
func (c *PebbleContainer) Exists(path string) (bool, error) {
	files, err := c.client.ListFiles(&client.ListFilesOptions{Path: path, Itself: true})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errors.Trace(err)
	}
	return len(files) > 0, nil
}

// Pull implements Container.
func (c *PebbleContainer) Pull(path string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.client.Pull(&client.PullOptions{Path: path, Target: &buf})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.NotFoundf("workload file %q", path)
		}
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

// Push implements Container.
func (c *PebbleContainer) Push(path string, data []byte) error {
	err := c.client.Push(&client.PushOptions{
		Source:      bytes.NewReader(data),
		Path:        path,
		MakeDirs:    true,
		Permissions: os.FileMode(0o644),
	})
	return errors.Annotatef(err, "pushing %q", path)
}

// Remove implements Container.
func (c *PebbleContainer) Remove(path string) error {
	err := c.client.RemovePath(&client.RemovePathOptions{Path: path})
	if err != nil && !isNotFound(err) {
		return errors.Annotatef(err, "removing %q", path)
	}
	return nil
}

// AddLayer implements Container.
func (c *PebbleContainer) AddLayer(label string, layerData []byte) error {
	err := c.client.AddLayer(&client.AddLayerOptions{
		Combine:   true,
		Label:     label,
		LayerData: layerData,
	})
	return errors.Annotate(err, "adding layer")
}

// Plan implements Container.
func (c *PebbleContainer) Plan() ([]byte, error) {
	data, err := c.client.PlanBytes(&client.PlanOptions{})
	return data, errors.Annotate(err, "fetching plan")
}

// Restart implements Container.
func (c *PebbleContainer) Restart(service string) error {
	changeID, err := c.client.Restart(&client.ServiceOptions{Names: []string{service}})
	if err != nil {
		return errors.Annotatef(err, "restarting %q", service)
	}
	logger.Debugf("restart of %q submitted as change %s", service, changeID)
	return nil
}

// Replan implements Container.
func (c *PebbleContainer) Replan() error {
	changeID, err := c.client.Replan(&client.ServiceOptions{})
	if err != nil {
		return errors.Annotate(err, "replanning services")
	}
	logger.Debugf("replan submitted as change %s", changeID)
	return nil
}

// Running implements Container.
func (c *PebbleContainer) Running(service string) (bool, error) {
	infos, err := c.client.Services(&client.ServicesOptions{Names: []string{service}})
	if err != nil {
		return false, errors.Trace(err)
	}
	return len(infos) == 1 && infos[0].Current == client.StatusActive, nil
}

func isNotFound(err error) bool {
	var clientErr *client.Error
	if errors.As(err, &clientErr) && clientErr.Kind == "not-found" {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no such file") || strings.Contains(msg, "not found")
}
