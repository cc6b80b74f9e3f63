// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package unitstate persists the small amount of durable metadata the
// unit controller owns outside the workload filesystem: the checksum of
// the last applied configuration document and the most recently
// reported status. Both live in the unit's own metadata directory, not
// in the workload's storage.
package unitstate

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v3"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/corestatus"
)

// Store records the applied configuration checksum and the workload's
// reported version across passes.
type Store interface {
	// AppliedChecksum returns the checksum of the configuration last
	// applied to the workload, or a NotFound error if none has been
	// applied yet.
	AppliedChecksum() (string, error)

	// SetAppliedChecksum records the checksum of a configuration that
	// has been fully applied.
	SetAppliedChecksum(sum string) error

	// ClearAppliedChecksum forgets the applied configuration, used on
	// unit teardown.
	ClearAppliedChecksum() error

	// SetWorkloadVersion records the version the workload reports
	// about itself, for the platform to surface.
	SetWorkloadVersion(version string) error
}

type stateDoc struct {
	AppliedChecksum string `yaml:"applied-checksum,omitempty"`
	WorkloadVersion string `yaml:"workload-version,omitempty"`
}

type statusDoc struct {
	Status  string `yaml:"status"`
	Message string `yaml:"message,omitempty"`
	Since   string `yaml:"since,omitempty"`
}

// FileStore is a Store and corestatus.StatusSetter backed by YAML
// documents in a directory. Writes are atomic so a crash mid-pass can
// never leave a torn document behind.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) statePath() string {
	return filepath.Join(s.dir, "state.yaml")
}

func (s *FileStore) statusPath() string {
	return filepath.Join(s.dir, "status.yaml")
}

// AppliedChecksum implements Store.
func (s *FileStore) AppliedChecksum() (string, error) {
	doc, err := s.readState()
	if err != nil {
		return "", errors.Trace(err)
	}
	if doc.AppliedChecksum == "" {
		return "", errors.NotFoundf("applied configuration checksum")
	}
	return doc.AppliedChecksum, nil
}

// SetAppliedChecksum implements Store.
func (s *FileStore) SetAppliedChecksum(sum string) error {
	return errors.Trace(s.updateState(func(doc *stateDoc) {
		doc.AppliedChecksum = sum
	}))
}

// ClearAppliedChecksum implements Store.
func (s *FileStore) ClearAppliedChecksum() error {
	return errors.Trace(s.updateState(func(doc *stateDoc) {
		doc.AppliedChecksum = ""
	}))
}

// SetWorkloadVersion implements Store.
func (s *FileStore) SetWorkloadVersion(version string) error {
	return errors.Trace(s.updateState(func(doc *stateDoc) {
		doc.WorkloadVersion = version
	}))
}

// SetStatus implements corestatus.StatusSetter, recording the unit's
// reported status for the platform to surface.
func (s *FileStore) SetStatus(info corestatus.StatusInfo) error {
	doc := statusDoc{
		Status:  info.Status.String(),
		Message: info.Message,
	}
	if info.Since != nil {
		doc.Since = info.Since.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(utils.AtomicWriteFile(s.statusPath(), data, 0600))
}

func (s *FileStore) readState() (stateDoc, error) {
	var doc stateDoc
	data, err := os.ReadFile(s.statePath())
	if os.IsNotExist(err) {
		return doc, nil
	} else if err != nil {
		return doc, errors.Annotate(err, "reading unit state")
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, errors.Annotate(err, "parsing unit state")
	}
	return doc, nil
}

func (s *FileStore) updateState(mutate func(*stateDoc)) error {
	doc, err := s.readState()
	if err != nil {
		return errors.Trace(err)
	}
	mutate(&doc)
	return errors.Trace(s.writeState(doc))
}

func (s *FileStore) writeState(doc stateDoc) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(s.statePath(), data, 0600); err != nil {
		return errors.Annotate(err, "writing unit state")
	}
	return nil
}
