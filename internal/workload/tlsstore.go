// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"path"

	"github.com/juju/errors"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/amfconfig"
)

// TLSStore exposes the workload's TLS material directory as a
// unitpki.Store. The AMF reads its key and certificate from hardcoded
// paths under /support/TLS, so that is where the material lives.
type TLSStore struct {
	container Container
}

// NewTLSStore returns a TLSStore over the given container.
func NewTLSStore(container Container) *TLSStore {
	return &TLSStore{container: container}
}

func (s *TLSStore) path(name string) string {
	return path.Join(amfconfig.CertsDirPath, name)
}

// Get returns the named artifact, or a NotFound error.
func (s *TLSStore) Get(name string) ([]byte, error) {
	target := s.path(name)
	exists, err := s.container.Exists(target)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !exists {
		return nil, errors.NotFoundf("TLS artifact %q", name)
	}
	data, err := s.container.Pull(target)
	return data, errors.Trace(err)
}

// Put stores the named artifact.
func (s *TLSStore) Put(name string, data []byte) error {
	return errors.Trace(s.container.Push(s.path(name), data))
}

// Delete removes the named artifact; removing an absent artifact is
// not an error.
func (s *TLSStore) Delete(name string) error {
	return errors.Trace(s.container.Remove(s.path(name)))
}
