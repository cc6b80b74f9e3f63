// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/unitpki"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/workload"
)

type TLSStoreSuite struct {
	testing.IsolationSuite

	container *fakeContainer
	store     *workload.TLSStore
}

var _ = gc.Suite(&TLSStoreSuite{})

func (s *TLSStoreSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.container = newFakeContainer()
	s.store = workload.NewTLSStore(s.container)
}

func (s *TLSStoreSuite) TestGetMissing(c *gc.C) {
	_, err := s.store.Get(unitpki.PrivateKeyName)
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *TLSStoreSuite) TestRoundTrip(c *gc.C) {
	err := s.store.Put(unitpki.PrivateKeyName, []byte("KEY"))
	c.Assert(err, jc.ErrorIsNil)

	data, err := s.store.Get(unitpki.PrivateKeyName)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(data, jc.DeepEquals, []byte("KEY"))

	// Material lives at the hardcoded workload path.
	c.Check(s.container.files["/support/TLS/amf.key"], jc.DeepEquals, []byte("KEY"))
}

func (s *TLSStoreSuite) TestDelete(c *gc.C) {
	err := s.store.Put(unitpki.CertificateName, []byte("CERT"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.store.Delete(unitpki.CertificateName), jc.ErrorIsNil)
	_, err = s.store.Get(unitpki.CertificateName)
	c.Check(err, jc.ErrorIs, errors.NotFound)

	// Deleting absent material is not an error.
	c.Check(s.store.Delete(unitpki.CertificateName), jc.ErrorIsNil)
}
