// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relation

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v3"
)

// DirStore is a Store and Publisher backed by one YAML document per
// relation in a directory. The platform shim replicates remote databags
// into <dir>/<relation>.yaml before dispatching an event, and picks up
// <dir>/<relation>-local.yaml to push this unit's own data outward.
type DirStore struct {
	dir string
}

// NewDirStore returns a DirStore rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Databag implements Store.
func (s *DirStore) Databag(relation string) (map[string]string, bool) {
	data, err := os.ReadFile(filepath.Join(s.dir, relation+".yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warningf("reading cached databag for %q: %v", relation, err)
		}
		return nil, false
	}
	var bag map[string]string
	if err := yaml.Unmarshal(data, &bag); err != nil {
		logger.Warningf("parsing cached databag for %q: %v", relation, err)
		return nil, false
	}
	if bag == nil {
		bag = map[string]string{}
	}
	return bag, true
}

// Publish implements Publisher. The document is replaced wholesale so a
// crash mid-write cannot leave a torn databag for the shim to read.
func (s *DirStore) Publish(relation string, values map[string]string) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return errors.Trace(err)
	}
	path := filepath.Join(s.dir, relation+"-local.yaml")
	if err := utils.AtomicWriteFile(path, data, 0600); err != nil {
		return errors.Annotatef(err, "writing local databag for %q", relation)
	}
	return nil
}
