// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charmconfig

import (
	"os"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// FileSource reads static configuration attributes from a YAML document
// maintained by the hosting platform. A missing file means no options
// have been set and every option takes its default.
type FileSource struct {
	path string
}

// NewFileSource returns a Source backed by the YAML document at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Current implements Source.
func (s *FileSource) Current() (map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	} else if err != nil {
		return nil, errors.Annotate(err, "reading configuration")
	}
	var attrs map[string]any
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Annotate(err, "parsing configuration")
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}
