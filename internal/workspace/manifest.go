package workspace

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/sakif/tsbox/internal/apperror"
	"github.com/sakif/tsbox/internal/model"
)

// Manifest is the subset of package.json the sandbox reads and writes.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description,omitempty"`
	Scripts      map[string]string `json:"scripts,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

// ReadManifest loads the workspace package.json. A missing file yields a
// fresh manifest.
func ReadManifest(s *model.Session) (*Manifest, error) {
	path := s.Path(model.ManifestFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Manifest{
			Name:         "ts-test-sandbox",
			Version:      "1.0.0",
			Dependencies: map[string]string{},
		}, nil
	}
	if err != nil {
		return nil, apperror.Filesystem("read", path, err)
	}

	var mf Manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, apperror.Filesystem("parse", path, err)
	}
	if mf.Dependencies == nil {
		mf.Dependencies = map[string]string{}
	}
	return &mf, nil
}

// WriteManifest replaces the workspace package.json.
func WriteManifest(s *model.Session, mf *Manifest) error {
	return writeJSON(s.Path(model.ManifestFile), mf)
}
