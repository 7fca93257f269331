package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/0x6d61/warden/internal/params"
)

// Manifest declares one plugin unit in a plugins directory.
//
// Example:
//
//	name: nginx-staging
//	factory: nginx
//	capabilities: [staging]
//	config:
//	  config_path: /srv/staging/nginx.conf
type Manifest struct {
	Name         string        `yaml:"name"`
	Factory      string        `yaml:"factory"`
	Description  string        `yaml:"description,omitempty"`
	Enabled      *bool         `yaml:"enabled,omitempty"`
	Capabilities []string      `yaml:"capabilities,omitempty"`
	Config       params.Params `yaml:"config,omitempty"`
}

// IsEnabled reports whether the manifest is enabled. Absent means true.
func (m *Manifest) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// ParseManifest decodes a YAML manifest. Unknown fields are errors.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty manifest")
		}
		return nil, err
	}
	m.Factory = strings.ToLower(strings.TrimSpace(m.Factory))
	m.Name = strings.TrimSpace(m.Name)
	if m.Factory == "" {
		return nil, fmt.Errorf("manifest has no factory")
	}
	return &m, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}
