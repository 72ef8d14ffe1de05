package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a profile override file.
type File struct {
	Sources []Profile `yaml:"sources"`
}

// LoadFile reads profile overrides from a YAML file.
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read profiles file")
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: parse profiles file")
	}
	for i, p := range f.Sources {
		if p.ID == "" {
			return nil, eris.Errorf("registry: profile %d has no id", i)
		}
	}
	return f.Sources, nil
}

// Load returns the built-in registry with overrides from path applied. An
// empty path yields the built-ins. When enabled is non-empty the registry
// is restricted to those sources.
func Load(path string, enabled []string) (*Registry, error) {
	r := Default()
	if path != "" {
		overrides, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if r, err = r.Merge(overrides); err != nil {
			return nil, err
		}
	}
	return r.filterNames(enabled)
}
