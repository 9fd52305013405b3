package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/tripwise/gatekeeper/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// fileEntry pairs a registry key with its config document.
type fileEntry struct {
	Key    string           `yaml:"key"`
	Config ratelimit.Config `yaml:",inline"`
}

// rulesFile maps the YAML layout of a rules file.
type rulesFile struct {
	Configs []fileEntry `yaml:"configs"`
}

// LoadFile reads a rules YAML file and installs every config it contains.
// The whole file is validated before any config is installed, so a bad file
// never half-applies.
func (r *Registry) LoadFile(path string) error {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return fmt.Errorf("registry: read rules file: %w", errRead)
	}

	var file rulesFile
	if errUnmarshal := yaml.Unmarshal(data, &file); errUnmarshal != nil {
		return fmt.Errorf("registry: parse rules file: %w", errUnmarshal)
	}
	if len(file.Configs) == 0 {
		return fmt.Errorf("registry: rules file %q has no configs", path)
	}

	for i := range file.Configs {
		entry := &file.Configs[i]
		if strings.TrimSpace(entry.Key) == "" {
			entry.Key = entry.Config.ID
		}
		if strings.TrimSpace(entry.Key) == "" {
			return fmt.Errorf("registry: rules file %q: config %d has no key", path, i)
		}
		if errValidate := entry.Config.Validate(); errValidate != nil {
			return fmt.Errorf("registry: rules file %q: %w", path, errValidate)
		}
	}

	for i := range file.Configs {
		entry := &file.Configs[i]
		cfg := entry.Config
		if errLoad := r.Load(entry.Key, &cfg); errLoad != nil {
			return errLoad
		}
	}
	return nil
}
