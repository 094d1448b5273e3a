// Package catalog loads the base model catalog from models.yaml, the same
// file the trainer backend uses to resolve download sources.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Entry describes one downloadable base model.
type Entry struct {
	Name string `yaml:"name"`
	Repo string `yaml:"repo"`
	File string `yaml:"file"`
}

// Catalog maps model keys (e.g. "flux-dev") to their hub locations.
type Catalog map[string]Entry

// Load reads and parses a models.yaml file.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	return c, nil
}

// Keys returns the model keys in sorted order.
func (c Catalog) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
