package match

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/wxyc/discogs-cache/internal/catalog"
	"github.com/wxyc/discogs-cache/internal/config"
)

// Mappings are operator decisions for artists the matcher cannot settle:
// releases credited to a keep artist are always kept, prune artists always
// pruned.
type Mappings struct {
	Keep  []string `yaml:"keep"`
	Prune []string `yaml:"prune"`
}

// LoadMappings reads a YAML mappings file. An empty path yields no mappings.
func LoadMappings(path string) (*Mappings, error) {
	if path == "" {
		return &Mappings{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(config.ErrInvalid, "match: read mappings %s: %v", path, err)
	}
	var m Mappings
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(config.ErrInvalid, "match: parse mappings %s: %v", path, err)
	}
	return &m, nil
}

// normalized returns the keep and prune sets keyed by normalized name. A
// name on both lists is a configuration error.
func (m *Mappings) normalized() (keep, prune map[string]bool, err error) {
	keep, prune = map[string]bool{}, map[string]bool{}
	if m == nil {
		return keep, prune, nil
	}
	for _, n := range m.Keep {
		if k := catalog.NormalizeName(n); k != "" {
			keep[k] = true
		}
	}
	for _, n := range m.Prune {
		k := catalog.NormalizeName(n)
		if k == "" {
			continue
		}
		if keep[k] {
			return nil, nil, eris.Wrapf(config.ErrInvalid, "match: artist %q is mapped to both keep and prune", n)
		}
		prune[k] = true
	}
	return keep, prune, nil
}
