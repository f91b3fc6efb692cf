package provider

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/emirozbir/alertflow/internal/apperr"
)

// Fixture is a sample alert payload used to simulate a provider.
type Fixture struct {
	Payload    map[string]any `yaml:"payload" json:"payload"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Fixtures maps a fixture name to its payload.
type Fixtures map[string]Fixture

// LoadFixtures parses a YAML fixture table.
func LoadFixtures(data []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	for name, fixture := range f {
		if len(fixture.Payload) == 0 {
			return nil, fmt.Errorf("fixture %s has no payload", name)
		}
	}
	return f, nil
}

// MustLoadFixtures is LoadFixtures for embedded tables.
func MustLoadFixtures(data []byte) Fixtures {
	f, err := LoadFixtures(data)
	if err != nil {
		panic(err)
	}
	return f
}

// Names returns the fixture names, sorted.
func (f Fixtures) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SimulateAlert returns a copy of a randomly chosen fixture payload of
// providerType.
func SimulateAlert(providerType string) (map[string]any, error) {
	reg, err := Lookup(providerType)
	if err != nil {
		return nil, err
	}
	if len(reg.Fixtures) == 0 {
		return nil, apperr.New(apperr.CodeNoFixtures, fmt.Sprintf("provider %s has no alert fixtures", reg.Type), nil)
	}
	names := reg.Fixtures.Names()
	picked := reg.Fixtures[names[rand.IntN(len(names))]]
	return maps.Clone(picked.Payload), nil
}
