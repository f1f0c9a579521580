package flights

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entities maps airport codes to provider entity IDs.
type Entities struct {
	ids map[string]string
}

// DefaultEntities returns the built-in table of known airports.
func DefaultEntities() *Entities {
	return NewEntities(map[string]string{
		"IAD": "29475437", // Washington Dulles
		"BLR": "29475359", // Bengaluru
		"JFK": "29475432", // New York JFK
		"LHR": "29475430", // London Heathrow
		"DXB": "29475431", // Dubai
	})
}

// NewEntities builds a table from a code -> entity ID map.
func NewEntities(ids map[string]string) *Entities {
	e := &Entities{ids: make(map[string]string, len(ids))}
	for code, id := range ids {
		e.ids[strings.ToUpper(strings.TrimSpace(code))] = id
	}
	return e
}

// LoadEntities reads a YAML file with a top-level "entities" map and
// layers it over the built-in table.
func LoadEntities(path string) (*Entities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity table %s: %w", path, err)
	}

	var wrapper struct {
		Entities map[string]string `yaml:"entities"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse entity table: %w", err)
	}

	e := DefaultEntities()
	for code, id := range wrapper.Entities {
		e.ids[strings.ToUpper(strings.TrimSpace(code))] = id
	}
	return e, nil
}

// Resolve returns the entity ID for code, or code itself when unknown.
func (e *Entities) Resolve(code string) (id string, known bool) {
	id, known = e.ids[strings.ToUpper(strings.TrimSpace(code))]
	if !known {
		return code, false
	}
	return id, true
}

// Len returns the number of known codes.
func (e *Entities) Len() int {
	return len(e.ids)
}
