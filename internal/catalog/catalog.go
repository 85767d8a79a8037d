// Package catalog holds the static weighted list of spawnable creature
// variants. It is loaded once at startup and immutable at runtime.
package catalog

import (
	"embed"
	"fmt"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

//go:embed data/creatures.yaml
var dataFS embed.FS

// Variant is one entry of the catalog.
type Variant struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Weight int    `json:"weight" yaml:"weight"`
	Rarity string `json:"rarity" yaml:"rarity"`
	Image  string `json:"image" yaml:"image"`
}

// Catalog is an immutable weighted variant list.
type Catalog struct {
	variants []Variant
	byID     map[string]int
	total    int
}

type fileSchema struct {
	Creatures []Variant `yaml:"creatures"`
}

// Load reads the embedded catalog file.
func Load() (*Catalog, error) {
	b, err := dataFS.ReadFile("data/creatures.yaml")
	if err != nil {
		return nil, err
	}
	var f fileSchema
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return New(f.Creatures)
}

// New validates and builds a catalog from variants.
func New(variants []Variant) (*Catalog, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("catalog: no variants")
	}
	c := &Catalog{byID: make(map[string]int, len(variants))}
	for i, v := range variants {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog: variant %d has empty id", i)
		}
		if v.Weight <= 0 {
			return nil, fmt.Errorf("catalog: variant %q has non-positive weight %d", id, v.Weight)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate variant id %q", id)
		}
		v.ID = id
		c.byID[id] = i
		c.variants = append(c.variants, v)
		c.total += v.Weight
	}
	return c, nil
}

// Get returns the variant with the given id.
func (c *Catalog) Get(id string) (Variant, bool) {
	i, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Variant{}, false
	}
	return c.variants[i], true
}

// All returns a copy of the variant list.
func (c *Catalog) All() []Variant {
	out := make([]Variant, len(c.variants))
	copy(out, c.variants)
	return out
}

// TotalWeight is the sum of all variant weights.
func (c *Catalog) TotalWeight() int { return c.total }

// Pick samples one variant proportionally to its weight. randInt must return
// a uniform value in [0, n).
func (c *Catalog) Pick(randInt func(n int) int) Variant {
	r := randInt(c.total)
	for _, v := range c.variants {
		r -= v.Weight
		if r < 0 {
			return v
		}
	}
	// Unreachable for a well-behaved randInt; fall back to the last entry.
	return c.variants[len(c.variants)-1]
}
