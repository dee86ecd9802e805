// Package crisis holds the catalog of crises a ruler may face.
package crisis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Option counts a crisis may offer.
const (
	MinOptions = 2
	MaxOptions = 3
)

// Crisis is an immutable description plus its ordered policy options.
type Crisis struct {
	Description string   `json:"description" yaml:"description"`
	Options     []string `json:"options" yaml:"options"`
}

// OptionLabel returns the letter for option i ("A", "B", ...).
func OptionLabel(i int) string {
	return string(rune('A' + i))
}

// Validate checks the option count and that no text is blank.
func (c Crisis) Validate() error {
	if c.Description == "" {
		return fmt.Errorf("crisis has no description")
	}
	if len(c.Options) < MinOptions || len(c.Options) > MaxOptions {
		return fmt.Errorf("crisis %q: %d options, want %d-%d", c.Description, len(c.Options), MinOptions, MaxOptions)
	}
	for i, o := range c.Options {
		if o == "" {
			return fmt.Errorf("crisis %q: option %s is empty", c.Description, OptionLabel(i))
		}
	}
	return nil
}

// Rand is the randomness the catalog draw needs.
type Rand interface {
	IntN(n int) int
}

// Catalog is a fixed list of crises drawn uniformly with replacement.
type Catalog struct {
	crises []Crisis
}

// NewCatalog validates and wraps a crisis list.
func NewCatalog(crises []Crisis) (*Catalog, error) {
	if len(crises) == 0 {
		return nil, fmt.Errorf("crisis catalog is empty")
	}
	for _, c := range crises {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	out := make([]Crisis, len(crises))
	for i, c := range crises {
		out[i] = Crisis{Description: c.Description, Options: append([]string(nil), c.Options...)}
	}
	return &Catalog{crises: out}, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	cat, err := NewCatalog(builtin)
	if err != nil {
		panic(err)
	}
	return cat
}

// LoadYAML reads a catalog file of the form:
//
//	crises:
//	  - description: "..."
//	    options: ["...", "...", "..."]
func LoadYAML(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc struct {
		Crises []Crisis `yaml:"crises"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return NewCatalog(doc.Crises)
}

// Len returns the number of crises in the catalog.
func (c *Catalog) Len() int {
	return len(c.crises)
}

// Draw picks a crisis uniformly at random. The returned value is a copy.
func (c *Catalog) Draw(rng Rand) Crisis {
	picked := c.crises[rng.IntN(len(c.crises))]
	return Crisis{Description: picked.Description, Options: append([]string(nil), picked.Options...)}
}

var builtin = []Crisis{
	{"A deadly illness is spreading through the countryside.", []string{
		"Close regional borders",
		"Invest in herbal cures",
		"Hold a national prayer day",
	}},
	{"Border raiders threaten a frontier village.", []string{
		"Mobilise army units",
		"Pay the raiders off",
		"Ignore the threat",
	}},
	{"Food supplies are running low after poor harvests.", []string{
		"Import grain",
		"Ration food supplies",
		"Subsidise local farmers",
	}},
	{"A great fire has broken out in the capital city.", []string{
		"Deploy firefighters and resources",
		"Evacuate affected districts",
		"Let the fire burn to clear old buildings",
	}},
	{"A powerful noble is plotting rebellion.", []string{
		"Negotiate with the noble",
		"Arrest the conspirators",
		"Grant concessions to appease them",
	}},
	{"A severe drought threatens water supplies.", []string{
		"Build new wells and reservoirs",
		"Impose water usage restrictions",
		"Pray for rain",
	}},
	{"A mysterious cult is gaining followers.", []string{
		"Investigate the cult's activities",
		"Ban all cult gatherings",
		"Ignore them as harmless",
	}},
	{"A neighboring kingdom demands tribute.", []string{
		"Pay the tribute",
		"Refuse and prepare for war",
		"Send diplomats to negotiate",
	}},
	{"A plague of locusts devastates crops.", []string{
		"Organise pest control efforts",
		"Import emergency food supplies",
		"Appeal to neighboring realms for aid",
	}},
}
