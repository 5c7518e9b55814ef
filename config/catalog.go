package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/reward"
)

// Catalog is the optional class catalogue: point-item presets and the
// rewards a new class starts with.
//
//	[[items]]
//	id = "homework"
//	name = "Homework done"
//	category = "academic"
//	points = 2
//	direction = "credit"
//
//	[[rewards]]
//	name = "Sticker"
//	cost = 5
//	stock = 20
type Catalog struct {
	Items   []points.Item  `toml:"items" yaml:"items"`
	Rewards []reward.Input `toml:"rewards" yaml:"rewards"`
}

// LoadCatalog reads a catalogue file. The format follows the extension:
// .toml, or .yaml/.yml. An empty path yields an empty catalogue.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	cat, err := ParseCatalog(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog decodes data in the format named by ext and validates it.
func ParseCatalog(data []byte, ext string) (*Catalog, error) {
	var cat Catalog
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&cat)
		if err != nil {
			return nil, fmt.Errorf("failed to parse toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown catalog keys: %v", undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cat); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks every item and reward.
func (c *Catalog) Validate() error {
	if _, err := c.ItemSet(); err != nil {
		return err
	}
	for i, r := range c.Rewards {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("reward %d (%q): %w", i+1, r.Name, err)
		}
	}
	return nil
}

// ItemSet indexes the presets by id.
func (c *Catalog) ItemSet() (points.ItemSet, error) {
	return points.NewItemSet(c.Items)
}
