package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rookboom/rookboom/internal/filter"
)

// Site is one office location the schedule service knows.
type Site struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// TimezoneOffset is minutes east of UTC.
	TimezoneOffset int `yaml:"timezone_offset" json:"timezone_offset"`
}

// Catalogue is the static site and filter configuration.
type Catalogue struct {
	// Domain is the attendee e-mail domain hidden in the fragment.
	Domain  string              `yaml:"domain" json:"domain"`
	Default string              `yaml:"default" json:"default"`
	Sites   []Site              `yaml:"sites" json:"sites"`
	Filters []filter.Descriptor `yaml:"filters" json:"filters"`
}

// DefaultCatalogue returns the built-in catalogue used when no sites file
// exists.
func DefaultCatalogue() *Catalogue {
	return &Catalogue{
		Domain:  "example.com",
		Default: "SF",
		Sites: []Site{
			{ID: "SF", Name: "San Francisco", TimezoneOffset: -480},
			{ID: "NY", Name: "New York", TimezoneOffset: -300},
			{ID: "LON", Name: "London", TimezoneOffset: 0},
		},
		Filters: []filter.Descriptor{
			{ID: "capacity", Kind: filter.KindRange, Field: "capacity", Range: []filter.Bucket{
				{Label: "1-4", Low: 1, High: 5},
				{Label: "5-10", Low: 5, High: 11},
				{Label: "11+", Low: 11, High: 1000},
			}},
			{ID: "floor", Kind: filter.KindValue, Field: "floor"},
			{ID: "equipment", Kind: filter.KindBinary, Labels: []filter.Label{
				{Field: "video", Label: "Video"},
				{Field: "phone", Label: "Phone"},
				{Field: "whiteboard", Label: "Whiteboard"},
			}},
		},
	}
}

// LoadCatalogue reads the YAML catalogue at path. A missing file yields the
// built-in catalogue; an unreadable or invalid one is an error.
func LoadCatalogue(path string) (*Catalogue, error) {
	if path == "" {
		return DefaultCatalogue(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultCatalogue(), nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// Validate checks that site ids are unique and the default site exists.
func (c *Catalogue) Validate() error {
	if len(c.Sites) == 0 {
		return errors.New("no sites configured")
	}
	seen := map[string]bool{}
	for _, s := range c.Sites {
		if s.ID == "" {
			return errors.New("site with empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate site %q", s.ID)
		}
		seen[s.ID] = true
	}
	if c.Default == "" {
		c.Default = c.Sites[0].ID
	}
	if !seen[c.Default] {
		return fmt.Errorf("default site %q is not configured", c.Default)
	}
	return nil
}

// Site returns the site with the given id.
func (c *Catalogue) Site(id string) (Site, bool) {
	for _, s := range c.Sites {
		if s.ID == id {
			return s, true
		}
	}
	return Site{}, false
}

// Resolve returns id when it names a known site, else the default site.
func (c *Catalogue) Resolve(id string) string {
	if _, ok := c.Site(id); ok {
		return id
	}
	return c.Default
}

// Offset returns the timezone offset of a site, falling back to the default
// site for unknown ids.
func (c *Catalogue) Offset(id string) int {
	s, _ := c.Site(c.Resolve(id))
	return s.TimezoneOffset
}

// Engine builds the filter engine for the configured descriptors.
func (c *Catalogue) Engine() (*filter.Engine, error) {
	e, err := filter.NewEngine(c.Filters)
	if err != nil {
		return nil, fmt.Errorf("filters: %w", err)
	}
	return e, nil
}

// WriteCatalogue serialises c to path as YAML, creating parent directories.
func WriteCatalogue(path string, c *Catalogue) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding catalogue: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
