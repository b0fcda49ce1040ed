// Package config handles loading and resolving rookboom configuration.
// Resolution order (first non-empty value wins):
//  1. CLI flags --base-url, --db, --principal, --sites
//  2. Environment variables ROOKBOOM_BASE_URL, ROOKBOOM_DB_PATH, ROOKBOOM_PRINCIPAL
//  3. config.json in the current working directory
//
// The site catalogue (sites, default site, filter descriptors, attendee
// domain) lives in a separate YAML file; see Catalogue.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultConfigFile = "config.json"
	DefaultSitesFile  = "sites.yaml"
	DefaultFormat     = "table"
	DefaultTimeout    = 30 * time.Second
	DefaultRate       = 5.0
	DefaultBaseURL    = "http://localhost:8080/"
	EnvBaseURL        = "ROOKBOOM_BASE_URL"
	EnvDBPath         = "ROOKBOOM_DB_PATH"
	EnvPrincipal      = "ROOKBOOM_PRINCIPAL"
)

// File is the on-disk representation of config.json.
type File struct {
	BaseURL       string  `json:"base_url"`
	Principal     string  `json:"principal"`
	DefaultFormat string  `json:"default_format"`
	Timeout       string  `json:"timeout"`
	Rate          float64 `json:"rate"`
	DBPath        string  `json:"db_path"`
	SitesFile     string  `json:"sites_file"`
}

// Flags carries the CLI overrides; empty fields do not override.
type Flags struct {
	BaseURL   string
	DBPath    string
	Principal string
	SitesFile string
}

// Config is the fully-resolved runtime configuration.
type Config struct {
	BaseURL    string
	Principal  string
	Format     string
	Timeout    time.Duration
	Rate       float64
	DBPath     string
	SitesFile  string
	ConfigPath string // path of the config.json that was loaded (empty if none found)

	Sites *Catalogue

	// Runtime overrides set from CLI flags after Load()
	Quiet   bool
	Verbose bool
	Debug   bool
}

// Load resolves configuration from all sources and loads the site catalogue.
func Load(flags Flags) (*Config, error) {
	cfg := &Config{
		BaseURL:   DefaultBaseURL,
		Format:    DefaultFormat,
		Timeout:   DefaultTimeout,
		Rate:      DefaultRate,
		SitesFile: DefaultSitesFile,
	}

	// Layer 1: config.json (lowest priority)
	if f, path, err := loadFile(); err == nil {
		applyFile(cfg, f, path)
	}

	// Layer 2: environment
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrincipal); v != "" {
		cfg.Principal = v
	}

	// Layer 3: CLI flags (highest priority)
	if flags.BaseURL != "" {
		cfg.BaseURL = flags.BaseURL
	}
	if flags.DBPath != "" {
		cfg.DBPath = flags.DBPath
	}
	if flags.Principal != "" {
		cfg.Principal = flags.Principal
	}
	if flags.SitesFile != "" {
		cfg.SitesFile = flags.SitesFile
	}

	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DBPath = filepath.Join(home, ".rookboom", "rookboom.db")
		}
	}

	sites, err := LoadCatalogue(cfg.SitesFile)
	if err != nil {
		return nil, err
	}
	cfg.Sites = sites
	return cfg, nil
}

// Validate returns an error if the service address is unusable.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New(
			"schedule service URL not set.\n\n" +
				"Set it one of these ways:\n" +
				"  1. CLI flag:        rookboom --base-url https://booking.example.com/ ...\n" +
				"  2. Environment:     export ROOKBOOM_BASE_URL=https://booking.example.com/\n" +
				"  3. config.json:     {\"base_url\": \"https://booking.example.com/\"}",
		)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base URL %q: scheme must be http or https", c.BaseURL)
	}
	return nil
}

func loadFile() (*File, string, error) {
	path, err := filepath.Abs(DefaultConfigFile)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("config.json not found at %s", path)
		}
		return nil, "", fmt.Errorf("reading config.json: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("parsing config.json: %w", err)
	}
	return &f, path, nil
}

// applyFile copies values from a parsed File into cfg,
// skipping any fields that are zero/empty.
func applyFile(cfg *Config, f *File, path string) {
	cfg.ConfigPath = path
	if f.BaseURL != "" {
		cfg.BaseURL = f.BaseURL
	}
	if f.Principal != "" {
		cfg.Principal = f.Principal
	}
	if f.DefaultFormat != "" {
		cfg.Format = f.DefaultFormat
	}
	if f.Timeout != "" {
		if d, err := time.ParseDuration(f.Timeout); err == nil {
			cfg.Timeout = d
		}
	}
	if f.Rate > 0 {
		cfg.Rate = f.Rate
	}
	if f.DBPath != "" {
		cfg.DBPath = f.DBPath
	}
	if f.SitesFile != "" {
		cfg.SitesFile = f.SitesFile
	}
}

// Template returns a File populated with defaults, suitable for writing an
// initial config.json via `rookboom config init`.
func Template() File {
	return File{
		BaseURL:       DefaultBaseURL,
		DefaultFormat: DefaultFormat,
		Timeout:       "30s",
		Rate:          DefaultRate,
		SitesFile:     DefaultSitesFile,
	}
}

// WriteFile serialises a File to the given path.
func WriteFile(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}
