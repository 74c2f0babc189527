// Package config loads the samplesync configuration file: which store to
// talk to, which sections to refresh, the sample widgets and the strings
// shown to shoppers.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/wondertwin-ai/samplecart/internal/cartapi"
	"github.com/wondertwin-ai/samplecart/internal/money"
	"github.com/wondertwin-ai/samplecart/internal/sample"
	"github.com/wondertwin-ai/samplecart/internal/sections"
	"github.com/wondertwin-ai/samplecart/internal/storefront"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "samplecart.yaml"

// EnvVar overrides DefaultFile.
const EnvVar = "SAMPLECART_CONFIG"

// DefaultBaseURL points at a local cart twin.
const DefaultBaseURL = "http://localhost:4100"

// Store describes the storefront.
type Store struct {
	BaseURL     string         `yaml:"base_url"`
	Routes      cartapi.Routes `yaml:"routes"`
	Country     string         `yaml:"country"`
	Locale      string         `yaml:"locale,omitempty"`
	Currency    string         `yaml:"currency,omitempty"`
	MoneyFormat string         `yaml:"money_format,omitempty"`

	// MainItems and MainFooter are the template's cart section ids.
	MainItems  string `yaml:"main_items_section,omitempty"`
	MainFooter string `yaml:"main_footer_section,omitempty"`
}

// RateLimit throttles calls to the cart API.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Config represents the contents of samplecart.yaml.
type Config struct {
	Store    Store           `yaml:"store"`
	Sections []sections.Spec `yaml:"sections,omitempty"`
	Widgets  []sample.Widget `yaml:"widgets,omitempty"`

	// WidgetsFile, when set, replaces Widgets and is re-read on every check.
	// Relative paths resolve against the config file.
	WidgetsFile string `yaml:"widgets_file,omitempty"`

	Timings   sample.Timings     `yaml:"timings"`
	Strings   storefront.Strings `yaml:"strings"`
	RateLimit RateLimit          `yaml:"rate_limit"`
}

// Path returns the config path: flagValue if set, then $SAMPLECART_CONFIG,
// then DefaultFile.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvVar); p != "" {
		return p
	}
	return DefaultFile
}

// Load reads the config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.WidgetsFile != "" && !filepath.IsAbs(cfg.WidgetsFile) {
		cfg.WidgetsFile = filepath.Join(filepath.Dir(path), cfg.WidgetsFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the fields that cannot fall back to a default.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Store.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("store.base_url %q must be an absolute URL", c.Store.BaseURL)
	}
	if c.RateLimit.PerSecond < 0 {
		return fmt.Errorf("rate_limit.per_second must not be negative")
	}
	seen := make(map[string]bool, len(c.Widgets))
	for i, w := range c.Widgets {
		if w.ID == "" {
			return fmt.Errorf("widgets[%d]: id is required", i)
		}
		if seen[w.ID] {
			return fmt.Errorf("widgets[%d]: duplicate id %q", i, w.ID)
		}
		seen[w.ID] = true
	}
	for i, s := range c.Sections {
		if s.ID == "" || s.Section == "" || s.Selector == "" {
			return fmt.Errorf("sections[%d]: id, section and selector are required", i)
		}
	}
	return nil
}

// Money returns the formatter for the store's region.
func (c *Config) Money() *money.Formatter {
	return money.New(money.Options{
		Country:     c.Store.Country,
		Locale:      c.Store.Locale,
		Currency:    c.Store.Currency,
		MoneyFormat: c.Store.MoneyFormat,
	})
}

// SectionSpecs returns the configured sections, or the cart page defaults.
func (c *Config) SectionSpecs() []sections.Spec {
	if len(c.Sections) > 0 {
		return c.Sections
	}
	return sections.Defaults(c.Store.MainItems, c.Store.MainFooter)
}

// WidgetSource returns where widgets are read from on each check.
func (c *Config) WidgetSource() sample.WidgetSource {
	if c.WidgetsFile != "" {
		return sample.FileSource{Path: c.WidgetsFile}
	}
	return sample.Static(c.Widgets)
}

// Client returns the cart API client configuration.
func (c *Config) Client(logger *slog.Logger) cartapi.Config {
	return cartapi.Config{
		BaseURL:   c.Store.BaseURL,
		Routes:    c.Store.Routes,
		Sections:  sections.IDs(c.SectionSpecs()),
		RateLimit: rate.Limit(c.RateLimit.PerSecond),
		Burst:     c.RateLimit.Burst,
		Logger:    logger,
	}
}

func defaultConfig() *Config {
	return &Config{
		Store: Store{
			BaseURL: DefaultBaseURL,
			Routes:  cartapi.DefaultRoutes,
			Country: "US",
		},
		Timings: sample.DefaultTimings,
		Strings: storefront.DefaultStrings,
	}
}
