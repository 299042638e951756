// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pdfharvest/pdfharvest/internal/fetcher/headless"
	"github.com/pdfharvest/pdfharvest/internal/fetcher/static"
	"github.com/pdfharvest/pdfharvest/internal/harvest"
	"github.com/pdfharvest/pdfharvest/internal/saver"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig        `mapstructure:"server"`
	Download DownloadConfig      `mapstructure:"download"`
	Search   SearchConfig        `mapstructure:"search"`
	Browser  BrowserConfig       `mapstructure:"browser"`
	Store    StoreConfig         `mapstructure:"store"`
	Logging  LoggingConfig       `mapstructure:"logging"`
	Fields   map[string][]string `mapstructure:"fields"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DownloadConfig governs how PDFs are fetched and where they land.
type DownloadConfig struct {
	Root                  string  `mapstructure:"root"`
	MaxPDFsPerKeyword     int     `mapstructure:"max_pdfs_per_keyword"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	UserAgent             string  `mapstructure:"user_agent"`
	PerHostRPS            float64 `mapstructure:"per_host_rps"`
	PerHostBurst          int     `mapstructure:"per_host_burst"`
	KeywordDelayMinSec    float64 `mapstructure:"keyword_delay_min_seconds"`
	KeywordDelayMaxSec    float64 `mapstructure:"keyword_delay_max_seconds"`
}

// SearchConfig governs the result-page walk per keyword.
type SearchConfig struct {
	BaseURL                string   `mapstructure:"base_url"`
	MaxPagesPerSearch      int      `mapstructure:"max_pages_per_search"`
	PageSize               int      `mapstructure:"page_size"`
	PageLoadTimeoutSeconds int      `mapstructure:"page_load_timeout_seconds"`
	ChallengePollSeconds   int      `mapstructure:"challenge_poll_seconds"`
	ScrollDelayMinSec      float64  `mapstructure:"scroll_delay_min_seconds"`
	ScrollDelayMaxSec      float64  `mapstructure:"scroll_delay_max_seconds"`
	PageDelayMinSec        float64  `mapstructure:"page_delay_min_seconds"`
	PageDelayMaxSec        float64  `mapstructure:"page_delay_max_seconds"`
	ExtraChallengeMarkers  []string `mapstructure:"extra_challenge_markers"`
}

// BrowserConfig selects and tunes the page fetcher.
type BrowserConfig struct {
	// Provider is "headless" (chromedp) or "static" (plain HTTP).
	Provider          string `mapstructure:"provider"`
	Headless          bool   `mapstructure:"headless"`
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
}

// StoreConfig controls run-history persistence.
type StoreConfig struct {
	// Provider is "noop" or "postgres".
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PDFHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("download.root", "downloads")
	v.SetDefault("download.max_pdfs_per_keyword", 200)
	v.SetDefault("download.request_timeout_seconds", 15)
	v.SetDefault("download.per_host_rps", 1.0)
	v.SetDefault("download.per_host_burst", 2)
	v.SetDefault("download.keyword_delay_min_seconds", 5.0)
	v.SetDefault("download.keyword_delay_max_seconds", 10.0)
	v.SetDefault("search.base_url", "https://www.google.com/search")
	v.SetDefault("search.max_pages_per_search", 3)
	v.SetDefault("search.page_size", 10)
	v.SetDefault("search.page_load_timeout_seconds", 10)
	v.SetDefault("search.challenge_poll_seconds", 2)
	v.SetDefault("search.scroll_delay_min_seconds", 2.0)
	v.SetDefault("search.scroll_delay_max_seconds", 4.0)
	v.SetDefault("search.page_delay_min_seconds", 3.0)
	v.SetDefault("search.page_delay_max_seconds", 6.0)
	v.SetDefault("browser.provider", "headless")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.nav_timeout_seconds", 25)
	v.SetDefault("store.provider", "noop")
	v.SetDefault("logging.development", true)

	// Keys with empty defaults still need registering: AutomaticEnv only
	// surfaces keys viper already knows during Unmarshal.
	v.SetDefault("download.user_agent", "")
	v.SetDefault("search.extra_challenge_markers", []string{})
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("store.dsn", "")
}

// Validate checks cross-field constraints not expressible as defaults.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Browser.Provider {
	case "headless", "static":
	default:
		return fmt.Errorf("browser.provider %q must be headless or static", c.Browser.Provider)
	}
	switch c.Store.Provider {
	case "", "noop":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn required when store.provider is postgres")
		}
	default:
		return fmt.Errorf("store.provider %q must be noop or postgres", c.Store.Provider)
	}
	if c.Download.KeywordDelayMinSec > c.Download.KeywordDelayMaxSec {
		return fmt.Errorf("download.keyword_delay_min_seconds exceeds max")
	}
	for field, keywords := range c.Fields {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("fields contains an empty field name")
		}
		for _, kw := range keywords {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("field %q contains an empty keyword", field)
			}
		}
	}
	return nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// CollectorConfig maps the search section onto the collector's knobs.
func (c Config) CollectorConfig() harvest.CollectorConfig {
	return harvest.CollectorConfig{
		SearchBaseURL:   c.Search.BaseURL,
		MaxCandidates:   c.Download.MaxPDFsPerKeyword,
		MaxPages:        c.Search.MaxPagesPerSearch,
		PageSize:        c.Search.PageSize,
		PageLoadTimeout: time.Duration(c.Search.PageLoadTimeoutSeconds) * time.Second,
		ChallengePoll:   time.Duration(c.Search.ChallengePollSeconds) * time.Second,
		ScrollDelayMin:  seconds(c.Search.ScrollDelayMinSec),
		ScrollDelayMax:  seconds(c.Search.ScrollDelayMaxSec),
		PageDelayMin:    seconds(c.Search.PageDelayMinSec),
		PageDelayMax:    seconds(c.Search.PageDelayMaxSec),
	}
}

// ControllerConfig assembles the run-level knobs.
func (c Config) ControllerConfig() harvest.ControllerConfig {
	return harvest.ControllerConfig{
		DownloadRoot:    c.Download.Root,
		Collector:       c.CollectorConfig(),
		KeywordDelayMin: seconds(c.Download.KeywordDelayMinSec),
		KeywordDelayMax: seconds(c.Download.KeywordDelayMaxSec),
	}
}

// SaverConfig maps the download section onto the saver's knobs.
func (c Config) SaverConfig() saver.Config {
	return saver.Config{
		RequestTimeout: time.Duration(c.Download.RequestTimeoutSeconds) * time.Second,
		UserAgent:      c.Download.UserAgent,
		PerHostRPS:     c.Download.PerHostRPS,
		PerHostBurst:   c.Download.PerHostBurst,
	}
}

// HeadlessConfig maps the browser section onto the chromedp fetcher.
func (c Config) HeadlessConfig() headless.Config {
	return headless.Config{
		Headless:   c.Browser.Headless,
		UserAgent:  c.Browser.UserAgent,
		NavTimeout: time.Duration(c.Browser.NavTimeoutSeconds) * time.Second,
	}
}

// StaticConfig maps the browser section onto the plain-HTTP fetcher.
func (c Config) StaticConfig() static.Config {
	return static.Config{
		UserAgent: c.Browser.UserAgent,
		Timeout:   time.Duration(c.Download.RequestTimeoutSeconds) * time.Second,
	}
}

// FieldRequests returns the configured fields as an ordered request list.
// Field names are sorted so runs walk fields deterministically.
func (c Config) FieldRequests(names ...string) ([]harvest.FieldRequest, error) {
	if len(names) == 0 {
		names = make([]string, 0, len(c.Fields))
		for name := range c.Fields {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]harvest.FieldRequest, 0, len(names))
	for _, name := range names {
		keywords, ok := c.Fields[name]
		if !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		out = append(out, harvest.FieldRequest{Name: name, Keywords: keywords})
	}
	return out, nil
}

// DefaultFields returns the built-in field/keyword catalog used when the
// config file supplies none.
func DefaultFields() map[string][]string {
	return map[string][]string{
		"cybersecurity": {
			"Cybersecurity best practices",
			"Network security protocols",
			"Data protection regulations",
			"Incident response procedures",
			"Threat intelligence analysis",
		},
		"artificial_intelligence": {
			"AI ethics and governance",
			"Machine learning security",
			"AI bias and fairness",
			"Autonomous systems safety",
			"AI regulation frameworks",
		},
	}
}
