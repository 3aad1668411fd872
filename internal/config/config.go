// Package config loads the freport configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"freport/internal/browser"
)

// ServerConfig configures the HTTP view server.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	DevMode bool   `yaml:"dev_mode"`
	// TemplateDir is only used in dev mode.
	TemplateDir string `yaml:"template_dir"`
}

// StoreConfig configures the report database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SelectorConfig names the DOM nodes the exporter captures. Evidence
// and expense selectors are prefixes; the per-section index is appended
// (evidence_prefix "#evidence-" yields "#evidence-0", "#evidence-1"...).
type SelectorConfig struct {
	GlobalRoot     string `yaml:"global_root"`
	Cover          string `yaml:"cover"`
	EvidencePrefix string `yaml:"evidence_prefix"`
	ExpensePrefix  string `yaml:"expense_prefix"`
}

// ExportConfig configures the PDF export pipeline.
type ExportConfig struct {
	OutputDir          string         `yaml:"output_dir"`
	Scale              float64        `yaml:"scale"`
	SettleMs           int            `yaml:"settle_ms"`
	ReadinessTimeoutMs int            `yaml:"readiness_timeout_ms"`
	PollIntervalMs     int            `yaml:"poll_interval_ms"`
	IncludeExpenses    bool           `yaml:"include_expenses"`
	Selectors          SelectorConfig `yaml:"selectors"`
}

// LoggingConfig configures the category file logs.
type LoggingConfig struct {
	Level      string          `yaml:"level"`
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// Config holds all freport configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Store   StoreConfig    `yaml:"store"`
	Browser browser.Config `yaml:"browser"`
	Export  ExportConfig   `yaml:"export"`
	Logging LoggingConfig  `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        "127.0.0.1:8420",
			TemplateDir: ".freport/templates",
		},
		Store: StoreConfig{
			Path: ".freport/reports.db",
		},
		Browser: browser.DefaultConfig(),
		Export: ExportConfig{
			OutputDir:          "exports",
			Scale:              2.0,
			SettleMs:           400,
			ReadinessTimeoutMs: 2000,
			PollIntervalMs:     100,
			Selectors: SelectorConfig{
				GlobalRoot:     "#global-report",
				Cover:          "#report-cover",
				EvidencePrefix: "#evidence-",
				ExpensePrefix:  "#expense-",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and applies FREPORT_* environment
// overrides. An empty path loads defaults plus overrides only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FREPORT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FREPORT_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("FREPORT_OUTPUT_DIR"); v != "" {
		c.Export.OutputDir = v
	}
	// An explicit debugger URL wins over any configured launch command.
	if v := os.Getenv("FREPORT_BROWSER_URL"); v != "" {
		c.Browser.DebuggerURL = v
	}
	if v := os.Getenv("FREPORT_SCALE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Export.Scale = f
		}
	}
	if v := os.Getenv("FREPORT_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}

func (c *Config) validate() error {
	if c.Export.Scale <= 0 {
		return fmt.Errorf("config: export scale must be positive, got %g", c.Export.Scale)
	}
	if c.Export.SettleMs < 0 || c.Export.ReadinessTimeoutMs < 0 || c.Export.PollIntervalMs < 0 {
		return fmt.Errorf("config: export delays must not be negative")
	}
	if c.Export.Selectors.GlobalRoot == "" || c.Export.Selectors.Cover == "" {
		return fmt.Errorf("config: export selectors must not be empty")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("config: store path must not be empty")
	}
	return nil
}
