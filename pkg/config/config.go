// Package config holds the pagewatch configuration: where the page comes from,
// how navigation is detected, and which feature modules run on it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/pagewatch/pkg/logging"
)

// Config is the root configuration, usually loaded from YAML.
type Config struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Navigation detection
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Page source
	Source  SourceKind    `yaml:"source" json:"source"`
	Browser BrowserConfig `yaml:"browser" json:"browser"`
	File    FileConfig    `yaml:"file" json:"file"`

	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Feature modules in execution order
	Modules []ModuleConfig `yaml:"modules" json:"modules"`

	// ConfigFilePath is the file the config was loaded from, if any.
	ConfigFilePath string `yaml:"-" json:"-"`
}

// SourceKind selects the page environment.
type SourceKind string

const (
	// SourceBrowser drives a live page through Playwright.
	SourceBrowser SourceKind = "browser"
	// SourceFile loads a saved HTML document from disk.
	SourceFile SourceKind = "file"
)

// LoggingConfig controls diagnostics.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR
	Level string `yaml:"level" json:"level"`
	// Stderr logs to stderr instead of the session log file
	Stderr bool `yaml:"stderr" json:"stderr"`
}

// MonitorConfig controls the change detector.
type MonitorConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Debounce     time.Duration `yaml:"debounce" json:"debounce"`
	Root         string        `yaml:"root" json:"root"`                   // XPath of the observed subtree
	ReadyTimeout time.Duration `yaml:"ready_timeout" json:"ready_timeout"` // bound on waiting for the document
}

// BrowserConfig configures the Playwright page.
type BrowserConfig struct {
	URL            string        `yaml:"url" json:"url"`
	Headless       bool          `yaml:"headless" json:"headless"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
}

// FileConfig configures a file-backed document.
type FileConfig struct {
	Path  string `yaml:"path" json:"path"`
	Watch bool   `yaml:"watch" json:"watch"` // reload when the file changes
}

// MetricsConfig configures the metrics and health server.
type MetricsConfig struct {
	// Addr is the listen address, e.g. ":9090". Empty disables the server.
	Addr string `yaml:"addr" json:"addr"`
}

// Module types.
const (
	ModuleFill    = "fill"
	ModuleReorder = "reorder"
	ModuleHide    = "hide"
)

// Fill step actions.
const (
	StepSetValue = "set_value"
	StepCheck    = "check"
	StepSleep    = "sleep"
	StepAwait    = "await"
)

// ModuleConfig declares one feature module.
type ModuleConfig struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`

	// Location globs; empty Match means every location.
	Match   []string `yaml:"match,omitempty" json:"match,omitempty"`
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	// fill
	Steps []StepConfig `yaml:"steps,omitempty" json:"steps,omitempty"`

	// reorder and hide
	Selectors []string `yaml:"selectors,omitempty" json:"selectors,omitempty"`
	Before    string   `yaml:"before,omitempty" json:"before,omitempty"` // reorder anchor
}

// StepConfig is one fill step.
type StepConfig struct {
	Action   string        `yaml:"action" json:"action"`
	Selector string        `yaml:"selector,omitempty" json:"selector,omitempty"`
	Value    string        `yaml:"value,omitempty" json:"value,omitempty"`
	Values   []string      `yaml:"values,omitempty" json:"values,omitempty"`     // check: only boxes with these values
	Dispatch string        `yaml:"dispatch,omitempty" json:"dispatch,omitempty"` // event fired after a change
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"` // sleep
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`   // await
}

// Default values.
const (
	DefaultDebounce       = 100 * time.Millisecond
	DefaultRoot           = "/html"
	DefaultReadyTimeout   = 10 * time.Second
	DefaultBrowserTimeout = 30 * time.Second
	DefaultAwaitTimeout   = 2 * time.Second
)

// DefaultConfig returns a configuration suitable for most use cases.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Monitor: MonitorConfig{
			Enabled:      true,
			Debounce:     DefaultDebounce,
			Root:         DefaultRoot,
			ReadyTimeout: DefaultReadyTimeout,
		},
		Source: SourceBrowser,
		Browser: BrowserConfig{
			Headless:       true,
			Timeout:        DefaultBrowserTimeout,
			ViewportWidth:  1280,
			ViewportHeight: 800,
		},
	}
}

// Validate checks the configuration and fills step defaults.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}

	if c.Monitor.Debounce <= 0 {
		return fmt.Errorf("monitor.debounce must be positive")
	}
	if c.Monitor.ReadyTimeout < 0 {
		return fmt.Errorf("monitor.ready_timeout cannot be negative")
	}
	if strings.TrimSpace(c.Monitor.Root) == "" {
		return fmt.Errorf("monitor.root is required")
	}

	switch c.Source {
	case SourceBrowser:
		if c.Browser.URL == "" {
			return fmt.Errorf("browser.url is required when source is 'browser'")
		}
		if c.Browser.Timeout < 0 {
			return fmt.Errorf("browser.timeout cannot be negative")
		}
		if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
			return fmt.Errorf("browser viewport cannot be negative")
		}
	case SourceFile:
		if c.File.Path == "" {
			return fmt.Errorf("file.path is required when source is 'file'")
		}
	default:
		return fmt.Errorf("invalid source: %s (must be 'browser' or 'file')", c.Source)
	}

	seen := make(map[string]bool, len(c.Modules))
	for i := range c.Modules {
		m := &c.Modules[i]
		if m.Name == "" {
			return fmt.Errorf("modules[%d]: name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("modules[%d]: duplicate module name %q", i, m.Name)
		}
		seen[m.Name] = true

		if err := m.validate(); err != nil {
			return fmt.Errorf("module %q: %w", m.Name, err)
		}
	}

	return nil
}

func (m *ModuleConfig) validate() error {
	switch m.Type {
	case ModuleFill:
		if len(m.Steps) == 0 {
			return fmt.Errorf("fill module needs at least one step")
		}
		for i := range m.Steps {
			if err := m.Steps[i].validate(); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
	case ModuleReorder:
		if len(m.Selectors) == 0 {
			return fmt.Errorf("reorder module needs selectors")
		}
		if m.Before == "" {
			return fmt.Errorf("reorder module needs a 'before' anchor")
		}
	case ModuleHide:
		if len(m.Selectors) == 0 {
			return fmt.Errorf("hide module needs selectors")
		}
	default:
		return fmt.Errorf("invalid type: %q (must be 'fill', 'reorder' or 'hide')", m.Type)
	}
	return nil
}

func (s *StepConfig) validate() error {
	switch s.Action {
	case StepSetValue:
		if s.Selector == "" {
			return fmt.Errorf("set_value needs a selector")
		}
	case StepCheck:
		if s.Selector == "" {
			return fmt.Errorf("check needs a selector")
		}
	case StepSleep:
		if s.Duration <= 0 {
			return fmt.Errorf("sleep needs a positive duration")
		}
	case StepAwait:
		if s.Selector == "" {
			return fmt.Errorf("await needs a selector")
		}
		if s.Timeout < 0 {
			return fmt.Errorf("await timeout cannot be negative")
		}
		if s.Timeout == 0 {
			s.Timeout = DefaultAwaitTimeout
		}
	default:
		return fmt.Errorf("invalid action: %q", s.Action)
	}
	return nil
}

// LogLevel returns the parsed logging level, INFO when unset or invalid.
func (c *Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return level
}
