package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagewatch/pkg/logging"
)

const sampleYAML = `
logging:
  level: debug
monitor:
  debounce: 250ms
  root: //*[@id='app']
source: file
file:
  path: ./testdata/checkout.html
  watch: true
metrics:
  addr: ":9090"
modules:
  - name: checkout-form
    type: fill
    match: ["*/checkout*"]
    steps:
      - action: set_value
        selector: //*[@id='shape']
        value: Very good
      - action: check
        selector: //*[@id='registered-shipping']
        dispatch: change
      - action: await
        selector: //input[@name='weight_cat'][@value='2']
      - action: check
        selector: //input[@name='weight_cat'][@value='2']
  - name: move-asks
    type: reorder
    selectors: ["//*[@id='asks']"]
    before: //*[@id='bids']
  - name: hide-chart
    type: hide
    selectors: ["//*[@id='soldHistoryChart']"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Monitor.Enabled)
	assert.Equal(t, 100*time.Millisecond, cfg.Monitor.Debounce)
	assert.Equal(t, "/html", cfg.Monitor.Root)
	assert.Equal(t, 10*time.Second, cfg.Monitor.ReadyTimeout)
	assert.Equal(t, SourceBrowser, cfg.Source)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel())

	// Defaults only lack a URL.
	assert.ErrorContains(t, cfg.Validate(), "browser.url is required")
	cfg.Browser.URL = "https://shop.example/"
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, path, cfg.ConfigFilePath)
	assert.Equal(t, logging.LevelDebug, cfg.LogLevel())
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.Debounce)
	assert.True(t, cfg.Monitor.Enabled, "unset keys keep defaults")
	assert.Equal(t, 10*time.Second, cfg.Monitor.ReadyTimeout)
	assert.Equal(t, SourceFile, cfg.Source)
	assert.True(t, cfg.File.Watch)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)

	require.Len(t, cfg.Modules, 3)
	fill := cfg.Modules[0]
	assert.Equal(t, ModuleFill, fill.Type)
	assert.Equal(t, []string{"*/checkout*"}, fill.Match)
	require.Len(t, fill.Steps, 4)
	assert.Equal(t, "change", fill.Steps[1].Dispatch)
	assert.Equal(t, DefaultAwaitTimeout, fill.Steps[2].Timeout, "Validate fills the await timeout")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "monitor: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_DefaultPathMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.Browser.URL = "https://shop.example/"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid logging level"},
		{"zero debounce", func(c *Config) { c.Monitor.Debounce = 0 }, "monitor.debounce must be positive"},
		{"negative ready timeout", func(c *Config) { c.Monitor.ReadyTimeout = -time.Second }, "ready_timeout cannot be negative"},
		{"empty root", func(c *Config) { c.Monitor.Root = " " }, "monitor.root is required"},
		{"bad source", func(c *Config) { c.Source = "ftp" }, "invalid source"},
		{"file without path", func(c *Config) { c.Source = SourceFile }, "file.path is required"},
		{"unnamed module", func(c *Config) {
			c.Modules = []ModuleConfig{{Type: ModuleHide, Selectors: []string{"//x"}}}
		}, "name is required"},
		{"duplicate module", func(c *Config) {
			m := ModuleConfig{Name: "h", Type: ModuleHide, Selectors: []string{"//x"}}
			c.Modules = []ModuleConfig{m, m}
		}, "duplicate module name"},
		{"unknown type", func(c *Config) {
			c.Modules = []ModuleConfig{{Name: "p", Type: "price"}}
		}, "invalid type"},
		{"fill without steps", func(c *Config) {
			c.Modules = []ModuleConfig{{Name: "f", Type: ModuleFill}}
		}, "at least one step"},
		{"bad step", func(c *Config) {
			c.Modules = []ModuleConfig{{Name: "f", Type: ModuleFill, Steps: []StepConfig{{Action: "click"}}}}
		}, "invalid action"},
		{"sleep without duration", func(c *Config) {
			c.Modules = []ModuleConfig{{Name: "f", Type: ModuleFill, Steps: []StepConfig{{Action: StepSleep}}}}
		}, "positive duration"},
		{"reorder without anchor", func(c *Config) {
			c.Modules = []ModuleConfig{{Name: "r", Type: ModuleReorder, Selectors: []string{"//x"}}}
		}, "'before' anchor"},
		{"hide without selectors", func(c *Config) {
			c.Modules = []ModuleConfig{{Name: "h", Type: ModuleHide}}
		}, "hide module needs selectors"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	out := filepath.Join(t.TempDir(), "nested", "saved.yaml")
	require.NoError(t, cfg.Save(out))
	_, err = os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	reloaded, err := Load(out)
	require.NoError(t, err)
	reloaded.ConfigFilePath = cfg.ConfigFilePath
	assert.Equal(t, cfg, reloaded)
}
