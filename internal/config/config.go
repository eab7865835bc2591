package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"unnatural-go/internal/util"

	"gopkg.in/yaml.v2"
)

// Config is the root of app.yaml.
type Config struct {
	App    AppConfig    `yaml:"app"`
	Corpus CorpusConfig `yaml:"corpus"`
	Model  ModelConfig  `yaml:"model"`
	Store  StoreConfig  `yaml:"store"`
	Mcp    McpConfig    `yaml:"mcp"`
}

type AppConfig struct {
	LogLevel   string   `yaml:"log_level"`   // default "info"
	LogOutputs []string `yaml:"log_outputs"` // default ["stderr"]
	Port       int      `yaml:"port"`        // estimator service port, default 8080
	Socket     string   `yaml:"socket"`      // serve on this unix socket instead of Port
}

// CorpusConfig locates the training corpus and picks the estimator backend.
type CorpusConfig struct {
	ReadPath        string        `yaml:"read_path"`        // corpus the estimator trains from
	WritePath       string        `yaml:"write_path"`       // where training text is appended; defaults to ReadPath
	EstimatorBinary string        `yaml:"estimator_binary"` // external estimator process
	EstimatorArgs   []string      `yaml:"estimator_args"`   // passed before the corpus paths, e.g. ["estimate"]
	ServicePath     string        `yaml:"service_path"`     // long-running estimator service (host:port, URL or unix:///path)
	Timeout         time.Duration `yaml:"timeout"`          // bound on every estimator exchange, default 10s
	ForceRetrain    bool          `yaml:"force_retrain"`    // ignore a saved snapshot
	SnapshotPath    string        `yaml:"snapshot_path"`    // default <read_path>.gob
}

// ModelConfig configures the n-gram model and windowing.
type ModelConfig struct {
	Order      int     `yaml:"order"`       // default 4
	Smoothing  string  `yaml:"smoothing"`   // "addk" (default) or "wittenbell"
	AddK       float64 `yaml:"add_k"`       // default 0.1
	UseBloom   bool    `yaml:"use_bloom"`   // default true
	BloomItems uint    `yaml:"bloom_items"` // expected k-grams, default 1000000
	WindowSize int     `yaml:"window_size"` // default 20
	Language   string  `yaml:"language"`    // default tokenizer for unknown extensions, default "python"
}

type StoreConfig struct {
	Path string `yaml:"path"` // results database; empty disables the store
}

type McpConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// GetAddress returns host:port for the standalone MCP listener.
func (m McpConfig) GetAddress() string {
	host := m.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, m.Port)
}

// Defaults returns a configuration with every documented default applied.
func Defaults() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:   "info",
			LogOutputs: []string{"stderr"},
			Port:       8080,
		},
		Corpus: CorpusConfig{
			ReadPath: "corpus/corpus.txt",
			Timeout:  10 * time.Second,
		},
		Model: ModelConfig{
			Order:      4,
			Smoothing:  "addk",
			AddK:       0.1,
			UseBloom:   true,
			BloomItems: 1000000,
			WindowSize: 20,
			Language:   "python",
		},
		Mcp: McpConfig{
			Host: "localhost",
			Port: 8081,
		},
	}
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.fill()
	return cfg, nil
}

// fill derives the settings that default to other settings.
func (c *Config) fill() {
	if c.Corpus.WritePath == "" {
		c.Corpus.WritePath = c.Corpus.ReadPath
	}
	if c.Corpus.SnapshotPath == "" && c.Corpus.ReadPath != "" {
		c.Corpus.SnapshotPath = snapshotFor(c.Corpus.ReadPath)
	}
	if len(c.App.LogOutputs) == 0 {
		c.App.LogOutputs = []string{"stderr"}
	}
}

func snapshotFor(readPath string) string {
	return strings.TrimSuffix(readPath, filepath.Ext(readPath)) + ".gob"
}

// SetReadPath moves the read corpus. Write and snapshot paths derived from
// the old read path follow it.
func (c *Config) SetReadPath(path string) {
	if c.Corpus.WritePath == c.Corpus.ReadPath {
		c.Corpus.WritePath = path
	}
	if c.Corpus.SnapshotPath == snapshotFor(c.Corpus.ReadPath) {
		c.Corpus.SnapshotPath = ""
	}
	c.Corpus.ReadPath = path
	c.fill()
}

// ApplyEnv overrides settings from the environment. It is the only place
// environment variables are read; lookup is os.LookupEnv outside tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("UC_READ_CORPUS"); ok && v != "" {
		cfg.SetReadPath(v)
	}
	if v, ok := lookup("UC_WRITE_CORPUS"); ok && v != "" {
		cfg.Corpus.WritePath = v
	}
	if v, ok := lookup("UC_ESTIMATOR"); ok {
		cfg.Corpus.EstimatorBinary = v
	}
	if v, ok := lookup("UC_ESTIMATOR_ARGS"); ok {
		cfg.Corpus.EstimatorArgs = strings.Fields(v)
	}
	if v, ok := lookup("UC_SERVICE"); ok {
		cfg.Corpus.ServicePath = v
	}
	if v, ok := lookup("UC_FORCE_RETRAIN"); ok {
		b, err := util.ParseBool(v)
		if err != nil {
			return fmt.Errorf("UC_FORCE_RETRAIN: %w", err)
		}
		cfg.Corpus.ForceRetrain = b
	}
	if v, ok := lookup("UC_LOG_LEVEL"); ok && v != "" {
		cfg.App.LogLevel = v
	}

	cfg.fill()
	return nil
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	switch {
	case c.Corpus.ReadPath == "":
		return fmt.Errorf("corpus.read_path must be set")
	case c.Corpus.Timeout < 0:
		return fmt.Errorf("corpus.timeout must not be negative, got %s", c.Corpus.Timeout)
	case c.Model.Order < 1:
		return fmt.Errorf("model.order must be at least 1, got %d", c.Model.Order)
	case c.Model.WindowSize < 1:
		return fmt.Errorf("model.window_size must be at least 1, got %d", c.Model.WindowSize)
	case c.Model.AddK < 0:
		return fmt.Errorf("model.add_k must not be negative, got %g", c.Model.AddK)
	}

	switch strings.ToLower(c.Model.Smoothing) {
	case "", "addk", "wittenbell":
	default:
		return fmt.Errorf("unknown model.smoothing %q", c.Model.Smoothing)
	}
	return nil
}
