package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AlectoTheFirst/esidx/internal/repository"
)

// AppConfig is the esidx project file: where documents come from and which
// indexes they feed.
type AppConfig struct {
	Database    DatabaseConfig    `yaml:"database"`
	Indexes     []IndexConfig     `yaml:"indexes"`
	Populate    PopulateConfig    `yaml:"populate"`
	LockFile    string            `yaml:"lock_file"`
	Pushgateway PushgatewayConfig `yaml:"pushgateway"`
	QueriesDir  string            `yaml:"queries_dir"`
}

// DatabaseConfig holds the document source connection.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite (default)
	DSN    string `yaml:"dsn"`
}

// IndexConfig registers one search index.
type IndexConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// SettingsFile is a JSON file with the index "settings" and "mappings".
	SettingsFile string            `yaml:"settings_file"`
	Source       repository.Source `yaml:"source"`
	HTMLFields   []string          `yaml:"html_fields"`
}

// PopulateConfig tunes the populate loop.
type PopulateConfig struct {
	Workers int `yaml:"workers"`
	// Rate limits indexed documents per second, 0 = unlimited.
	Rate float64 `yaml:"rate"`
}

// PushgatewayConfig enables pushing run metrics after each command.
type PushgatewayConfig struct {
	URL string `yaml:"url"`
	Job string `yaml:"job"`
}

// Load reads the project file at path, expanding ${VAR} and ${VAR:-default}.
// Relative paths inside the file are resolved against its directory.
func Load(path string) (AppConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return AppConfig{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(expandEnvVars(data), &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *AppConfig) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = repository.DefaultDriver
	}
	if c.Populate.Workers <= 0 {
		c.Populate.Workers = 1
	}
	if c.LockFile == "" {
		c.LockFile = filepath.Join(os.TempDir(), "esidx.lock")
	}
	if c.Pushgateway.Job == "" {
		c.Pushgateway.Job = "esidx"
	}
	for i := range c.Indexes {
		idx := &c.Indexes[i]
		if idx.Type == "" {
			idx.Type = "_doc"
		}
		if idx.Source.Table == "" {
			idx.Source.Table = idx.Name
		}
		if idx.Source.IDColumn == "" {
			idx.Source.IDColumn = "id"
		}
	}
}

func (c *AppConfig) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i := range c.Indexes {
		c.Indexes[i].SettingsFile = abs(c.Indexes[i].SettingsFile)
	}
	c.QueriesDir = abs(c.QueriesDir)
}

// Validate checks the configuration for correctness.
func (c *AppConfig) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Populate.Rate < 0 {
		return fmt.Errorf("populate.rate cannot be negative, got %v", c.Populate.Rate)
	}
	names := make(map[string]bool, len(c.Indexes))
	for i, idx := range c.Indexes {
		if idx.Name == "" {
			return fmt.Errorf("indexes[%d].name is required", i)
		}
		if idx.Name != strings.ToLower(idx.Name) || strings.ContainsAny(idx.Name, ` "*\<|,>/?`) {
			return fmt.Errorf("indexes[%d].name %q is not a valid index name", i, idx.Name)
		}
		if names[idx.Name] {
			return fmt.Errorf("indexes[%d].name %q is duplicated", i, idx.Name)
		}
		names[idx.Name] = true
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
