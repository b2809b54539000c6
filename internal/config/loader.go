package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ConnectionFlags binds the Elasticsearch connection flags of one flag set.
type ConnectionFlags struct {
	fs                 *pflag.FlagSet
	addresses          *[]string
	username           *string
	password           *string
	apiKey             *string
	cloudID            *string
	timeout            *time.Duration
	healthCheck        *bool
	insecureSkipVerify *bool
}

// RegisterConnectionFlags defines the command-line flags related to Elasticsearch connection.
// Values are read by Load after the flag set has been parsed.
func RegisterConnectionFlags(fs *pflag.FlagSet) *ConnectionFlags {
	return &ConnectionFlags{
		fs:                 fs,
		addresses:          fs.StringSlice("elasticsearch.address", []string{"http://localhost:9200"}, "Elasticsearch node addresses (comma-separated URLs, env: ES_ADDRESS)"),
		username:           fs.String("elasticsearch.username", "", "Elasticsearch basic authentication username (env: ES_USERNAME)"),
		password:           fs.String("elasticsearch.password", "", "Elasticsearch basic authentication password (env: ES_PASSWORD)"),
		apiKey:             fs.String("elasticsearch.api-key", "", "Elasticsearch API Key (Base64 encoded 'id:api_key', env: ES_API_KEY)"),
		cloudID:            fs.String("elasticsearch.cloud-id", "", "Elasticsearch Cloud ID (env: ES_CLOUD_ID)"),
		timeout:            fs.Duration("elasticsearch.timeout", DefaultTimeout, "Elasticsearch request timeout (env: ES_TIMEOUT)"),
		healthCheck:        fs.Bool("elasticsearch.healthcheck", true, "Perform health check on Elasticsearch connection startup (env: ES_HEALTHCHECK)"),
		insecureSkipVerify: fs.Bool("elasticsearch.tls.insecure-skip-verify", false, "Skip TLS certificate verification (env: ES_TLS_INSECURE_SKIP_VERIFY)"),
	}
}

// Load creates a ConnectionConfig from the parsed flags. Environment
// variables apply to every flag that was not set on the command line.
func (f *ConnectionFlags) Load() (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		Addresses:          *f.addresses,
		Username:           *f.username,
		Password:           *f.password,
		APIKey:             *f.apiKey,
		CloudID:            *f.cloudID,
		Timeout:            *f.timeout,
		HealthCheck:        *f.healthCheck,
		InsecureSkipVerify: *f.insecureSkipVerify,
	}

	applyEnvVarOverrides(cfg, f.fs.Changed)

	if err := validateConnectionConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvVarOverrides updates cfg from ES_* variables. Precedence is
// flag > env var > default; changed reports whether a flag was given.
func applyEnvVarOverrides(cfg *ConnectionConfig, changed func(name string) bool) {
	env := func(flag, name string) (string, bool) {
		if changed(flag) {
			return "", false
		}
		v := os.Getenv(name)
		return v, v != ""
	}

	if v, ok := env("elasticsearch.address", "ES_ADDRESS"); ok {
		cfg.Addresses = strings.Split(v, ",")
		slog.Debug("Applying ES_ADDRESS from environment variable", "value", cfg.Addresses)
	}
	if v, ok := env("elasticsearch.username", "ES_USERNAME"); ok {
		cfg.Username = v
		slog.Debug("Applying ES_USERNAME from environment variable")
	}
	if v, ok := env("elasticsearch.password", "ES_PASSWORD"); ok {
		cfg.Password = v
		slog.Debug("Applying ES_PASSWORD from environment variable")
	}
	if v, ok := env("elasticsearch.api-key", "ES_API_KEY"); ok {
		cfg.APIKey = v
		slog.Debug("Applying ES_API_KEY from environment variable")
	}
	if v, ok := env("elasticsearch.cloud-id", "ES_CLOUD_ID"); ok {
		cfg.CloudID = v
		slog.Debug("Applying ES_CLOUD_ID from environment variable")
	}

	if v, ok := env("elasticsearch.timeout", "ES_TIMEOUT"); ok {
		if duration, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = duration
			slog.Debug("Applying ES_TIMEOUT from environment variable", "value", cfg.Timeout)
		} else {
			slog.Warn("Invalid duration format in environment variable ES_TIMEOUT", "value", v, "error", err)
		}
	}

	if v, ok := env("elasticsearch.healthcheck", "ES_HEALTHCHECK"); ok {
		if hc, err := parseBoolEnvVar(v); err == nil {
			cfg.HealthCheck = hc
			slog.Debug("Applying ES_HEALTHCHECK from environment variable", "value", cfg.HealthCheck)
		} else {
			slog.Warn("Invalid boolean format in environment variable ES_HEALTHCHECK", "value", v, "error", err)
		}
	}

	if v, ok := env("elasticsearch.tls.insecure-skip-verify", "ES_TLS_INSECURE_SKIP_VERIFY"); ok {
		if sv, err := parseBoolEnvVar(v); err == nil {
			cfg.InsecureSkipVerify = sv
			slog.Debug("Applying ES_TLS_INSECURE_SKIP_VERIFY from environment variable", "value", cfg.InsecureSkipVerify)
		} else {
			slog.Warn("Invalid boolean format in environment variable ES_TLS_INSECURE_SKIP_VERIFY", "value", v, "error", err)
		}
	}
}

// parseBoolEnvVar parses common boolean string representations.
func parseBoolEnvVar(val string) (bool, error) {
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean string: %q", val)
}

// validateConnectionConfig performs validation checks after flags and env vars are resolved.
func validateConnectionConfig(cfg *ConnectionConfig) error {
	if len(cfg.Addresses) == 0 && cfg.CloudID == "" {
		return fmt.Errorf("elasticsearch connection requires at least one address via --elasticsearch.address/ES_ADDRESS or Cloud ID via --elasticsearch.cloud-id/ES_CLOUD_ID")
	}
	if len(cfg.Addresses) > 0 && cfg.CloudID != "" {
		slog.Warn("Both elasticsearch.address and elasticsearch.cloud-id are specified; Cloud ID will likely be used by the client library.")
	}

	authMethods := 0
	hasBasicAuth := cfg.Username != "" || cfg.Password != ""
	if hasBasicAuth {
		if cfg.Username == "" || cfg.Password == "" {
			return fmt.Errorf("basic authentication requires both --elasticsearch.username/ES_USERNAME and --elasticsearch.password/ES_PASSWORD")
		}
		authMethods++
	}
	if cfg.APIKey != "" {
		authMethods++
	}
	if authMethods > 1 {
		return fmt.Errorf("cannot use multiple authentication methods (basic auth, api key) simultaneously")
	}
	return nil
}

// LoadQueryConfigs loads metric definitions from every YAML file in dir,
// in file name order. Unreadable files and invalid or duplicate metrics are
// logged and skipped; only an unreadable directory is an error.
func LoadQueryConfigs(dir string) ([]MetricConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read query config directory %q: %w", dir, err)
	}

	var (
		metrics []MetricConfig
		seen    = make(map[string]string)
		files   int
		skipped int
	)
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files++

		path := filepath.Join(dir, entry.Name())
		defs, err := readQueryFile(path)
		if err != nil {
			slog.Error("Skipping query file", "path", path, "error", err)
			skipped++
			continue
		}

		for _, m := range defs {
			if err := m.Validate(); err != nil {
				slog.Error("Skipping invalid metric", "path", path, "metric_name", m.Name, "error", err)
				skipped++
				continue
			}
			if first, dup := seen[m.Name]; dup {
				slog.Error("Skipping duplicate metric", "metric_name", m.Name, "first", first, "path", path)
				skipped++
				continue
			}
			seen[m.Name] = path
			metrics = append(metrics, m)
		}
	}

	switch {
	case files == 0:
		slog.Warn("No query files found", "directory", dir)
	case len(metrics) == 0:
		slog.Warn("Query files contain no valid metrics", "directory", dir, "skipped", skipped)
	default:
		slog.Info("Loaded metric configurations", "count", len(metrics), "skipped", skipped, "directory", dir)
	}
	return metrics, nil
}

func readQueryFile(path string) ([]MetricConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc TopLevelMetrics
	if err := yaml.Unmarshal(expandEnvVars(data), &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return doc.Metrics, nil
}
