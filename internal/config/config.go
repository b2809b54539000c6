package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// ConnectionConfig holds Elasticsearch connection details.
type ConnectionConfig struct {
	Addresses          []string      `yaml:"addresses"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	APIKey             string        `yaml:"apiKey"`
	CloudID            string        `yaml:"cloudId"`
	Timeout            time.Duration `yaml:"timeout"`
	HealthCheck        bool          `yaml:"healthCheck"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
}

// LabelConfig holds labels attached to every sample of a metric.
type LabelConfig struct {
	Static map[string]string `yaml:"static,omitempty"`
}

// RangeConfig is one bucket of a range level.
type RangeConfig struct {
	Key  string   `yaml:"key"`
	From *float64 `yaml:"from,omitempty"`
	To   *float64 `yaml:"to,omitempty"`
}

// LevelConfig is one aggregation level of a metric. Levels are nested in
// order: every level runs inside the buckets of the previous one.
type LevelConfig struct {
	// Type is one of terms, filter, filters, date_histogram, range, nested,
	// sum, min or max.
	Type string `yaml:"type"`
	// Label is the Prometheus label filled with this level's bucket key.
	// Levels without a label do not add a label to the samples.
	Label       string            `yaml:"label"`
	Field       string            `yaml:"field"`
	Size        int               `yaml:"size"`
	Missing     *string           `yaml:"missing,omitempty"`
	MinDocCount *int              `yaml:"min_doc_count,omitempty"`
	Query       string            `yaml:"query"`
	Filters     map[string]string `yaml:"filters"`
	Interval    string            `yaml:"interval"`
	Format      string            `yaml:"format"`
	Ranges      []RangeConfig     `yaml:"ranges"`
	Path        string            `yaml:"path"`
}

// QueryConfig defines the search a metric runs and the aggregation levels
// whose leaves become samples.
type QueryConfig struct {
	Indices           []string      `yaml:"indices"`
	FilterQuery       string        `yaml:"filter_query"`
	FilterQueryString string        `yaml:"filter_query_string"`
	Levels            []LevelConfig `yaml:"levels"`
}

// MetricConfig defines a single Prometheus metric derived from an ES query.
type MetricConfig struct {
	Name   string      `yaml:"name"`
	Help   string      `yaml:"help"`
	Type   string      `yaml:"type"`
	Query  QueryConfig `yaml:"query"`
	Labels LabelConfig `yaml:"labels"`
}

// TopLevelMetrics is used for unmarshalling YAML files containing a list of metrics.
type TopLevelMetrics struct {
	Metrics []MetricConfig `yaml:"metrics"`
}

// Default values
const (
	DefaultQuerySize = 10
	DefaultTimeout   = 10 * time.Second
)

var (
	metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	labelNameRE  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Validate checks metric configuration for basic correctness and applies defaults.
func (mc *MetricConfig) Validate() error {
	if mc.Name == "" {
		return fmt.Errorf("metric name is required")
	}
	if !isValidMetricName(mc.Name) {
		return fmt.Errorf("invalid metric name: %s", mc.Name)
	}
	if mc.Help == "" {
		return fmt.Errorf("metric help string is required for metric %q", mc.Name)
	}
	if mc.Type != "gauge" && mc.Type != "Gauge" && mc.Type != "" {
		return fmt.Errorf("invalid metric type %q for metric %q: only 'gauge' is supported", mc.Type, mc.Name)
	}
	if len(mc.Query.Indices) == 0 {
		return fmt.Errorf("query.indices list cannot be empty for metric %q", mc.Name)
	}
	if mc.Query.FilterQuery != "" && mc.Query.FilterQueryString != "" {
		return fmt.Errorf("cannot specify both query.filter_query and query.filter_query_string for metric %q", mc.Name)
	}
	if mc.Query.FilterQuery != "" && !json.Valid([]byte(mc.Query.FilterQuery)) {
		return fmt.Errorf("query.filter_query is not valid JSON for metric %q", mc.Name)
	}
	if len(mc.Query.Levels) == 0 {
		return fmt.Errorf("query.levels cannot be empty for metric %q", mc.Name)
	}

	seen := make(map[string]bool)
	for k := range mc.Labels.Static {
		if !isValidLabelName(k) {
			return fmt.Errorf("invalid static label name: %s", k)
		}
		seen[k] = true
	}
	for i := range mc.Query.Levels {
		lvl := &mc.Query.Levels[i]
		if err := lvl.validate(i == len(mc.Query.Levels)-1); err != nil {
			return fmt.Errorf("query.levels[%d] of metric %q: %w", i, mc.Name, err)
		}
		if lvl.Label == "" {
			continue
		}
		if !isValidLabelName(lvl.Label) {
			return fmt.Errorf("invalid label name %s in metric %q", lvl.Label, mc.Name)
		}
		if seen[lvl.Label] {
			return fmt.Errorf("duplicate label name %s in metric %q", lvl.Label, mc.Name)
		}
		seen[lvl.Label] = true
	}

	if mc.Type == "" {
		mc.Type = "gauge"
	}
	return nil
}

func (l *LevelConfig) validate(last bool) error {
	switch l.Type {
	case "terms":
		if l.Field == "" {
			return fmt.Errorf("terms level requires a field")
		}
		if l.Size < 0 {
			return fmt.Errorf("size cannot be negative")
		}
		if l.MinDocCount != nil && *l.MinDocCount < 0 {
			return fmt.Errorf("min_doc_count cannot be negative")
		}
		if l.Size == 0 {
			l.Size = DefaultQuerySize
		}
	case "filter":
		if l.Query == "" || !json.Valid([]byte(l.Query)) {
			return fmt.Errorf("filter level requires a JSON query")
		}
	case "filters":
		if len(l.Filters) == 0 {
			return fmt.Errorf("filters level requires at least one filter")
		}
		for name, q := range l.Filters {
			if !json.Valid([]byte(q)) {
				return fmt.Errorf("filter %q is not valid JSON", name)
			}
		}
	case "date_histogram":
		if l.Field == "" || l.Interval == "" {
			return fmt.Errorf("date_histogram level requires a field and an interval")
		}
	case "range":
		if l.Field == "" || len(l.Ranges) == 0 {
			return fmt.Errorf("range level requires a field and ranges")
		}
	case "nested":
		if l.Path == "" {
			return fmt.Errorf("nested level requires a path")
		}
	case "sum", "min", "max":
		if l.Field == "" {
			return fmt.Errorf("%s level requires a field", l.Type)
		}
		if !last {
			return fmt.Errorf("%s level must be the last level", l.Type)
		}
	default:
		return fmt.Errorf("unknown level type %q", l.Type)
	}
	if l.Label != "" && !l.Bucketed() {
		return fmt.Errorf("%s level has no bucket key to label", l.Type)
	}
	return nil
}

// Bucketed reports whether the level yields one entry per bucket key.
func (l *LevelConfig) Bucketed() bool {
	switch l.Type {
	case "terms", "filters", "date_histogram", "range":
		return true
	}
	return false
}

func isValidMetricName(name string) bool {
	return metricNameRE.MatchString(name)
}

func isValidLabelName(name string) bool {
	if len(name) > 2 && name[:2] == "__" {
		return false
	}
	return labelNameRE.MatchString(name)
}
