package exporter

import (
	"fmt"
	"regexp"

	"github.com/AlectoTheFirst/esidx/internal/aggregation"
	"github.com/AlectoTheFirst/esidx/internal/config"
	"github.com/AlectoTheFirst/esidx/internal/search"
)

// calendarIntervalRE matches intervals date_histogram only accepts as
// calendar_interval. Anything else is sent as fixed_interval.
var calendarIntervalRE = regexp.MustCompile(`^(1[mhdwMqy]|minute|hour|day|week|month|quarter|year)$`)

// BuildAggregation chains levels into a single aggregation, each level nested
// under the previous one.
func BuildAggregation(levels []config.LevelConfig) (*aggregation.Node, error) {
	root := aggregation.Make()
	for i, l := range levels {
		n, err := levelNode(l)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", i, err)
		}
		if err := root.Add(n); err != nil {
			return nil, fmt.Errorf("level %d: %w", i, err)
		}
	}
	return root, nil
}

func levelNode(l config.LevelConfig) (*aggregation.Node, error) {
	switch l.Type {
	case "terms":
		opts := map[string]any{"size": l.Size}
		if l.Missing != nil {
			opts["missing"] = *l.Missing
		}
		if l.MinDocCount != nil {
			opts["min_doc_count"] = *l.MinDocCount
		}
		return aggregation.Terms(l.Field, opts), nil
	case "filter":
		q, err := search.ParseQuery(l.Query)
		if err != nil {
			return nil, err
		}
		return aggregation.Filter(q, ""), nil
	case "filters":
		filters := make(map[string]any, len(l.Filters))
		for name, raw := range l.Filters {
			q, err := search.ParseQuery(raw)
			if err != nil {
				return nil, fmt.Errorf("filter %q: %w", name, err)
			}
			filters[name] = q
		}
		return aggregation.Filters(filters), nil
	case "date_histogram":
		opts := map[string]any{}
		if calendarIntervalRE.MatchString(l.Interval) {
			opts["calendar_interval"] = l.Interval
		} else {
			opts["fixed_interval"] = l.Interval
		}
		if l.Format != "" {
			opts["format"] = l.Format
		}
		return aggregation.DateHistogram(l.Field, opts, l.Format != ""), nil
	case "range":
		ranges := make([]map[string]any, 0, len(l.Ranges))
		for _, r := range l.Ranges {
			rng := map[string]any{}
			if r.Key != "" {
				rng["key"] = r.Key
			}
			if r.From != nil {
				rng["from"] = *r.From
			}
			if r.To != nil {
				rng["to"] = *r.To
			}
			ranges = append(ranges, rng)
		}
		return aggregation.Range(l.Field, ranges, nil), nil
	case "nested":
		return aggregation.Nested(l.Path), nil
	case "sum":
		return aggregation.Sum(l.Field, ""), nil
	case "min":
		return aggregation.Min(l.Field, ""), nil
	case "max":
		return aggregation.Max(l.Field, ""), nil
	}
	return nil, fmt.Errorf("unknown level type %q", l.Type)
}
