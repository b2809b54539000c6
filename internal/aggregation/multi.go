package aggregation

import (
	"fmt"
	"strconv"
	"strings"
)

// Multi groups sibling aggregations under labels. Request keys are prefixed
// with the sibling position ("0_", "1_", ...) so that siblings never collide;
// the prefix is stripped again when parsing the response.
type Multi struct {
	labels []string
	aggs   map[string]Aggregation
}

// NewMulti returns an empty Multi.
func NewMulti() *Multi {
	return &Multi{aggs: make(map[string]Aggregation)}
}

// Set registers agg under label. Re-using a label replaces the aggregation
// but keeps its original position.
func (m *Multi) Set(label string, agg Aggregation) *Multi {
	if _, ok := m.aggs[label]; !ok {
		m.labels = append(m.labels, label)
	}
	m.aggs[label] = agg
	return m
}

// Labels returns the labels in insertion order.
func (m *Multi) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Len is the number of siblings.
func (m *Multi) Len() int { return len(m.labels) }

// GenerateQuery merges the sibling requests with positional prefixes.
func (m *Multi) GenerateQuery() map[string]any {
	out := make(map[string]any)
	for i, label := range m.labels {
		for key, q := range m.aggs[label].GenerateQuery() {
			out[fmt.Sprintf("%d_%s", i, key)] = q
		}
	}
	return out
}

// GenerateResults splits raw by positional prefix and parses each sibling
// under its label. The response's own doc_count and keys without a numeric
// prefix are ignored.
func (m *Multi) GenerateResults(raw map[string]any) (Result, error) {
	sets := make(map[int]map[string]any)
	for key, v := range raw {
		if key == "doc_count" {
			continue
		}
		idx, rest, ok := splitPrefix(key)
		if !ok {
			continue
		}
		if sets[idx] == nil {
			sets[idx] = make(map[string]any)
		}
		sets[idx][rest] = v
	}

	out := newResult()
	for i, label := range m.labels {
		sub, err := m.aggs[label].GenerateResults(sets[i])
		if err != nil {
			return Result{}, fmt.Errorf("multi %q: %w", label, err)
		}
		out.Aggs[label] = sub
		out.Total += sub.Total
	}
	return out, nil
}

func splitPrefix(key string) (int, string, bool) {
	head, rest, ok := strings.Cut(key, "_")
	if !ok || head == "" {
		return 0, "", false
	}
	idx, err := strconv.Atoi(head)
	if err != nil || idx < 0 {
		return 0, "", false
	}
	return idx, rest, true
}
