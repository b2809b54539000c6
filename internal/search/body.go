// Package search assembles Elasticsearch request bodies.
package search

import (
	"encoding/json"
	"fmt"

	"github.com/AlectoTheFirst/esidx/internal/aggregation"
)

// DefaultSize is the page size used when Limit is not called.
const DefaultSize = 10000

// Body builds a search request. The zero value is not usable; call New.
type Body struct {
	query          map[string]any
	filters        []any
	postFilter     map[string]any
	from           int
	size           int
	aggs           aggregation.Aggregation
	highlight      map[string]any
	sort           []any
	sortSet        bool
	source         any
	rescore        []any
	scriptFields   map[string]any
	docvalueFields []any
	minScore       *float64
}

// New returns a body matching all documents, sorted by score, without
// _source.
func New() *Body {
	return &Body{size: DefaultSize, source: false}
}

// Query sets the main query.
func (b *Body) Query(q map[string]any) *Body {
	b.query = q
	return b
}

// Filter adds non-scoring clauses. They are combined with the query in a
// bool query.
func (b *Body) Filter(clauses ...map[string]any) *Body {
	for _, c := range clauses {
		b.filters = append(b.filters, c)
	}
	return b
}

// QueryString filters on a Lucene query string.
func (b *Body) QueryString(q string) *Body {
	if q == "" {
		return b
	}
	return b.Filter(map[string]any{"query_string": map[string]any{"query": q}})
}

// PostFilter filters hits after aggregations ran.
func (b *Body) PostFilter(f map[string]any) *Body {
	b.postFilter = f
	return b
}

// Limit sets size and from.
func (b *Body) Limit(size, from int) *Body {
	b.size, b.from = size, from
	return b
}

// Aggregations attaches an aggregation tree.
func (b *Body) Aggregations(agg aggregation.Aggregation) *Body {
	b.aggs = agg
	return b
}

// Highlight sets the highlight section.
func (b *Body) Highlight(h map[string]any) *Body {
	b.highlight = h
	return b
}

// Sort replaces the sort. Called with no clauses it disables sorting,
// which otherwise defaults to _score descending.
func (b *Body) Sort(clauses ...any) *Body {
	b.sort = clauses
	b.sortSet = true
	return b
}

// Source selects the _source fields returned with each hit.
func (b *Body) Source(fields ...string) *Body {
	b.source = fields
	return b
}

// WithSource sets _source verbatim: true, false, a pattern or a filter
// object.
func (b *Body) WithSource(v any) *Body {
	b.source = v
	return b
}

// Rescore adds rescore passes.
func (b *Body) Rescore(r ...map[string]any) *Body {
	for _, x := range r {
		b.rescore = append(b.rescore, x)
	}
	return b
}

// ScriptField adds a computed field.
func (b *Body) ScriptField(name string, script map[string]any) *Body {
	if b.scriptFields == nil {
		b.scriptFields = make(map[string]any)
	}
	b.scriptFields[name] = map[string]any{"script": script}
	return b
}

// DocvalueFields adds doc value fields.
func (b *Body) DocvalueFields(fields ...string) *Body {
	for _, f := range fields {
		b.docvalueFields = append(b.docvalueFields, f)
	}
	return b
}

// MinScore drops hits scoring below min.
func (b *Body) MinScore(min float64) *Body {
	b.minScore = &min
	return b
}

// Build returns the request body.
func (b *Body) Build() map[string]any {
	out := map[string]any{
		"from": b.from,
		"size": b.size,
	}

	switch {
	case len(b.filters) > 0:
		boolQuery := map[string]any{"filter": b.filters}
		if b.query != nil {
			boolQuery["must"] = []any{b.query}
		}
		out["query"] = map[string]any{"bool": boolQuery}
	case b.query != nil:
		out["query"] = b.query
	}

	if b.postFilter != nil {
		out["post_filter"] = b.postFilter
	}
	if b.aggs != nil {
		if aggs := b.aggs.GenerateQuery(); len(aggs) > 0 {
			out["aggs"] = aggs
		}
	}
	if len(b.highlight) > 0 {
		out["highlight"] = b.highlight
	}
	switch {
	case !b.sortSet:
		out["sort"] = []any{map[string]any{"_score": map[string]any{"order": "desc"}}}
	case len(b.sort) > 0:
		out["sort"] = b.sort
	}
	out["_source"] = b.source
	if len(b.rescore) > 0 {
		out["rescore"] = b.rescore
	}
	if len(b.scriptFields) > 0 {
		out["script_fields"] = b.scriptFields
	}
	if len(b.docvalueFields) > 0 {
		out["docvalue_fields"] = b.docvalueFields
	}
	if b.minScore != nil {
		out["min_score"] = *b.minScore
	}
	return out
}

// String renders the body as JSON.
func (b *Body) String() string {
	data, err := json.Marshal(b.Build())
	if err != nil {
		return fmt.Sprintf("%%!(invalid body: %v)", err)
	}
	return string(data)
}

// ParseQuery decodes a JSON query clause.
func ParseQuery(s string) (map[string]any, error) {
	var q map[string]any
	if err := json.Unmarshal([]byte(s), &q); err != nil {
		return nil, fmt.Errorf("invalid query JSON: %w", err)
	}
	return q, nil
}
