package aggregation

import "maps"

// Filter builds a "filter_agg" single-bucket aggregation. Its result is
// stored under key, or merged into the parent when key is empty.
func Filter(query map[string]any, key string) *Node {
	n := NewNode(KindFilter, "filter_agg", map[string]any{"filter": query})
	n.key = key
	return n
}

// Filters builds a "filters_agg" aggregation over named filters.
func Filters(filters map[string]any) *Node {
	return NewNode(KindFilters, "filters_agg", map[string]any{
		"filters": map[string]any{"filters": filters},
	})
}

// Terms builds a "{field}_terms_agg" aggregation.
func Terms(field string, opts map[string]any) *Node {
	body := withOpts(opts)
	if field != "" {
		body["field"] = field
	}
	return NewNode(KindTerms, field+"_terms_agg", map[string]any{"terms": body})
}

// Aggs builds a "{method}_aggs" aggregation of an arbitrary bucket method.
func Aggs(method string, opts map[string]any) *Node {
	return NewNode(KindAggs, method+"_aggs", map[string]any{method: withOpts(opts)})
}

// TopHits builds a "top_hits_aggs" aggregation.
func TopHits(opts map[string]any) *Node {
	n := Aggs("top_hits", opts)
	n.kind = KindTopHits
	return n
}

// DateHistogram builds a "{field}_date_histogram_agg" aggregation. With
// keyAsString buckets are labelled by their formatted key.
func DateHistogram(field string, opts map[string]any, keyAsString bool) *Node {
	body := withOpts(opts)
	body["field"] = field
	n := NewNode(KindDateHistogram, field+"_date_histogram_agg", map[string]any{"date_histogram": body})
	n.keyAsString = keyAsString
	return n
}

// Range builds a "{field}_range_agg" aggregation.
func Range(field string, ranges []map[string]any, opts map[string]any) *Node {
	body := withOpts(opts)
	body["field"] = field
	body["ranges"] = ranges
	return NewNode(KindRange, field+"_range_agg", map[string]any{"range": body})
}

// Sum builds a "{field}_sum_agg" metric labelled key ("Sum" when empty).
func Sum(field, key string) *Node { return metric(KindSum, "sum", field, key, "Sum") }

// Min builds a "{field}_min_agg" metric labelled key ("Min" when empty).
func Min(field, key string) *Node { return metric(KindMin, "min", field, key, "Min") }

// Max builds a "{field}_max_agg" metric labelled key ("Max" when empty).
func Max(field, key string) *Node { return metric(KindMax, "max", field, key, "Max") }

func metric(kind Kind, method, field, key, def string) *Node {
	if key == "" {
		key = def
	}
	n := NewNode(kind, field+"_"+method+"_agg", map[string]any{
		method: map[string]any{"field": field},
	})
	n.key = key
	n.valueField = "value"
	return n
}

// Nested builds a "{path}_nested_agg" aggregation.
func Nested(path string) *Node {
	return NewNode(KindNested, path+"_nested_agg", map[string]any{
		"nested": map[string]any{"path": path},
	})
}

// ReverseNested builds a "reverse_nested_agg" aggregation.
func ReverseNested() *Node {
	return NewNode(KindReverseNested, "reverse_nested_agg", map[string]any{
		"reverse_nested": map[string]any{},
	})
}

// Global builds a global aggregation named name ("all_products" when empty).
func Global(name string) *Node {
	if name == "" {
		name = "all_products"
	}
	return NewNode(KindGlobal, name, map[string]any{"global": map[string]any{}})
}

func withOpts(opts map[string]any) map[string]any {
	body := make(map[string]any, len(opts)+2)
	maps.Copy(body, opts)
	return body
}
