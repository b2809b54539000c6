package aggregation

// Result is the parsed form of one aggregation level. Aggs values are either
// leaf values taken from the response or nested Results.
type Result struct {
	Total int            `json:"Total"`
	Aggs  map[string]any `json:"aggs"`
}

func newResult() Result {
	return Result{Aggs: make(map[string]any)}
}

// Merge combines two results parsed under the same key: totals add up and
// nested results are merged recursively. Leaf values of other win.
func (r Result) Merge(other Result) Result {
	out := Result{Total: r.Total + other.Total, Aggs: make(map[string]any, len(r.Aggs)+len(other.Aggs))}
	mergeAggs(out.Aggs, r.Aggs)
	mergeAggs(out.Aggs, other.Aggs)
	return out
}

func mergeAggs(dst, src map[string]any) {
	for k, v := range src {
		if incoming, ok := v.(Result); ok {
			if existing, ok := dst[k].(Result); ok {
				dst[k] = existing.Merge(incoming)
				continue
			}
		}
		dst[k] = v
	}
}

// Walk visits every leaf value with the labels leading to it.
func (r Result) Walk(fn func(path []string, value any)) {
	r.walk(nil, fn)
}

func (r Result) walk(path []string, fn func([]string, any)) {
	for k, v := range r.Aggs {
		p := append(path[:len(path):len(path)], k)
		if sub, ok := v.(Result); ok {
			sub.walk(p, fn)
			continue
		}
		fn(p, v)
	}
}
