package aggregation

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
)

// ErrMalformedResult is returned when a raw aggregation response does not
// have the shape the generator of a node expects.
var ErrMalformedResult = errors.New("malformed aggregation result")

// Key identifies one entry produced by a Generator. Anonymous keys carry no
// label; their parsed sub-results are merged into the parent level.
type Key struct {
	Label     string
	Anonymous bool
}

// Named returns a labelled key.
func Named(label string) Key { return Key{Label: label} }

// AggResult pairs the value derived for one bucket with the raw sub-tree the
// next aggregation level is parsed from.
type AggResult struct {
	Value any
	Carry map[string]any
}

// Generator turns a raw aggregation response into a lazy, single-pass
// sequence of keyed results. Shape validation happens before the sequence is
// returned, so iterating it never fails.
type Generator func(raw map[string]any) (iter.Seq2[Key, AggResult], error)

// EmptyGenerator yields a single anonymous result carrying the whole input.
// It backs the identity node returned by Make.
func EmptyGenerator() Generator {
	return func(raw map[string]any) (iter.Seq2[Key, AggResult], error) {
		return func(yield func(Key, AggResult) bool) {
			yield(Key{Anonymous: true}, AggResult{Value: 0, Carry: raw})
		}, nil
	}
}

// SingleValueGenerator reads raw[name][valueField]. An empty key yields an
// anonymous entry.
func SingleValueGenerator(name, key, valueField string) Generator {
	if valueField == "" {
		valueField = "doc_count"
	}
	return func(raw map[string]any) (iter.Seq2[Key, AggResult], error) {
		node, err := nodeOf(raw, name)
		if err != nil {
			return nil, err
		}
		value, ok := node[valueField]
		if !ok {
			return nil, fmt.Errorf("%w: %q has no %q field", ErrMalformedResult, name, valueField)
		}
		k := Key{Label: key, Anonymous: key == ""}
		return func(yield func(Key, AggResult) bool) {
			yield(k, AggResult{Value: value, Carry: node})
		}, nil
	}
}

// shape is the decoded form of a bucket-style response. A response can match
// more than one shape at once; every matching shape is emitted.
type shape struct {
	node     map[string]any
	buckets  []map[string]any
	hasHits  bool
	docCount bool
}

func classify(raw map[string]any, name string) (shape, error) {
	node, err := nodeOf(raw, name)
	if err != nil {
		return shape{}, err
	}
	s := shape{node: node}

	if b, ok := node["buckets"]; ok && b != nil {
		list, ok := b.([]any)
		if !ok {
			return shape{}, fmt.Errorf("%w: %q buckets is %T, not a list", ErrMalformedResult, name, b)
		}
		for i, item := range list {
			bucket, ok := item.(map[string]any)
			if !ok {
				return shape{}, fmt.Errorf("%w: %q bucket %d is %T", ErrMalformedResult, name, i, item)
			}
			if _, ok := bucket["key"]; !ok {
				return shape{}, fmt.Errorf("%w: %q bucket %d has no key", ErrMalformedResult, name, i)
			}
			if _, ok := bucket["doc_count"]; !ok {
				return shape{}, fmt.Errorf("%w: %q bucket %d has no doc_count", ErrMalformedResult, name, i)
			}
			s.buckets = append(s.buckets, bucket)
		}
		if s.buckets == nil {
			s.buckets = []map[string]any{}
		}
	}

	if hits, ok := node["hits"].(map[string]any); ok {
		if _, ok := hits["hits"]; ok {
			s.hasHits = true
		}
	}

	if dc, ok := node["doc_count"]; ok && dc != nil {
		s.docCount = true
	}

	if s.buckets == nil && !s.hasHits && !s.docCount {
		return shape{}, fmt.Errorf("%w: %q has neither buckets, hits nor doc_count", ErrMalformedResult, name)
	}
	return s, nil
}

// BucketGenerator handles bucket lists (terms, histogram, range), top hits and
// bare doc_count shapes, in that order. With keyAsString the bucket label is
// taken from key_as_string when present.
func BucketGenerator(name string, keyAsString bool) Generator {
	return func(raw map[string]any) (iter.Seq2[Key, AggResult], error) {
		s, err := classify(raw, name)
		if err != nil {
			return nil, err
		}
		return func(yield func(Key, AggResult) bool) {
			for _, bucket := range s.buckets {
				label := BucketKeyString(bucket["key"])
				if keyAsString {
					if ks, ok := bucket["key_as_string"].(string); ok {
						label = ks
					}
				}
				if !yield(Named(label), AggResult{Value: bucket["doc_count"], Carry: bucket}) {
					return
				}
			}
			if s.hasHits {
				if !yield(Named(name), AggResult{Value: s.node, Carry: s.node}) {
					return
				}
			}
			if s.docCount {
				yield(Named(name), AggResult{Value: raw, Carry: s.node})
			}
		}, nil
	}
}

// KeyedBucketGenerator handles responses whose buckets are an object keyed by
// label, such as the filters aggregation. Labels are yielded in sorted order.
func KeyedBucketGenerator(name, valueField string) Generator {
	if valueField == "" {
		valueField = "doc_count"
	}
	return func(raw map[string]any) (iter.Seq2[Key, AggResult], error) {
		node, err := nodeOf(raw, name)
		if err != nil {
			return nil, err
		}
		buckets, ok := node["buckets"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q buckets is %T, not an object", ErrMalformedResult, name, node["buckets"])
		}
		labels := make([]string, 0, len(buckets))
		parsed := make(map[string]map[string]any, len(buckets))
		for label, item := range buckets {
			bucket, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %q bucket %q is %T", ErrMalformedResult, name, label, item)
			}
			if _, ok := bucket[valueField]; !ok {
				return nil, fmt.Errorf("%w: %q bucket %q has no %q field", ErrMalformedResult, name, label, valueField)
			}
			labels = append(labels, label)
			parsed[label] = bucket
		}
		slices.Sort(labels)
		return func(yield func(Key, AggResult) bool) {
			for _, label := range labels {
				bucket := parsed[label]
				if !yield(Named(label), AggResult{Value: bucket[valueField], Carry: bucket}) {
					return
				}
			}
		}, nil
	}
}

func nodeOf(raw map[string]any, name string) (map[string]any, error) {
	v, ok := raw[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedResult, name)
	}
	node, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %T, not an object", ErrMalformedResult, name, v)
	}
	return node, nil
}

// BucketKeyString converts a bucket key to its string representation.
func BucketKeyString(key any) string {
	switch v := key.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}
