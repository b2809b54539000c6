// Package aggregation composes nested aggregation requests and parses the
// matching responses into a normalized tree of totals and labelled values.
package aggregation

import (
	"errors"
	"maps"
	"strconv"
)

// ErrMultiAlreadySet is returned by Node.Add once a Multi has been attached.
var ErrMultiAlreadySet = errors.New("a multi aggregation is set, no further aggregations can be added")

// Kind selects the default result generator of a Node.
type Kind int

const (
	KindIdentity Kind = iota
	KindFilter
	KindFilters
	KindTerms
	KindDateHistogram
	KindRange
	KindTopHits
	KindAggs
	KindSum
	KindMin
	KindMax
	KindNested
	KindReverseNested
	KindGlobal
)

var kindNames = map[Kind]string{
	KindIdentity:      "identity",
	KindFilter:        "filter",
	KindFilters:       "filters",
	KindTerms:         "terms",
	KindDateHistogram: "date_histogram",
	KindRange:         "range",
	KindTopHits:       "top_hits",
	KindAggs:          "aggs",
	KindSum:           "sum",
	KindMin:           "min",
	KindMax:           "max",
	KindNested:        "nested",
	KindReverseNested: "reverse_nested",
	KindGlobal:        "global",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Aggregation is either a *Node or a *Multi.
type Aggregation interface {
	GenerateQuery() map[string]any
	GenerateResults(raw map[string]any) (Result, error)
}

// Node is one level of an aggregation request: a single named fragment, the
// generator parsing its response, the flattened chain of levels nested under
// it and an optional terminal Multi.
//
// The zero value is the identity node: it contributes nothing to the request
// and passes its input through to the next level.
type Node struct {
	name string
	body map[string]any
	kind Kind

	// key and valueField parameterize single-value and keyed generators.
	key         string
	valueField  string
	keyAsString bool

	generator Generator

	chain []*Node
	multi *Multi
}

// NewNode creates a node whose request fragment is {name: body}.
func NewNode(kind Kind, name string, body map[string]any) *Node {
	return &Node{kind: kind, name: name, body: body}
}

// Make returns an identity node, useful as the root of a pipeline.
func Make() *Node { return &Node{} }

// Name is the request key of this node, empty for the identity node.
func (n *Node) Name() string { return n.name }

// Kind reports the aggregation kind.
func (n *Node) Kind() Kind { return n.kind }

// WithGenerator overrides the default generator of the node's kind.
func (n *Node) WithGenerator(g Generator) *Node {
	n.generator = g
	return n
}

// WithKey sets the label single-value generators yield under.
func (n *Node) WithKey(key string) *Node {
	n.key = key
	return n
}

// Generator returns the override if one is set, else the default for Kind.
func (n *Node) Generator() Generator {
	if n.generator != nil {
		return n.generator
	}
	switch n.kind {
	case KindIdentity:
		return EmptyGenerator()
	case KindFilter, KindNested, KindReverseNested, KindGlobal:
		return SingleValueGenerator(n.name, n.key, "doc_count")
	case KindSum, KindMin, KindMax:
		return SingleValueGenerator(n.name, n.key, "value")
	case KindFilters:
		return KeyedBucketGenerator(n.name, n.valueField)
	default:
		return BucketGenerator(n.name, n.keyAsString)
	}
}

// Add attaches agg below the node. A Multi becomes the terminal group. A Node
// is flattened into the chain ahead of its own chain and hands over its Multi;
// an identity node only contributes its chain.
func (n *Node) Add(agg Aggregation) error {
	if agg == nil {
		return nil
	}
	if n.multi != nil {
		return ErrMultiAlreadySet
	}
	switch a := agg.(type) {
	case *Multi:
		n.multi = a
	case *Node:
		if a == nil {
			return nil
		}
		n.multi = a.multi
		if a.name != "" {
			n.chain = append(n.chain, a)
		}
		n.chain = append(n.chain, a.chain...)
	}
	return nil
}

// MustAdd is like Add but panics on error. It returns n for chaining.
func (n *Node) MustAdd(aggs ...Aggregation) *Node {
	for _, a := range aggs {
		if err := n.Add(a); err != nil {
			panic(err)
		}
	}
	return n
}

func (n *Node) levels() []Aggregation {
	out := make([]Aggregation, 0, len(n.chain)+1)
	for _, c := range n.chain {
		out = append(out, c)
	}
	if n.multi != nil {
		out = append(out, n.multi)
	}
	return out
}

func (n *Node) fragment() map[string]any {
	if n.name == "" {
		return map[string]any{}
	}
	body := make(map[string]any, len(n.body)+1)
	maps.Copy(body, n.body)
	return map[string]any{n.name: body}
}

// GenerateQuery renders the request: the node's fragment with the next level
// grafted under its "aggs" key.
func (n *Node) GenerateQuery() map[string]any {
	return n.queryWith(n.levels())
}

func (n *Node) queryWith(levels []Aggregation) map[string]any {
	if len(levels) == 0 {
		return n.fragment()
	}
	sub := queryOf(levels)
	if n.name == "" {
		return sub
	}
	frag := n.fragment()
	frag[n.name].(map[string]any)["aggs"] = sub
	return frag
}

func queryOf(levels []Aggregation) map[string]any {
	switch next := levels[0].(type) {
	case *Node:
		return next.queryWith(levels[1:])
	default:
		return next.GenerateQuery()
	}
}

// GenerateResults parses a raw "aggregations" object.
func (n *Node) GenerateResults(raw map[string]any) (Result, error) {
	return n.resultsWith(raw, n.levels())
}

func (n *Node) resultsWith(raw map[string]any, levels []Aggregation) (Result, error) {
	seq, err := n.Generator()(raw)
	if err != nil {
		return Result{}, err
	}

	out := newResult()
	anonymous := 0
	for key, res := range seq {
		if len(levels) == 0 {
			label := key.Label
			if key.Anonymous {
				label = strconv.Itoa(anonymous)
				anonymous++
			}
			// a repeated label keeps the last value and is counted once
			if _, seen := out.Aggs[label]; !seen {
				out.Total++
			}
			out.Aggs[label] = res.Value
			continue
		}

		sub, err := resultsOf(levels, res.Carry)
		if err != nil {
			return Result{}, err
		}
		switch {
		case key.Anonymous:
			mergeAggs(out.Aggs, sub.Aggs)
		default:
			if existing, ok := out.Aggs[key.Label].(Result); ok {
				out.Aggs[key.Label] = existing.Merge(sub)
			} else {
				out.Aggs[key.Label] = sub
			}
		}
		out.Total += sub.Total
	}
	return out, nil
}

func resultsOf(levels []Aggregation, raw map[string]any) (Result, error) {
	switch next := levels[0].(type) {
	case *Node:
		return next.resultsWith(raw, levels[1:])
	default:
		return next.GenerateResults(raw)
	}
}
