// Package hydrate turns raw search hits into keyed rows or domain models.
package hydrate

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/theory/jsonpath"
)

// MaxModels caps how many hits Models will materialize.
const MaxModels = 1000

// SearchResultError is returned when a result set is too large to be
// turned into models.
type SearchResultError struct {
	Count int
	Limit int
}

func (e *SearchResultError) Error() string {
	return fmt.Sprintf("maximum number of models in a result is %d, got %d", e.Limit, e.Count)
}

// Model is a domain object that can be filled from a hit.
type Model interface {
	// AttributeNames lists every attribute a complete model carries.
	AttributeNames() []string
	SetAttributes(attrs map[string]any)
	Attribute(name string) (any, bool)
}

// Factory creates models and re-fetches them from the source of truth.
type Factory[M Model] interface {
	New() M
	Find(ctx context.Context, id any) (M, bool, error)
}

// Populator converts one search result. Hits are read from
// result["hits"]["hits"], or from result itself when it is a list.
type Populator struct {
	result  any
	indexBy string
	keyFn   func(any) string

	selector  *jsonpath.Path
	spread    bool
	selectErr error
}

// New wraps a decoded search response or a list of hits. Entries are keyed
// by their "id" field unless IndexBy or IndexByFunc says otherwise.
func New(result any) *Populator {
	return &Populator{result: result, indexBy: "id"}
}

// IndexBy keys entries by a field. An empty field keys them by position
// (by _id for models).
func (p *Populator) IndexBy(field string) *Populator {
	p.indexBy = field
	p.keyFn = nil
	return p
}

// IndexByFunc keys entries by fn. Rows receive the raw hit, models the
// hydrated model. An empty key falls back to position.
func (p *Populator) IndexByFunc(fn func(any) string) *Populator {
	p.keyFn = fn
	return p
}

// Select projects every hit before hydration. "*" keeps the whole hit,
// "a.b" takes a nested value and "a.b.*" spreads the children of a nested
// list or object into the result. Paths starting with "$" are JSONPath
// queries whose matches are all kept.
func (p *Populator) Select(path string) *Populator {
	p.selector, p.selectErr, p.spread = nil, nil, false
	switch {
	case path == "" || path == "*":
		return p
	case strings.HasPrefix(path, "$"):
		p.selector, p.selectErr = jsonpath.Parse(path)
		p.spread = true
	case strings.HasSuffix(path, ".*"):
		p.selector, p.selectErr = jsonpath.Parse(dottedToJSONPath(strings.TrimSuffix(path, ".*")) + "[*]")
		p.spread = true
	default:
		p.selector, p.selectErr = jsonpath.Parse(dottedToJSONPath(path))
	}
	if p.selectErr != nil {
		p.selectErr = fmt.Errorf("invalid select %q: %w", path, p.selectErr)
	}
	return p
}

func dottedToJSONPath(path string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(path, ".") {
		name := "'" + strings.ReplaceAll(strings.ReplaceAll(seg, `\`, `\\`), `'`, `\'`) + "'"
		if _, err := strconv.Atoi(seg); err == nil {
			// lists are indexed, objects are keyed by the digit string
			b.WriteString("[" + seg + "," + name + "]")
			continue
		}
		b.WriteString("[" + name + "]")
	}
	return b.String()
}

func (p *Populator) items() ([]any, error) {
	if p.selectErr != nil {
		return nil, p.selectErr
	}

	var items []any
	switch r := p.result.(type) {
	case nil:
	case []any:
		items = r
	case []map[string]any:
		items = make([]any, len(r))
		for i, m := range r {
			items[i] = m
		}
	case map[string]any:
		if hits, ok := r["hits"].(map[string]any); ok {
			list, _ := hits["hits"].([]any)
			items = list
			break
		}
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			items = append(items, r[k])
		}
	default:
		return nil, fmt.Errorf("unsupported search result type %T", p.result)
	}

	if p.selector == nil {
		return items, nil
	}
	var out []any
	for _, item := range items {
		nodes := p.selector.Select(item)
		if p.spread {
			out = append(out, nodes...)
			continue
		}
		if len(nodes) > 0 && truthy(nodes[0]) {
			out = append(out, nodes[0])
		}
	}
	return out, nil
}

// Rows returns the hits keyed per IndexBy, with _source unwrapped.
func (p *Populator) Rows() (*Set[any], error) {
	items, err := p.items()
	if err != nil {
		return nil, err
	}
	out := newSet[any]()
	for _, item := range items {
		key := p.rowKey(item)
		row := item
		if m, ok := item.(map[string]any); ok {
			if src, ok := m["_source"].(map[string]any); ok && len(src) > 0 {
				row = src
			}
		}
		if key == "" {
			out.Append(row)
			continue
		}
		out.Put(key, row)
	}
	return out, nil
}

// OneRow returns the last row.
func (p *Populator) OneRow() (any, bool, error) {
	rows, err := p.Rows()
	if err != nil {
		return nil, false, err
	}
	_, row, ok := rows.Last()
	return row, ok, nil
}

func (p *Populator) rowKey(item any) string {
	if p.keyFn != nil {
		return p.keyFn(item)
	}
	if p.indexBy == "" {
		return ""
	}
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	if fields, ok := m["fields"].(map[string]any); ok {
		if v, ok := fields[p.indexBy]; ok {
			if list, ok := v.([]any); ok {
				if len(list) > 0 {
					return keyString(list[0])
				}
			} else {
				return keyString(v)
			}
		}
	}
	if src, ok := m["_source"].(map[string]any); ok {
		if v, ok := src[p.indexBy]; ok {
			return keyString(v)
		}
	}
	if v, ok := m[p.indexBy]; ok {
		return keyString(v)
	}
	return ""
}

// Models hydrates every hit into a model from f. Hits whose attribute set
// does not match a complete model are re-fetched by _id (or the IndexBy
// field); hits that cannot be re-fetched are skipped. More than MaxModels
// hits fail before any model is built.
func Models[M Model](ctx context.Context, p *Populator, f Factory[M]) (*Set[M], error) {
	items, err := p.items()
	if err != nil {
		return nil, err
	}
	if len(items) > MaxModels {
		return nil, &SearchResultError{Count: len(items), Limit: MaxModels}
	}

	indexBy := p.indexBy
	if indexBy == "" {
		indexBy = "_id"
	}

	out := newSet[M]()
	for i, item := range items {
		row, hitID, err := modelRow(item)
		if err != nil {
			return nil, fmt.Errorf("hit %d: %w", i, err)
		}

		m := f.New()
		m.SetAttributes(row)
		if len(m.AttributeNames()) != len(row) {
			id := refetchID(hitID, row, indexBy)
			if id == nil {
				continue
			}
			found, ok, err := f.Find(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("re-fetch %v: %w", id, err)
			}
			if !ok {
				continue
			}
			m = found
		}

		var key string
		if p.keyFn != nil {
			key = p.keyFn(m)
		} else if v, ok := m.Attribute(indexBy); ok {
			key = keyString(v)
		}
		if key == "" {
			out.Append(m)
			continue
		}
		out.Put(key, m)
	}
	return out, nil
}

// One hydrates the hits and returns the last model.
func One[M Model](ctx context.Context, p *Populator, f Factory[M]) (M, bool, error) {
	var zero M
	set, err := Models(ctx, p, f)
	if err != nil {
		return zero, false, err
	}
	_, m, ok := set.Last()
	return m, ok, nil
}

// modelRow returns the attributes of a hit and its _id, if any.
func modelRow(item any) (map[string]any, any, error) {
	if m, ok := item.(map[string]any); ok {
		if src, ok := m["_source"].(map[string]any); ok {
			return src, m["_id"], nil
		}
		return m, m["_id"], nil
	}
	switch item.(type) {
	case int, int64, float64, string:
		return map[string]any{"_id": item}, item, nil
	}
	return nil, nil, fmt.Errorf("cannot hydrate %T", item)
}

func refetchID(hitID any, row map[string]any, indexBy string) any {
	if truthy(hitID) {
		return hitID
	}
	if v := row[indexBy]; truthy(v) {
		return v
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func keyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}
