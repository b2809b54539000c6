package repository

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("record not found")

// NotFoundError is returned by Get when no row has the requested id.
type NotFoundError struct {
	Table string
	ID    any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %v not found in %s", e.ID, e.Table)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Record is one row of a source table.
type Record struct {
	Source  string
	ID      int64
	Fields  map[string]any
	columns []string
}

// NewRecord creates an empty record of source with the given column set.
func NewRecord(source string, columns []string) *Record {
	return &Record{Source: source, Fields: make(map[string]any), columns: columns}
}

// DocumentID returns the primary key.
func (r *Record) DocumentID() any { return r.ID }

// DocumentSource names the table the record was read from.
func (r *Record) DocumentSource() string {
	if r == nil {
		return ""
	}
	return r.Source
}

// DocumentBody returns a copy of the row's fields.
func (r *Record) DocumentBody() map[string]any {
	return maps.Clone(r.Fields)
}

// AttributeNames lists the table's columns, or the loaded fields when the
// column set is unknown.
func (r *Record) AttributeNames() []string {
	if len(r.columns) > 0 {
		return slices.Clone(r.columns)
	}
	names := slices.Collect(maps.Keys(r.Fields))
	slices.Sort(names)
	return names
}

// SetAttributes replaces the record's fields. An "id" attribute also sets ID.
func (r *Record) SetAttributes(attrs map[string]any) {
	r.Fields = maps.Clone(attrs)
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	if id, ok := attrs["id"]; ok {
		if n, ok := toInt64(id); ok {
			r.ID = n
		}
	}
}

// Attribute returns a single field.
func (r *Record) Attribute(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
