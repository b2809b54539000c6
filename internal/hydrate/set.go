package hydrate

import "strconv"

// Set is an insertion-ordered keyed collection. Putting an existing key
// replaces the value in place.
type Set[T any] struct {
	keys   []string
	values map[string]T
	next   int
}

func newSet[T any]() *Set[T] {
	return &Set[T]{values: make(map[string]T)}
}

// Put stores v under key.
func (s *Set[T]) Put(key string, v T) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = v
	if n, err := strconv.Atoi(key); err == nil && n >= s.next {
		s.next = n + 1
	}
}

// Append stores v under the next free positional key.
func (s *Set[T]) Append(v T) {
	s.Put(strconv.Itoa(s.next), v)
}

// Get returns the value stored under key.
func (s *Set[T]) Get(key string) (T, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (s *Set[T]) Keys() []string { return append([]string(nil), s.keys...) }

// Values returns the values in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.values[k])
	}
	return out
}

// Len is the number of entries.
func (s *Set[T]) Len() int { return len(s.keys) }

// Last returns the most recently inserted entry.
func (s *Set[T]) Last() (string, T, bool) {
	var zero T
	if len(s.keys) == 0 {
		return "", zero, false
	}
	k := s.keys[len(s.keys)-1]
	return k, s.values[k], true
}
