// Package orderedset provides an insertion-ordered set.
package orderedset

// Set keeps the first-seen order of its members and ignores duplicates.
// The zero value is ready to use.
type Set[T comparable] struct {
	items []T
	index map[T]struct{}
}

func New[T comparable](items ...T) *Set[T] {
	s := &Set[T]{}
	s.Add(items...)
	return s
}

// Add appends each item that is not already a member.
func (s *Set[T]) Add(items ...T) {
	if s.index == nil {
		s.index = make(map[T]struct{}, len(items))
	}
	for _, it := range items {
		if _, ok := s.index[it]; ok {
			continue
		}
		s.index[it] = struct{}{}
		s.items = append(s.items, it)
	}
}

func (s *Set[T]) Contains(item T) bool {
	_, ok := s.index[item]
	return ok
}

func (s *Set[T]) Len() int { return len(s.items) }

// Items returns a copy of the members in insertion order. It never returns nil.
func (s *Set[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Union returns the members of all lists, deduplicated, in first-seen order.
func Union[T comparable](lists ...[]T) []T {
	s := &Set[T]{}
	for _, l := range lists {
		s.Add(l...)
	}
	return s.Items()
}
