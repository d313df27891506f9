package set

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// ------------------------------------------
// Generic Set implementation (thread-unsafe)
// ------------------------------------------

// Set represents a generic set of comparable items
type Set[T comparable] struct {
	items map[T]struct{}
}

// New creates a new Set holding elems
func New[T comparable](elems ...T) Set[T] {
	s := Set[T]{
		items: make(map[T]struct{}, len(elems)),
	}
	s.Append(elems...)
	return s
}

// Append inserts elements into the set
func (s Set[T]) Append(elems ...T) {
	for _, elem := range elems {
		s.items[elem] = struct{}{}
	}
}

// Contains checks if an element is in the set
func (s Set[T]) Contains(elem T) bool {
	_, ok := s.items[elem]
	return ok
}

// Len returns the number of elements
func (s Set[T]) Len() int {
	return len(s.items)
}

// Values returns all elements in the set as an unsorted slice
func (s Set[T]) Values() []T {
	v := make([]T, 0, len(s.items))
	for elem := range s.items {
		v = append(v, elem)
	}
	return v
}

// Ordered is a set of ordered elements that supports sorted Values
type Ordered[T constraints.Ordered] struct {
	Set[T]
}

// NewOrdered creates a new Ordered set holding elems
func NewOrdered[T constraints.Ordered](elems ...T) Ordered[T] {
	return Ordered[T]{
		Set: New[T](elems...),
	}
}

// Values returns all elements in the set as a sorted slice
func (s Ordered[T]) Values() []T {
	v := s.Set.Values()
	sort.Slice(v, func(i, j int) bool {
		return v[i] < v[j]
	})
	return v
}

// Union returns a new set with the elements of s and other
func (s Ordered[T]) Union(other Ordered[T]) Ordered[T] {
	u := NewOrdered[T](s.Set.Values()...)
	u.Append(other.Set.Values()...)
	return u
}

// Intersect returns a new set with the elements present in both s and other
func (s Ordered[T]) Intersect(other Ordered[T]) Ordered[T] {
	i := NewOrdered[T]()
	for elem := range s.items {
		if other.Contains(elem) {
			i.Append(elem)
		}
	}
	return i
}

// Difference returns a new set with the elements of s that are not in other
func (s Ordered[T]) Difference(other Ordered[T]) Ordered[T] {
	d := NewOrdered[T]()
	for elem := range s.items {
		if !other.Contains(elem) {
			d.Append(elem)
		}
	}
	return d
}
