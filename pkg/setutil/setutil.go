// Package setutil provides order-preserving set operations over slices.
//
// The functions never mutate their inputs and return the original slice
// (same backing array) whenever the operation would not change it, so callers
// can detect "no change" by identity.
//
// ConcatUnique and RemoveEntries accept an optional comparator whose shape
// selects the deduplication mode:
//
//	nil                  equality of the elements themselves
//	func(T) K            elements with the same key are duplicates; K must be comparable
//	func(a, b T) bool    elements the function reports equal are duplicates
//
// HashFunc, EqualFunc and the common key types are called directly; other
// function types of the right shape are called through reflection. Any other
// value is rejected with ErrInvalidComparator.
package setutil

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrInvalidComparator is returned when the comparator is neither a one
// argument hash function nor a two argument equality function.
var ErrInvalidComparator = errors.New("invalid comparator")

// HashFunc maps an element to a comparable key.
type HashFunc[T any] func(T) any

// EqualFunc reports whether two elements are duplicates. It must be symmetric.
type EqualFunc[T any] func(a, b T) bool

type matcher[T comparable] struct {
	hash  func(T) any
	equal func(a, b T) bool
}

func resolve[T comparable](fn any) (matcher[T], error) {
	switch f := fn.(type) {
	case nil:
		return matcher[T]{}, nil
	case HashFunc[T]:
		return matcher[T]{hash: f}, nil
	case func(T) any:
		return matcher[T]{hash: f}, nil
	case func(T) string:
		return matcher[T]{hash: func(v T) any { return f(v) }}, nil
	case func(T) int:
		return matcher[T]{hash: func(v T) any { return f(v) }}, nil
	case EqualFunc[T]:
		return matcher[T]{equal: f}, nil
	case func(a, b T) bool:
		return matcher[T]{equal: f}, nil
	}
	rt := reflect.TypeOf(fn)
	if rt.Kind() != reflect.Func {
		return matcher[T]{}, fmt.Errorf("%w: %T is not a function", ErrInvalidComparator, fn)
	}
	n := rt.NumIn()
	if n != 1 && n != 2 {
		return matcher[T]{}, fmt.Errorf("%w: %T takes %d arguments, expected 1 (hash) or 2 (equality)", ErrInvalidComparator, fn, n)
	}
	elem := reflect.TypeFor[T]()
	for i := range n {
		if !elem.AssignableTo(rt.In(i)) {
			return matcher[T]{}, fmt.Errorf("%w: %T does not accept %s", ErrInvalidComparator, fn, elem)
		}
	}
	if rt.IsVariadic() || rt.NumOut() != 1 {
		return matcher[T]{}, fmt.Errorf("%w: %T must return exactly one value", ErrInvalidComparator, fn)
	}
	rv := reflect.ValueOf(fn)
	arg := func(v T) reflect.Value { return reflect.ValueOf(&v).Elem() }
	if n == 1 {
		if !rt.Out(0).Comparable() {
			return matcher[T]{}, fmt.Errorf("%w: %T returns a non-comparable key", ErrInvalidComparator, fn)
		}
		return matcher[T]{hash: func(v T) any {
			return rv.Call([]reflect.Value{arg(v)})[0].Interface()
		}}, nil
	}
	if rt.Out(0).Kind() != reflect.Bool {
		return matcher[T]{}, fmt.Errorf("%w: %T must return bool", ErrInvalidComparator, fn)
	}
	return matcher[T]{equal: func(a, b T) bool {
		return rv.Call([]reflect.Value{arg(a), arg(b)})[0].Bool()
	}}, nil
}

// ConcatUnique returns left followed by the elements of right that are not
// already present, removing duplicates while keeping first occurrences.
//
// left itself is returned only when the result is element for element
// identical to it. A left holding duplicates therefore always yields a new
// slice, even when the deduplicated result has the same length as left.
func ConcatUnique[T comparable](left, right []T, fn any) ([]T, error) {
	m, err := resolve[T](fn)
	if err != nil {
		return nil, err
	}
	result := make([]T, 0, len(left)+len(right))
	changed := false

	switch {
	case m.hash != nil:
		seen := make(map[any]struct{}, len(left)+len(right))
		accept := func(v T) bool {
			key := m.hash(v)
			if _, dup := seen[key]; dup {
				return false
			}
			seen[key] = struct{}{}
			return true
		}
		changed = collect(&result, left, right, accept)
	case m.equal != nil:
		accept := func(v T) bool {
			for _, existing := range result {
				if m.equal(existing, v) {
					return false
				}
			}
			return true
		}
		changed = collect(&result, left, right, accept)
	default:
		seen := make(map[T]struct{}, len(left)+len(right))
		accept := func(v T) bool {
			if _, dup := seen[v]; dup {
				return false
			}
			seen[v] = struct{}{}
			return true
		}
		changed = collect(&result, left, right, accept)
	}

	if !changed {
		return left, nil
	}
	return result, nil
}

// collect appends accepted elements and reports whether the outcome differs
// from left.
func collect[T any](result *[]T, left, right []T, accept func(T) bool) bool {
	changed := false
	for _, v := range left {
		if accept(v) {
			*result = append(*result, v)
		} else {
			changed = true
		}
	}
	for _, v := range right {
		if accept(v) {
			*result = append(*result, v)
			changed = true
		}
	}
	return changed
}

// RemoveEntries returns haystack without every element that matches an
// element of needle. A nil haystack yields an empty slice. When nothing is
// removed, haystack itself is returned.
func RemoveEntries[T comparable](haystack, needle []T, fn any) ([]T, error) {
	m, err := resolve[T](fn)
	if err != nil {
		return nil, err
	}
	if haystack == nil {
		return []T{}, nil
	}
	if len(haystack) == 0 || len(needle) == 0 {
		return haystack, nil
	}

	var match func(T) bool
	switch {
	case m.hash != nil:
		keys := make(map[any]struct{}, len(needle))
		for _, n := range needle {
			keys[m.hash(n)] = struct{}{}
		}
		match = func(v T) bool {
			_, ok := keys[m.hash(v)]
			return ok
		}
	case m.equal != nil:
		match = func(v T) bool {
			for _, n := range needle {
				if m.equal(v, n) {
					return true
				}
			}
			return false
		}
	default:
		set := make(map[T]struct{}, len(needle))
		for _, n := range needle {
			set[n] = struct{}{}
		}
		match = func(v T) bool {
			_, ok := set[v]
			return ok
		}
	}

	return filter(haystack, match), nil
}

// RemoveEntryIfPresent returns haystack without needle. Every occurrence is
// removed, not only the first one. The haystack is returned as is (no
// allocation) when needle is absent, and nil is returned for a nil haystack.
func RemoveEntryIfPresent[T comparable](haystack []T, needle T) []T {
	if haystack == nil {
		return nil
	}
	return filter(haystack, func(v T) bool { return v == needle })
}

// filter allocates only once the first removable element is found.
func filter[T any](haystack []T, remove func(T) bool) []T {
	for i, v := range haystack {
		if !remove(v) {
			continue
		}
		out := make([]T, i, len(haystack)-1)
		copy(out, haystack[:i])
		for _, rest := range haystack[i+1:] {
			if !remove(rest) {
				out = append(out, rest)
			}
		}
		return out
	}
	return haystack
}
