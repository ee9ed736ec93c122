package domain

import (
	"reflect"
)

// SameValue reports whether a and b are the same value by reference: identical
// primitives, the same map, or slices sharing backing array and length.
func SameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.UnsafePointer() == vb.UnsafePointer()
	case reflect.Slice:
		return va.Len() == vb.Len() && va.UnsafePointer() == vb.UnsafePointer()
	}
	if va.Type().Comparable() {
		return a == b
	}
	return false
}

// IsComposite reports whether v is a map, slice, array, or struct value.
func IsComposite(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		return true
	}
	return false
}

// IsArray reports whether v is a slice or array value.
func IsArray(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// ValuesEqual reports whether a and b are the same reference or, for
// composite values, structurally equal.
func ValuesEqual(a, b any) bool {
	if SameValue(a, b) {
		return true
	}
	if !IsComposite(a) || !IsComposite(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}
