// Package patch implements partial updates: every field of a patch request is
// an explicit optional value, and a merge applies only the present ones.
package patch

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Value is an optional field. JSON null and an absent key both decode to
// an unset Value.
type Value[T any] struct {
	v   T
	set bool
}

func Some[T any](v T) Value[T] {
	return Value[T]{v: v, set: true}
}

func (o Value[T]) Get() (T, bool) {
	return o.v, o.set
}

func (o Value[T]) IsSet() bool {
	return o.set
}

func (o *Value[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*o = Value[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Value[T]{v: v, set: true}
	return nil
}

func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

// Present reports whether o carries a usable value: set, and for strings
// not blank.
func Present[T any](o Value[T]) bool {
	if !o.set {
		return false
	}
	if s, ok := any(o.v).(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Applier merges one field and reports its name when the stored value changed.
type Applier func() (field string, changed bool)

// Field overwrites *dst with src when src is present.
func Field[T comparable](name string, dst *T, src Value[T]) Applier {
	return func() (string, bool) {
		if !Present(src) {
			return name, false
		}
		if *dst == src.v {
			return name, false
		}
		*dst = src.v
		return name, true
	}
}

// Nullable overwrites the optional *dst with src when src is present.
func Nullable[T comparable](name string, dst **T, src Value[T]) Applier {
	return func() (string, bool) {
		if !Present(src) {
			return name, false
		}
		if *dst != nil && **dst == src.v {
			return name, false
		}
		v := src.v
		*dst = &v
		return name, true
	}
}

// Merge runs the appliers in order and returns the names of changed fields.
func Merge(appliers ...Applier) []string {
	var changed []string
	for _, apply := range appliers {
		if name, ok := apply(); ok {
			changed = append(changed, name)
		}
	}
	return changed
}
