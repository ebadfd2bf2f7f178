package filter

import (
	"strings"
	"time"
)

// Getter returns the value of a record field; ok is false for unknown fields.
type Getter func(field string) (value any, ok bool)

// Match evaluates e against a record. Unknown fields never match.
func (e *Expr) Match(get Getter) bool {
	if e.IsTrue() {
		return true
	}

	switch e.Kind {
	case KindAnd:
		for _, a := range e.Args {
			if !a.Match(get) {
				return false
			}
		}
		return true
	}

	got, ok := get(e.Field)
	if !ok || got == nil {
		return false
	}

	switch e.Kind {
	case KindEquals:
		c, ok := compare(got, e.Value)
		return ok && c == 0
	case KindContainsFold:
		s, ok1 := got.(string)
		sub, ok2 := e.Value.(string)
		return ok1 && ok2 && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	case KindBetween:
		if e.Lo != nil {
			if c, ok := compare(got, e.Lo); !ok || c < 0 {
				return false
			}
		}
		if e.Hi != nil {
			if c, ok := compare(got, e.Hi); !ok || c > 0 {
				return false
			}
		}
		return true
	}
	return false
}

// compare orders two values of the same underlying kind.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case x.Before(y):
			return -1, true
		case x.After(y):
			return 1, true
		}
		return 0, true
	case int:
		y, ok := b.(int)
		if !ok {
			return 0, false
		}
		return cmpOrdered(x, y), true
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, false
		}
		return cmpOrdered(x, y), true
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		return cmpOrdered(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok || x != y {
			return 1, ok
		}
		return 0, true
	}
	return 0, false
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
