// Package filter models search predicates as a small expression tree that can
// be compiled to parameterised SQL or evaluated against in-memory records.
package filter

import (
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	KindTrue Kind = iota
	KindEquals
	KindContainsFold
	KindBetween
	KindAnd
)

func (k Kind) String() string {
	switch k {
	case KindTrue:
		return "true"
	case KindEquals:
		return "equals"
	case KindContainsFold:
		return "contains"
	case KindBetween:
		return "between"
	case KindAnd:
		return "and"
	}
	return "unknown"
}

// Expr is a tagged variant. Which fields are meaningful depends on Kind:
// Equals and ContainsFold use Field and Value, Between uses Field, Lo and Hi
// (nil bounds are open), And uses Args.
type Expr struct {
	Kind  Kind
	Field string
	Value any
	Lo    any
	Hi    any
	Args  []*Expr
}

var always = &Expr{Kind: KindTrue}

// True matches every record.
func True() *Expr { return always }

func Equals(field string, value any) *Expr {
	return &Expr{Kind: KindEquals, Field: field, Value: value}
}

// ContainsFold matches records whose field contains value, ignoring case.
func ContainsFold(field, value string) *Expr {
	return &Expr{Kind: KindContainsFold, Field: field, Value: value}
}

// Between is an inclusive range. Either bound may be nil; with both nil it
// degenerates to True.
func Between(field string, lo, hi any) *Expr {
	if isNil(lo) && isNil(hi) {
		return True()
	}
	return &Expr{Kind: KindBetween, Field: field, Lo: nilIfEmpty(lo), Hi: nilIfEmpty(hi)}
}

// And conjoins the given fragments. Nil and True fragments are dropped and
// nested conjunctions are flattened; an empty conjunction is True.
func And(exprs ...*Expr) *Expr {
	var args []*Expr
	for _, e := range exprs {
		switch {
		case e == nil || e.Kind == KindTrue:
		case e.Kind == KindAnd:
			args = append(args, e.Args...)
		default:
			args = append(args, e)
		}
	}
	switch len(args) {
	case 0:
		return True()
	case 1:
		return args[0]
	}
	return &Expr{Kind: KindAnd, Args: args}
}

// IsTrue reports whether e matches everything.
func (e *Expr) IsTrue() bool {
	return e == nil || e.Kind == KindTrue
}

// Fields lists the fields e constrains, in tree order.
func (e *Expr) Fields() []string {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case KindTrue:
		return nil
	case KindAnd:
		var out []string
		for _, a := range e.Args {
			out = append(out, a.Fields()...)
		}
		return out
	}
	return []string{e.Field}
}

func (e *Expr) String() string {
	if e == nil {
		return "true"
	}
	switch e.Kind {
	case KindAnd:
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = a.String()
		}
		return "(" + strings.Join(parts, " and ") + ")"
	case KindTrue:
		return "true"
	case KindBetween:
		return e.Kind.String() + "(" + e.Field + ", " + format(e.Lo) + ", " + format(e.Hi) + ")"
	}
	return e.Kind.String() + "(" + e.Field + ", " + format(e.Value) + ")"
}

func format(v any) string {
	switch t := v.(type) {
	case nil:
		return "*"
	case string:
		return "'" + t + "'"
	case time.Time:
		return t.Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return "*"
		}
		return t.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	if t, ok := v.(*time.Time); ok {
		return t == nil
	}
	return false
}

func nilIfEmpty(v any) any {
	if isNil(v) {
		return nil
	}
	if t, ok := v.(*time.Time); ok {
		return *t
	}
	return v
}
