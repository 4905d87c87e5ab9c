package hazard

import "strings"

// AllToken is the request token that selects every value in a dimension.
const AllToken = "all"

// Selection is a multi-select filter dimension. It is either "all" or a
// non-empty set of specific values, never both and never empty. The zero
// value is "all". Selection is a value type: transitions return a new
// Selection and leave the receiver untouched.
type Selection[T comparable] struct {
	values []T
}

func SelectAll[T comparable]() Selection[T] {
	return Selection[T]{}
}

// Select builds a selection by toggling each value in turn from "all".
func Select[T comparable](values ...T) Selection[T] {
	s := SelectAll[T]()
	for _, v := range values {
		if !s.Contains(v) {
			s = s.Toggle(v)
		}
	}
	return s
}

func (s Selection[T]) All() bool {
	return len(s.values) == 0
}

// Contains reports whether v is explicitly selected. It is false for every
// value when the selection is "all"; use Matches for predicate checks.
func (s Selection[T]) Contains(v T) bool {
	for _, x := range s.values {
		if x == v {
			return true
		}
	}
	return false
}

// Matches is the filter predicate: "all" passes everything.
func (s Selection[T]) Matches(v T) bool {
	return s.All() || s.Contains(v)
}

// Values returns the selected values in selection order, nil for "all".
func (s Selection[T]) Values() []T {
	if s.All() {
		return nil
	}
	out := make([]T, len(s.values))
	copy(out, s.values)
	return out
}

// SelectAll resets the dimension to "all".
func (s Selection[T]) SelectAll() Selection[T] {
	return Selection[T]{}
}

// Toggle applies one user selection of v:
//
//	{all} + v       -> {v}
//	S + v, v not in S -> S with v
//	S + v, v in S     -> S without v, or {all} if that empties it
func (s Selection[T]) Toggle(v T) Selection[T] {
	if s.All() {
		return Selection[T]{values: []T{v}}
	}

	next := make([]T, 0, len(s.values)+1)
	removed := false
	for _, x := range s.values {
		if x == v {
			removed = true
			continue
		}
		next = append(next, x)
	}
	if !removed {
		next = append(next, v)
	}
	if len(next) == 0 {
		return Selection[T]{}
	}
	return Selection[T]{values: next}
}

// ParseSelection replays request tokens through the toggle machine. The
// AllToken resets to "all"; blank tokens are ignored. parse maps a token to
// a value; unrecognised tokens map to the zero (Unknown) value, which the
// predicates never match, so an unknown filter selects nothing rather
// than everything. Once selected, the zero value stays selected: a second
// unrecognised token must not toggle it back off.
func ParseSelection[T comparable](tokens []string, parse func(string) T) Selection[T] {
	var unknown T
	s := SelectAll[T]()
	for _, raw := range tokens {
		for _, tok := range strings.Split(raw, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if strings.EqualFold(tok, AllToken) {
				s = s.SelectAll()
				continue
			}
			v := parse(tok)
			if v == unknown && s.Contains(v) {
				continue
			}
			s = s.Toggle(v)
		}
	}
	return s
}
