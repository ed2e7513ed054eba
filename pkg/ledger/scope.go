package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors surfaced by ledger operations. Both are detected before any
// mutation: an operation either applies to its whole scope or not at all.
var (
	ErrNotFound     = errors.New("message not found")
	ErrInvalidRange = errors.New("invalid range")
)

// Scope is the operand of a bulk ledger operation: a single index, an
// inclusive [start,end] range, or the entire sequence.
type Scope struct {
	start, end int
	all        bool
}

// All covers the whole message sequence.
func All() Scope { return Scope{all: true} }

// At covers a single message index.
func At(index int) Scope { return Scope{start: index, end: index} }

// Span covers the inclusive range [start,end].
func Span(start, end int) Scope { return Scope{start: start, end: end} }

// ParseScope parses the command syntax "N" or "N-M"; the empty string
// means the entire sequence.
func ParseScope(s string) (Scope, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return All(), nil
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		a, err1 := strconv.Atoi(strings.TrimSpace(s[:i]))
		b, err2 := strconv.Atoi(strings.TrimSpace(s[i+1:]))
		if err1 != nil || err2 != nil {
			return Scope{}, fmt.Errorf("%w: %q", ErrInvalidRange, s)
		}
		return Span(a, b), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %q is not an index", ErrInvalidRange, s)
	}
	return At(n), nil
}

// resolve validates the scope against a sequence of length n and returns
// the concrete [start,end] bounds. A whole-sequence scope over an empty
// sequence resolves to an empty iteration (start > end).
func (s Scope) resolve(n int) (int, int, error) {
	if s.all {
		return 0, n - 1, nil
	}
	if s.start == s.end {
		if s.start < 0 || s.start >= n {
			return 0, 0, fmt.Errorf("%w: index %d outside [0,%d]", ErrNotFound, s.start, n-1)
		}
		return s.start, s.end, nil
	}
	if s.start > s.end || s.start < 0 || s.end >= n {
		return 0, 0, fmt.Errorf("%w: %d-%d outside [0,%d]", ErrInvalidRange, s.start, s.end, n-1)
	}
	return s.start, s.end, nil
}

// String renders the command syntax form of the scope.
func (s Scope) String() string {
	if s.all {
		return "all"
	}
	if s.start == s.end {
		return strconv.Itoa(s.start)
	}
	return fmt.Sprintf("%d-%d", s.start, s.end)
}
