// Package guard evaluates transition guard expressions against a fact mapping.
//
// Expressions split on " or " first, then on " and ". An or-segment that
// contains " and " is evaluated recursively, so "a and b or c and d" means
// "(a and b) or (c and d)". There are no parentheses. Evaluation never fails:
// malformed comparisons are false.
package guard

import (
	"strconv"
	"strings"

	"github.com/metalagman/jeeves/internal/facts"
)

// Evaluate reports whether expr holds for the given facts.
// An empty expression is true.
func Evaluate(expr string, f facts.Facts) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}

	if strings.Contains(expr, " or ") {
		for _, part := range strings.Split(expr, " or ") {
			if strings.Contains(part, " and ") {
				if Evaluate(part, f) {
					return true
				}
				continue
			}
			if comparison(part, f) {
				return true
			}
		}
		return false
	}

	if strings.Contains(expr, " and ") {
		for _, part := range strings.Split(expr, " and ") {
			if !comparison(part, f) {
				return false
			}
		}
		return true
	}

	return comparison(expr, f)
}

func comparison(expr string, f facts.Facts) bool {
	expr = strings.TrimSpace(expr)

	if strings.Contains(expr, "!=") {
		parts := strings.SplitN(expr, "!=", 2)
		if len(parts) != 2 {
			return false
		}
		actual := f.Lookup(strings.TrimSpace(parts[0]))
		return !equal(actual, parseLiteral(parts[1]))
	}

	if strings.Contains(expr, "==") {
		parts := strings.SplitN(expr, "==", 2)
		if len(parts) != 2 {
			return false
		}
		actual := f.Lookup(strings.TrimSpace(parts[0]))
		return equal(actual, parseLiteral(parts[1]))
	}

	return facts.Truthy(f.Lookup(expr))
}

// parseLiteral yields bool, nil, int or string.
func parseLiteral(raw string) any {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if isDigits(s) {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// equal is type-sensitive except that numeric kinds compare by value.
func equal(actual, expected any) bool {
	switch want := expected.(type) {
	case nil:
		return actual == nil
	case bool:
		got, ok := actual.(bool)
		return ok && got == want
	case int:
		got, ok := facts.Number(actual)
		return ok && got == float64(want)
	case string:
		got, ok := actual.(string)
		return ok && got == want
	default:
		return false
	}
}
