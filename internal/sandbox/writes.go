// Package sandbox checks changed files against a phase's allowed-write patterns.
package sandbox

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ReservedDir is the working directory prefix that is always writable.
const ReservedDir = ".jeeves"

// Checker matches changed paths against glob patterns.
type Checker struct {
	reserved string
}

// NewChecker returns a checker with the given reserved directory.
// An empty value selects ReservedDir.
func NewChecker(reserved string) *Checker {
	if reserved == "" {
		reserved = ReservedDir
	}
	return &Checker{reserved: normalize(reserved)}
}

// Violations returns the changed paths that are neither under the reserved
// directory nor matched by any allowed pattern. Patterns use shell-glob syntax
// where "*" stays within one path segment and "**" spans segments.
func (c *Checker) Violations(changed, allowed []string) []string {
	var out []string
	for _, file := range changed {
		if !c.Allowed(file, allowed) {
			out = append(out, file)
		}
	}
	return out
}

// Allowed reports whether a single path may be written.
func (c *Checker) Allowed(file string, allowed []string) bool {
	p := normalize(file)
	if p == c.reserved || strings.HasPrefix(p, c.reserved+"/") {
		return true
	}
	for _, pattern := range allowed {
		ok, err := doublestar.Match(normalize(pattern), p)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// CheckWrites reports violations using the default reserved directory.
func CheckWrites(changed, allowed []string) []string {
	return NewChecker("").Violations(changed, allowed)
}

func normalize(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	if p == "" {
		return p
	}
	return strings.TrimPrefix(path.Clean(p), "./")
}
