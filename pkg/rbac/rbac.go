// Package rbac defines the permission set primitive: a set of dotted
// permission keys (e.g. "fees.collect"), the "*" wildcard that grants
// everything, segment wildcards like "fees.*", and any-of/all-of checks
// over a required list. It is the single decision point the RBAC guard and
// resolver consume.
package rbac

import "strings"

// Wildcard is the full-access grant.
const Wildcard = "*"

// Set is an effective permission set resolved for one (tenant, user).
// Lookups are O(depth) per required key regardless of set size.
type Set struct {
	keys map[string]struct{}
}

// NewSet builds a Set from a slice of dotted permission keys.
func NewSet(keys ...string) Set {
	s := Set{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
	return s
}

// Slice returns the permission keys as a slice (order not guaranteed), for
// serialization and cache storage.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	return out
}

// Has reports whether the set grants required. A grant matches exactly, via
// the full wildcard, or via a segment wildcard covering any suffix:
// "fees.*" grants "fees.collect" and "fees.reports.export" alike.
func (s Set) Has(required string) bool {
	if _, ok := s.keys[Wildcard]; ok {
		return true
	}
	if _, ok := s.keys[required]; ok {
		return true
	}
	for i := len(required) - 1; i > 0; i-- {
		if required[i] != '.' {
			continue
		}
		if _, ok := s.keys[required[:i]+".*"]; ok {
			return true
		}
	}
	return false
}

// HasAny reports whether the set satisfies at least one of required.
func (s Set) HasAny(required []string) bool {
	for _, r := range required {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// HasAll reports whether the set satisfies every entry of required.
func (s Set) HasAll(required []string) bool {
	for _, r := range required {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// IsWildcard reports whether the set carries the full-access "*" grant.
func (s Set) IsWildcard() bool {
	_, ok := s.keys[Wildcard]
	return ok
}

// Union returns a new Set containing every key from the given sets.
func Union(sets ...Set) Set {
	merged := make(map[string]struct{})
	for _, s := range sets {
		for k := range s.keys {
			merged[k] = struct{}{}
		}
	}
	return Set{keys: merged}
}

// Valid reports whether key is a well-formed permission: dotted lowercase
// segments, with "*" allowed only as the whole key or as the final segment.
// Route authors pass literals to the guard, so a failure here is a
// programming error, not user input.
func Valid(key string) bool {
	if key == "" {
		return false
	}
	if key == Wildcard {
		return true
	}
	segments := strings.Split(key, ".")
	for i, seg := range segments {
		if seg == "" {
			return false
		}
		if seg == Wildcard {
			return i == len(segments)-1
		}
		for _, c := range seg {
			if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
				return false
			}
		}
	}
	return true
}

// Mode selects between any-of and all-of evaluation for Check.
type Mode int

const (
	AnyOf Mode = iota
	AllOf
)

// Check evaluates required against s using mode. It never silently
// escalates admins: only the permission keys themselves are considered,
// never the caller's identity or role name. An empty requirement always
// passes.
func Check(s Set, mode Mode, required []string) bool {
	if len(required) == 0 {
		return true
	}
	switch mode {
	case AllOf:
		return s.HasAll(required)
	default:
		return s.HasAny(required)
	}
}
