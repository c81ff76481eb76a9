package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKeyPath is returned for an empty or malformed dotted key.
var ErrInvalidKeyPath = errors.New("invalid config key")

// KeyPath addresses a value inside the raw config tree, e.g. relay.previewLength.
type KeyPath []string

// ParseKeyPath splits a dotted key. Empty segments are rejected.
func ParseKeyPath(raw string) (KeyPath, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKeyPath)
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidKeyPath, raw)
		}
	}
	return KeyPath(parts), nil
}

func (k KeyPath) String() string { return strings.Join(k, ".") }

// Get returns the value at k, descending through nested maps.
func (k KeyPath) Get(root map[string]any) (any, bool) {
	if len(k) == 0 {
		return nil, false
	}
	var cur any = root
	for _, seg := range k {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores v at k. Missing or non-map intermediates are replaced by maps.
func (k KeyPath) Set(root map[string]any, v any) {
	if len(k) == 0 {
		return
	}
	parent := root
	for _, seg := range k[:len(k)-1] {
		child, ok := parent[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			parent[seg] = child
		}
		parent = child
	}
	parent[k[len(k)-1]] = v
}

// Unset deletes the value at k and reports whether anything was removed.
func (k KeyPath) Unset(root map[string]any) bool {
	if len(k) == 0 {
		return false
	}
	var parent any = root
	if len(k) > 1 {
		var ok bool
		if parent, ok = k[:len(k)-1].Get(root); !ok {
			return false
		}
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	if _, present := m[k[len(k)-1]]; !present {
		return false
	}
	delete(m, k[len(k)-1])
	return true
}

// HasPrefix reports whether k equals prefix or lies beneath it.
func (k KeyPath) HasPrefix(prefix KeyPath) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, seg := range prefix {
		if k[i] != seg {
			return false
		}
	}
	return true
}
