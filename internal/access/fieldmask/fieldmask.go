// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

// Package fieldmask applies allowed-field lists to records. Entries are
// field names; a dotted entry such as "author.name" keeps only that key of
// a nested object. Results are always fresh copies and the input is never
// modified.
package fieldmask

import (
	"maps"
	"slices"
	"strings"
)

// node is one level of a parsed allow list. whole means the key is
// allowed in full; otherwise children restrict a nested object.
type node struct {
	whole    bool
	children map[string]*node
}

func compile(allowed []string) *node {
	root := &node{children: map[string]*node{}}
	for _, path := range allowed {
		if path == "" {
			continue
		}
		n := root
		for _, part := range strings.Split(path, ".") {
			if n.whole {
				break
			}
			child, ok := n.children[part]
			if !ok {
				child = &node{children: map[string]*node{}}
				n.children[part] = child
			}
			n = child
		}
		n.whole = true
		n.children = nil
	}
	return root
}

// MaskResponse returns a copy of record holding only the allowed keys.
// A dotted entry masks the nested object, or each object of a nested
// array; a nested value that is neither is dropped.
func MaskResponse(record map[string]any, allowedRead []string) map[string]any {
	return apply(record, compile(allowedRead))
}

// FilterWritable returns a copy of input holding only writable keys. Other
// keys are dropped silently; use Dropped to report them.
func FilterWritable(input map[string]any, allowedWrite []string) map[string]any {
	return apply(input, compile(allowedWrite))
}

// Dropped lists, sorted, the top-level keys of input that FilterWritable
// would remove entirely.
func Dropped(input map[string]any, allowed []string) []string {
	tree := compile(allowed)
	var out []string
	for key := range input {
		if _, ok := tree.children[key]; !ok {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out
}

func apply(record map[string]any, tree *node) map[string]any {
	out := make(map[string]any, len(tree.children))
	for key, n := range tree.children {
		v, ok := record[key]
		if !ok {
			continue
		}
		if n.whole {
			out[key] = clone(v)
			continue
		}
		if masked, ok := maskNested(v, n); ok {
			out[key] = masked
		}
	}
	return out
}

func maskNested(v any, n *node) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return apply(t, n), true
	case []any:
		items := make([]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				items = append(items, apply(m, n))
			}
		}
		return items, true
	case []map[string]any:
		items := make([]any, 0, len(t))
		for _, m := range t {
			items = append(items, apply(m, n))
		}
		return items, true
	default:
		return nil, false
	}
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = clone(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = clone(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, m := range t {
			out[i] = clone(m).(map[string]any)
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}
