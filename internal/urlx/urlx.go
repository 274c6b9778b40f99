// Package urlx implements the virtual URL grammar used on the wire:
// a path of "/" separated segments, optionally followed by "?" and a
// query string with bracket-nested keys (a[b]=1&a[c][]=x).
package urlx

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Split separates a virtual URL into its path and raw query parts.
// The first "?" is the delimiter; segments must not contain "?".
func Split(typ string) (path, query string) {
	if i := strings.IndexByte(typ, '?'); i >= 0 {
		return typ[:i], typ[i+1:]
	}
	return typ, ""
}

// Segments returns the non-empty "/" separated segments of a path.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Join builds a virtual URL from a path and a params map. An empty
// params map yields the path unchanged.
func Join(path string, params map[string]any) string {
	q := EncodeQuery(params)
	if q == "" {
		return path
	}
	return path + "?" + q
}

// EncodeQuery renders a params map using bracket-nested syntax. Keys
// are emitted in sorted order so the encoding is deterministic.
func EncodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	var pairs []string
	encodeValue(&pairs, "", params)
	return strings.Join(pairs, "&")
}

func encodeValue(pairs *[]string, prefix string, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "[" + k + "]"
			}
			encodeValue(pairs, key, val[k])
		}
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "[" + k + "]"
			}
			encodeValue(pairs, key, val[k])
		}
	case []any:
		for _, item := range val {
			encodeValue(pairs, prefix+"[]", item)
		}
	case []string:
		for _, item := range val {
			encodeValue(pairs, prefix+"[]", item)
		}
	default:
		*pairs = append(*pairs, escape(prefix)+"="+url.QueryEscape(fmt.Sprint(v)))
	}
}

// escape query-escapes a bracketed key while keeping the brackets
// readable on the wire.
func escape(key string) string {
	s := url.QueryEscape(key)
	s = strings.ReplaceAll(s, "%5B", "[")
	s = strings.ReplaceAll(s, "%5D", "]")
	return s
}

// ParseQuery decodes a bracket-nested query string into a params map.
// "a[b]=1" produces nested maps, a "[]" suffix appends to a slice.
func ParseQuery(query string) (map[string]any, error) {
	params := map[string]any{}
	if query == "" {
		return params, nil
	}
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawVal, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("query key %q: %w", rawKey, err)
		}
		val, err := url.QueryUnescape(rawVal)
		if err != nil {
			return nil, fmt.Errorf("query value %q: %w", rawVal, err)
		}
		if err := assign(params, key, val); err != nil {
			return nil, err
		}
	}
	return params, nil
}

// assign walks the bracket path of a key and stores the value at the
// leaf, creating intermediate maps and slices as needed.
func assign(params map[string]any, key, value string) error {
	root, rest, err := splitKey(key)
	if err != nil {
		return err
	}
	node := params
	name := root
	for _, part := range rest {
		if part == "" {
			// trailing "[]": append to a slice under name
			existing, _ := node[name].([]any)
			node[name] = append(existing, value)
			return nil
		}
		child, ok := node[name].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[name] = child
		}
		node = child
		name = part
	}
	node[name] = value
	return nil
}

// splitKey turns "a[b][c][]" into ("a", ["b","c",""]).
func splitKey(key string) (string, []string, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, nil, nil
	}
	root := key[:open]
	var parts []string
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("malformed query key %q", key)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, fmt.Errorf("malformed query key %q", key)
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}
	return root, parts, nil
}
