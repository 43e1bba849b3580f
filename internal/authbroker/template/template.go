// Package template interpolates "${path.to.value}" tokens against a
// context mapping, the way provider descriptors template URLs, query
// parameters, request bodies and headers.
package template

import (
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// legacyPrefix is a pre-existing alias kept for backward compatibility:
// "${connectionConfig.X}" means the same thing as "${X}".
const legacyPrefix = "connectionConfig."

// Context is the union of values a template may reference, keyed by
// dotted path. A flat map is sufficient: callers pre-flatten nested
// maps (see Flatten) before interpolating.
type Context map[string]any

// Flatten converts a nested map into a dotted-path flat Context, e.g.
// {"a": {"b": "c"}} becomes {"a.b": "c"}.
func Flatten(m map[string]any) Context {
	out := make(Context)
	flattenInto(out, "", m)
	return out
}

func flattenInto(out Context, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// Merge returns a new Context with other's keys overlaid on c's.
func Merge(contexts ...Context) Context {
	out := make(Context)
	for _, c := range contexts {
		maps.Copy(out, c)
	}
	return out
}

func resolveKey(ctx Context, key string) (any, bool) {
	key = strings.TrimPrefix(key, legacyPrefix)
	v, ok := ctx[key]
	return v, ok
}

// MissingKeys reports every "${...}" token in template that does not
// resolve against ctx. An empty, non-nil slice means nothing is missing.
func MissingKeys(tpl string, ctx Context) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, m := range tokenPattern.FindAllStringSubmatch(tpl, -1) {
		key := m[1]
		if _, ok := resolveKey(ctx, key); !ok && !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
	}
	return missing
}

// Interpolate substitutes every "${path}" token in tpl with its string
// value from ctx. It never silently substitutes an empty string for a
// missing key — callers MUST check MissingKeys first if partial
// templates are tolerable; Interpolate itself just leaves unresolved
// tokens verbatim so that error construction can report the original
// template alongside the missing keys.
//
// When urlEncode is true, each substituted value is percent-encoded as
// a single URL query component; the surrounding template text is left
// untouched.
func Interpolate(tpl string, ctx Context, urlEncode bool) string {
	return tokenPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		key := tokenPattern.FindStringSubmatch(match)[1]
		v, ok := resolveKey(ctx, key)
		if !ok {
			return match
		}
		s := toString(v)
		if urlEncode {
			s = url.QueryEscape(s)
		}
		return s
	})
}

// InterpolateMap applies Interpolate recursively to every string value
// in a map, preserving keys and non-string values.
func InterpolateMap(m map[string]any, ctx Context, urlEncode bool) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = interpolateValue(v, ctx, urlEncode)
	}
	return out
}

func interpolateValue(v any, ctx Context, urlEncode bool) any {
	switch t := v.(type) {
	case string:
		return Interpolate(t, ctx, urlEncode)
	case map[string]any:
		return InterpolateMap(t, ctx, urlEncode)
	default:
		return t
	}
}

// MissingKeysInMap reports the union of missing keys across every
// string value in m.
func MissingKeysInMap(m map[string]any, ctx Context) []string {
	var missing []string
	for _, v := range m {
		switch t := v.(type) {
		case string:
			missing = append(missing, MissingKeys(t, ctx)...)
		case map[string]any:
			missing = append(missing, MissingKeysInMap(t, ctx)...)
		}
	}
	return missing
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
