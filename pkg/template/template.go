// Package template provides dot-path resolution and placeholder substitution
// against a workflow instance's context document.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Reserved placeholder names.
const (
	TokenNow       = "now"
	TokenIncrement = "increment"
)

// Options customizes placeholder rendering.
type Options struct {
	// Now supplies the timestamp for {{now}}. Defaults to time.Now.
	Now func() time.Time
	// Increment supplies the next counter value for {{increment}}. When nil
	// the placeholder renders as 0.
	Increment func() float64
}

// Lookup resolves a dot path inside a nested document. A leading "$." prefix
// is stripped. Only map traversal is supported; a missing segment reports
// (nil, false).
func Lookup(data map[string]any, path string) (any, bool) {
	path = strings.TrimPrefix(path, "$.")
	if path == "" {
		return nil, false
	}

	var current any = data

	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Render substitutes every {{path}} placeholder in input against data.
// {{now}} renders an ISO-8601 UTC timestamp and {{increment}} a counter value
// when the corresponding option is supplied. Unresolvable paths render empty.
func Render(input string, data map[string]any, opts *Options) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		path := strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1])

		value, ok := resolveToken(path, data, opts)
		if !ok {
			return ""
		}

		return Stringify(value)
	})
}

// RenderValue behaves like Render but preserves the native type when the
// whole input is a single placeholder, so templated configs can carry maps
// and numbers through substitution.
func RenderValue(input string, data map[string]any, opts *Options) any {
	trimmed := strings.TrimSpace(input)

	if match := placeholderPattern.FindStringSubmatch(trimmed); match != nil && match[0] == trimmed {
		if value, ok := resolveToken(strings.TrimSpace(match[1]), data, opts); ok {
			return value
		}

		return nil
	}

	return Render(input, data, opts)
}

func resolveToken(path string, data map[string]any, opts *Options) (any, bool) {
	switch path {
	case TokenNow:
		now := time.Now
		if opts != nil && opts.Now != nil {
			now = opts.Now
		}

		return now().UTC().Format(time.RFC3339), true
	case TokenIncrement:
		if opts != nil && opts.Increment != nil {
			return opts.Increment(), true
		}

		return float64(0), true
	default:
		return Lookup(data, path)
	}
}

// Stringify renders a resolved value the way it should appear inside a larger
// string: scalars verbatim, composites as JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(encoded)
	}
}
