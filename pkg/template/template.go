// Package template resolves {{dotted.path}} placeholders against an execution context.
//
// A placeholder may carry a literal default after a pipe: {{user.name | anonymous}}.
// Paths that do not resolve produce the default, or the empty string when none is given.
// Missing paths are never an error.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}|]+?)\s*(?:\|\s*([^{}]*?)\s*)?\}\}`)

// NeedsTemplating reports whether the input contains at least one placeholder.
func NeedsTemplating(input string) bool {
	return placeholderPattern.MatchString(input)
}

// Placeholders returns the dotted paths referenced by the input, in order of appearance.
func Placeholders(input string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(input, -1)
	paths := make([]string, 0, len(matches))

	for _, m := range matches {
		paths = append(paths, strings.TrimSpace(m[1]))
	}

	return paths
}

// Render substitutes every placeholder in input.
//
// When the whole input is a single placeholder the resolved value is returned with its
// original type; otherwise the result is a string with non-string values encoded as JSON.
func Render(input string, data map[string]any) any {
	trimmed := strings.TrimSpace(input)
	if loc := placeholderPattern.FindStringSubmatchIndex(trimmed); loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
		m := placeholderPattern.FindStringSubmatch(trimmed)

		return resolve(data, m[1], m[2])
	}

	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := placeholderPattern.FindStringSubmatch(match)

		return stringify(resolve(data, m[1], m[2]))
	})
}

// RenderString is Render coerced to a string.
func RenderString(input string, data map[string]any) string {
	return stringify(Render(input, data))
}

// RenderValue walks maps and slices and renders every string it finds.
func RenderValue(value any, data map[string]any) any {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v
		}

		return Render(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = RenderValue(item, data)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = RenderValue(item, data)
		}

		return out
	default:
		return value
	}
}

// RenderConfig renders a step configuration.
func RenderConfig(config map[string]any, data map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}

	rendered, _ := RenderValue(config, data).(map[string]any)

	return rendered
}

// Lookup follows a dotted path through nested maps and slices.
func Lookup(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	var current any = data

	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}

			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

func resolve(data map[string]any, path, fallback string) any {
	value, ok := Lookup(data, path)
	if !ok || value == nil {
		return fallback
	}

	return value
}

// Stringify formats a resolved value the way it is interpolated into text.
func Stringify(value any) string {
	return stringify(value)
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case fmt.Stringer:
		return v.String()
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}

	return string(encoded)
}
