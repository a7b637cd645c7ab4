package endpoint

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderPattern matches {{key}} and {{key|default}}.
var placeholderPattern = regexp.MustCompile(`\{\{([^}|]+)(?:\|([^}]*))?\}\}`)

// UnresolvedError lists placeholders that had no value and no default.
type UnresolvedError struct {
	Names []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved placeholders: %s", strings.Join(e.Names, ", "))
}

// render substitutes placeholders. Lookups are tried in order; a default
// after | applies only when no lookup has the key.
func render(template string, missing map[string]struct{}, lookups ...map[string]string) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		key := strings.TrimSpace(parts[1])
		for _, values := range lookups {
			if v, ok := values[key]; ok {
				return v
			}
		}
		if strings.Contains(match, "|") {
			return parts[2]
		}
		if missing != nil {
			missing[key] = struct{}{}
		}
		return match
	})
}

// Placeholders returns the distinct placeholder names in template, sorted.
func Placeholders(template string) []string {
	seen := map[string]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		seen[strings.TrimSpace(m[1])] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// renderJSON substitutes placeholders inside every string leaf of a decoded
// JSON value and returns a new value.
func renderJSON(v any, missing map[string]struct{}, lookups ...map[string]string) any {
	switch typed := v.(type) {
	case string:
		return render(typed, missing, lookups...)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[k] = renderJSON(item, missing, lookups...)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = renderJSON(item, missing, lookups...)
		}
		return out
	default:
		return v
	}
}
