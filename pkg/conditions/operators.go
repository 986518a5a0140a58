package conditions

import (
	"strconv"
	"strings"

	"github.com/tideflow-io/tideflow/pkg/template"
)

// applyOperator compares a looked-up value against the expected value.
// Unknown operators return false.
func applyOperator(operator string, actual any, found bool, expected any) bool {
	switch operator {
	case "eq":
		return found && valuesEqual(actual, expected)
	case "neq":
		return !found || !valuesEqual(actual, expected)
	case "gt":
		return found && ordered(actual, expected) > 0
	case "gte":
		return found && ordered(actual, expected) >= 0
	case "lt":
		return found && ordered(actual, expected) < 0
	case "lte":
		return found && ordered(actual, expected) <= 0
	case "in":
		return found && listContains(expected, actual)
	case "not_in":
		return found && !listContains(expected, actual)
	case "is_set":
		return found && actual != nil
	case "is_empty":
		return !found || isEmpty(actual)
	case "contains":
		return found && containsValue(actual, expected)
	case "starts_with":
		return found && strings.HasPrefix(template.Stringify(actual), template.Stringify(expected))
	case "ends_with":
		return found && strings.HasSuffix(template.Stringify(actual), template.Stringify(expected))
	default:
		return false
	}
}

// valuesEqual compares numerically when both sides parse as numbers,
// otherwise by string form.
func valuesEqual(a, b any) bool {
	left, leftOK := asNumber(a)
	right, rightOK := asNumber(b)

	if leftOK && rightOK {
		return left == right
	}

	return template.Stringify(a) == template.Stringify(b)
}

// ordered returns -1, 0 or 1 like strings.Compare, numerically when both
// sides are numeric.
func ordered(a, b any) int {
	left, leftOK := asNumber(a)
	right, rightOK := asNumber(b)

	if leftOK && rightOK {
		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(template.Stringify(a), template.Stringify(b))
}

func asNumber(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)

		return parsed, err == nil
	default:
		return 0, false
	}
}

func listContains(list, needle any) bool {
	items, ok := list.([]any)
	if !ok {
		if stringItems, isStrings := list.([]string); isStrings {
			for _, item := range stringItems {
				if valuesEqual(item, needle) {
					return true
				}
			}
		}

		return false
	}

	for _, item := range items {
		if valuesEqual(item, needle) {
			return true
		}
	}

	return false
}

// containsValue handles both substring checks and list membership.
func containsValue(haystack, needle any) bool {
	switch typed := haystack.(type) {
	case string:
		return strings.Contains(typed, template.Stringify(needle))
	case []any, []string:
		return listContains(typed, needle)
	default:
		return false
	}
}

func isEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	default:
		return false
	}
}
