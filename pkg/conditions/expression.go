package conditions

import (
	"strings"

	"github.com/tideflow-io/tideflow/pkg/template"
)

// expressionOperators lists comparison tokens in match order. Two-character
// tokens come first so ">=" is not split as ">" followed by "=".
var expressionOperators = []string{"==", "!=", ">=", "<=", ">", "<"}

// evaluateExpression evaluates the free-text mini-language: either
// "field OP value" or a bare "field" truthiness check. The field side is a
// dot-path into the document; the value side may be a quoted string or a
// literal.
func evaluateExpression(expression string, document map[string]any) bool {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return false
	}

	for _, operator := range expressionOperators {
		index := strings.Index(expression, operator)
		if index < 0 {
			continue
		}

		fieldPath := strings.TrimSpace(expression[:index])
		rawValue := strings.TrimSpace(expression[index+len(operator):])

		actual, found := lookupWithEntityFallback(document, fieldPath)
		expected := unquote(rawValue)

		switch operator {
		case "==":
			return found && valuesEqual(actual, expected)
		case "!=":
			return !found || !valuesEqual(actual, expected)
		case ">":
			return found && ordered(actual, expected) > 0
		case ">=":
			return found && ordered(actual, expected) >= 0
		case "<":
			return found && ordered(actual, expected) < 0
		case "<=":
			return found && ordered(actual, expected) <= 0
		}
	}

	value, found := lookupWithEntityFallback(document, expression)

	return found && truthy(value)
}

func lookupWithEntityFallback(document map[string]any, path string) (any, bool) {
	value, found := template.Lookup(document, path)
	if found {
		return value, true
	}

	return template.Lookup(document, "entity."+path)
}

func unquote(raw string) string {
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			return raw[1 : len(raw)-1]
		}
	}

	return raw
}

// truthy treats 0, "", null, empty lists and false as falsy.
func truthy(value any) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		return typed != "" && typed != "false" && typed != "0"
	case float64:
		return typed != 0
	case int:
		return typed != 0
	case []any:
		return len(typed) > 0
	default:
		return true
	}
}
