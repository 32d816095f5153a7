package routing

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/itf-gmbh/phone-agent/internal/tenancy"
)

// matchesConditions reports whether every condition of a rule holds for
// the task. Conditions map a task field name to an expected value; a
// scalar expects equality, a list expects membership. Two special
// fields exist: customer_plz_starts (prefix match on the postal code)
// and distance_km_max (numeric ceiling).
func matchesConditions(conds tenancy.RuleConditions, task *tenancy.Task) bool {
	for field, expected := range conds {
		switch field {
		case "customer_plz_starts":
			prefix, ok := expected.(string)
			if !ok || !strings.HasPrefix(task.CustomerPLZ, prefix) {
				return false
			}
		case "distance_km_max":
			maxKM, ok := asFloat(expected)
			if !ok || task.DistanceKM == nil || *task.DistanceKM > maxKM {
				return false
			}
		default:
			actual, ok := taskField(task, field)
			if !ok || !valueMatches(expected, actual) {
				return false
			}
		}
	}
	return true
}

// taskField resolves the routable task attributes by their persisted
// column names.
func taskField(task *tenancy.Task, field string) (string, bool) {
	switch field {
	case "task_type":
		return task.TaskType, true
	case "urgency":
		return string(task.Urgency), true
	case "trade_category":
		return task.TradeCategory, true
	case "source_type":
		return string(task.SourceType), true
	case "customer_plz":
		return task.CustomerPLZ, true
	case "customer_name":
		return task.CustomerName, true
	case "customer_email":
		return task.CustomerEmail, true
	default:
		return "", false
	}
}

// valueMatches compares a condition value from decoded JSON against the
// task attribute.
func valueMatches(expected any, actual string) bool {
	switch v := expected.(type) {
	case string:
		return v == actual
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == actual {
				return true
			}
		}
		return false
	case []string:
		for _, s := range v {
			if s == actual {
				return true
			}
		}
		return false
	default:
		if f, ok := asFloat(expected); ok {
			actualF, err := strconv.ParseFloat(actual, 64)
			return err == nil && actualF == f
		}
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
