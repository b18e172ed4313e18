package processor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/workflow"
)

// Resolve looks up a structured field reference against the execution. The
// contact scope exposes the snapshot's built-in attributes by name before
// falling back to custom fields; the context scope reads the context map.
// The second return reports whether the field exists at all, which is what
// the exists/not_exists operators test.
func Resolve(ref workflow.FieldRef, exec *execution.Execution) (any, bool) {
	switch ref.Scope {
	case workflow.ScopeContact:
		c := exec.Contact
		if c == nil {
			return nil, false
		}
		switch ref.Name {
		case "id":
			return c.ID, true
		case "email":
			return c.Email, true
		case "subscription":
			return string(c.Subscription), true
		case "tags":
			return c.Tags, true
		default:
			return c.Field(ref.Name)
		}
	case workflow.ScopeContext:
		if exec.Context == nil {
			return nil, false
		}
		v, ok := exec.Context[ref.Name]
		return v, ok
	default:
		return nil, false
	}
}

// coerceString renders a value for substring and equality comparison
func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case []string:
		return strings.Join(t, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// coerceNumber attempts numeric coercion for ordered comparisons
func coerceNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
