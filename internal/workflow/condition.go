package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpExists      Operator = "exists"
)

// Condition compares the trigger-data value at Field (a dot path) with
// Value. For exists, Value false means the field must be absent.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
}

// Evaluate ANDs the conditions in order and returns the first one that
// fails. An empty list is satisfied.
func Evaluate(conditions []Condition, data map[string]any) (bool, *Condition) {
	for i := range conditions {
		if !conditions[i].Matches(data) {
			return false, &conditions[i]
		}
	}
	return true, nil
}

func (c Condition) Matches(data map[string]any) bool {
	actual, defined := Lookup(data, c.Field)

	switch c.Operator {
	case OpExists:
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return (defined && actual != nil) == want
	case OpNotEquals:
		return !defined || !looselyEqual(actual, c.Value)
	}

	if !defined {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return looselyEqual(actual, c.Value)
	case OpGreaterThan, OpLessThan:
		left, ok := toNumber(actual)
		if !ok {
			return false
		}
		right, ok := toNumber(c.Value)
		if !ok {
			return false
		}
		if c.Operator == OpGreaterThan {
			return left > right
		}
		return left < right
	case OpContains:
		return strings.Contains(stringify(actual), stringify(c.Value))
	}

	return false
}

// Lookup walks a dot-separated path through nested maps and slices.
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

func looselyEqual(actual, expected any) bool {
	if left, ok := toNumber(actual); ok {
		if right, ok := toNumber(expected); ok {
			return left == right
		}
	}

	if reflect.DeepEqual(actual, expected) {
		return true
	}

	return stringify(actual) == stringify(expected)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
