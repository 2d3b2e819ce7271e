package expr

import (
	"reflect"
	"strings"
)

// evaluateOperator applies op to a present (non-nil) actual value.
func evaluateOperator(op Operator, actual, expected interface{}) bool {
	switch op {
	case OpEquals:
		return valuesEqual(actual, expected)

	case OpNotEquals:
		return !valuesEqual(actual, expected)

	case OpContains:
		contained, applicable := evaluateContains(actual, expected)
		return applicable && contained

	case OpNotContains:
		// Only strings and lists can contain anything.
		contained, applicable := evaluateContains(actual, expected)
		return !applicable || !contained

	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		return evaluateOrdering(op, actual, expected)

	case OpIn:
		in, applicable := evaluateIn(actual, expected)
		return applicable && in

	case OpNotIn:
		in, applicable := evaluateIn(actual, expected)
		return !applicable || !in

	case OpExists:
		return true

	case OpNotExists:
		return false

	default:
		return false
	}
}

// valuesEqual compares numerically when both sides are numbers so that
// YAML ints and JSON floats compare equal.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	actualNum, okA := toFloat64(actual)
	expectedNum, okE := toFloat64(expected)
	if okA && okE {
		return actualNum == expectedNum
	}
	return reflect.DeepEqual(actual, expected)
}

// evaluateContains returns whether actual contains expected and whether the
// operator applies to actual at all (strings and lists only).
func evaluateContains(actual, expected interface{}) (contained, applicable bool) {
	if s, ok := actual.(string); ok {
		sub, ok := expected.(string)
		if !ok {
			return false, true
		}
		return strings.Contains(s, sub), true
	}
	if !isList(actual) {
		return false, false
	}
	return containsElement(actual, expected), true
}

// evaluateIn returns whether actual is an element of the expected list and
// whether expected is a list at all.
func evaluateIn(actual, expected interface{}) (in, applicable bool) {
	if !isList(expected) {
		return false, false
	}
	return containsElement(expected, actual), true
}

func evaluateOrdering(op Operator, actual, expected interface{}) bool {
	a, ok := toFloat64(actual)
	if !ok {
		return false
	}
	e, ok := toFloat64(expected)
	if !ok {
		return false
	}
	switch op {
	case OpGreater:
		return a > e
	case OpGreaterEq:
		return a >= e
	case OpLess:
		return a < e
	case OpLessEq:
		return a <= e
	}
	return false
}

func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	kind := reflect.ValueOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

func containsElement(list, elem interface{}) bool {
	listVal := reflect.ValueOf(list)
	for i := 0; i < listVal.Len(); i++ {
		if valuesEqual(listVal.Index(i).Interface(), elem) {
			return true
		}
	}
	return false
}

// toFloat64 converts numeric kinds to float64. Booleans and strings are not
// numbers.
func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}
