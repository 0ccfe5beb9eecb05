package types

import (
	"bytes"
	"fmt"
	"math"
	"strings"
)

// CompareValues orders two values of the same field. NULL sorts first.
// Values of different Go types are ordered by their type tag so the order is
// total even for malformed input.
func CompareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case int8:
		if y, ok := b.(int8); ok {
			return compareInt(int64(x), int64(y))
		}
	case int16:
		if y, ok := b.(int16); ok {
			return compareInt(int64(x), int64(y))
		}
	case int32:
		if y, ok := b.(int32); ok {
			return compareInt(int64(x), int64(y))
		}
	case int64:
		if y, ok := b.(int64); ok {
			return compareInt(x, y)
		}
	case float32:
		if y, ok := b.(float32); ok {
			return compareFloat(float64(x), float64(y))
		}
	case float64:
		if y, ok := b.(float64); ok {
			return compareFloat(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y)
		}
	default:
		panic(fmt.Sprintf("tablestream: unsupported value type %T", a))
	}
	return compareInt(int64(tagOf(a)), int64(tagOf(b)))
}

// CompareRows orders rows field by field; a shorter prefix sorts first.
func CompareRows(a, b Row) int {
	n := len(a.Values)
	if len(b.Values) < n {
		n = len(b.Values)
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(a.Values[i], b.Values[i]); c != 0 {
			return c
		}
	}
	return compareInt(int64(len(a.Values)), int64(len(b.Values)))
}

func compareInt(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// NaN sorts after every other value and equals itself.
func compareFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
