package flow

import (
	"fmt"
	"reflect"
)

// dataType names the recognized value_set/value_range-checkable kinds for a
// port. A port's declared data_type is carried as the qualified type name
// text in serialized form; this is the closed set of names the engine
// understands natively. Any other name (e.g. the codec package's
// "markdown", "pdf-text", "html-article") is not checked: every value is
// accepted for it.
type dataType string

const (
	dataTypeAny    dataType = ""
	dataTypeBool   dataType = "bool"
	dataTypeInt    dataType = "int"
	dataTypeFloat  dataType = "float"
	dataTypeText   dataType = "text"
	dataTypeList   dataType = "list"
	dataTypeObject dataType = "object"
)

// checkDataType reports whether v is an acceptable instance of want. An int
// value is acceptable where a float is expected. An empty
// want imposes no constraint.
func checkDataType(want string, v any) error {
	dt := dataType(want)
	if dt == dataTypeAny || v == nil {
		return nil
	}
	switch dt {
	case dataTypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("want bool, got %s", reflect.TypeOf(v))
		}
	case dataTypeInt:
		switch v.(type) {
		case int, int32, int64:
		default:
			return fmt.Errorf("want int, got %s", reflect.TypeOf(v))
		}
	case dataTypeFloat:
		switch v.(type) {
		case float32, float64, int, int32, int64:
		default:
			return fmt.Errorf("want float, got %s", reflect.TypeOf(v))
		}
	case dataTypeText:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("want text, got %s", reflect.TypeOf(v))
		}
	case dataTypeList:
		k := reflect.ValueOf(v).Kind()
		if k != reflect.Slice && k != reflect.Array {
			return fmt.Errorf("want list, got %s", reflect.TypeOf(v))
		}
	case dataTypeObject:
		k := reflect.ValueOf(v).Kind()
		if k != reflect.Map && k != reflect.Struct {
			return fmt.Errorf("want object, got %s", reflect.TypeOf(v))
		}
	default:
		// Domain data_type: not natively checkable; any value passes.
		return nil
	}
	return nil
}

// valueInSet reports whether v matches one of the declared value_set
// candidates. Membership is strict: text compares by exact equality, no
// normalization.
func valueInSet(valueSet []any, v any) bool {
	if len(valueSet) == 0 {
		return true
	}
	for _, candidate := range valueSet {
		if reflect.DeepEqual(candidate, v) {
			return true
		}
	}
	return false
}

// valueInRange reports whether a numeric v falls within [lo, hi] inclusive.
func valueInRange(lo, hi float64, v any) (bool, bool) {
	f, ok := toFloat(v)
	if !ok {
		return false, false
	}
	return f >= lo && f <= hi, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
