package loader

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Tuple is an ordered argument or result list.
type Tuple []any

// Callback is a Go function handed to native code. It receives the
// arguments native code passed and returns one value, usually a Tuple.
// It runs inside the native call that made it, so it must not close the
// library it was called from.
type Callback func(args Tuple) (any, error)

// ConversionError reports a value that has no runtime object counterpart.
type ConversionError struct {
	Value  any
	Kind   int
	Reason string
}

func (e *ConversionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot convert %T to a native object: %s", e.Value, e.Reason)
	}
	if e.Value != nil {
		return fmt.Sprintf("cannot convert %T to a native object", e.Value)
	}
	return fmt.Sprintf("cannot convert native object of kind %d", e.Kind)
}

// toObject returns a new reference for v. Callbacks are registered with
// the library and become callable objects.
func (l *Library) toObject(v any) (uintptr, error) {
	a := l.abi
	var obj uintptr
	switch x := v.(type) {
	case nil:
		obj = a.none()
	case bool:
		var b int32
		if x {
			b = 1
		}
		obj = a.newBool(b)
	case string:
		if strings.IndexByte(x, 0) >= 0 {
			return 0, &ConversionError{Value: v, Reason: "embedded NUL byte"}
		}
		obj = a.newStr(x)
	case float32:
		obj = a.newFloat(float64(x))
	case float64:
		obj = a.newFloat(x)
	case Tuple:
		return l.toTuple(x)
	case []any:
		return l.toTuple(x)
	case Callback:
		return l.newCallable(x)
	case func(Tuple) (any, error):
		return l.newCallable(x)
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			obj = a.newInt(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			u := rv.Uint()
			if u > math.MaxInt64 {
				return 0, &ConversionError{Value: v, Reason: "value exceeds the signed 64-bit range"}
			}
			obj = a.newInt(int64(u))
		default:
			return 0, &ConversionError{Value: v}
		}
	}
	if obj == 0 {
		return 0, a.takeError("allocation failed")
	}
	return obj, nil
}

func (l *Library) toTuple(items []any) (uintptr, error) {
	a := l.abi
	t := a.newTuple(len(items))
	if t == 0 {
		return 0, a.takeError("allocation failed")
	}
	for i, item := range items {
		obj, err := l.toObject(item)
		if err != nil {
			a.decref(t)
			return 0, err
		}
		// tuple_set steals obj
		if a.tupleSet(t, i, obj) < 0 {
			a.decref(t)
			return 0, a.takeError("tuple store failed")
		}
	}
	return t, nil
}

// fromObject converts a borrowed reference to a Go value.
func (l *Library) fromObject(obj uintptr) (any, error) {
	a := l.abi
	switch k := a.kind(obj); k {
	case kindNone:
		return nil, nil
	case kindBool:
		return a.asInt(obj) != 0, nil
	case kindInt:
		if a.isUnsigned(obj) != 0 {
			return uint64(a.asInt(obj)), nil
		}
		return a.asInt(obj), nil
	case kindFloat:
		return a.asFloat(obj), nil
	case kindStr:
		return a.asStr(obj), nil
	case kindTuple:
		n := a.tupleSize(obj)
		out := make(Tuple, n)
		for i := 0; i < n; i++ {
			v, err := l.fromObject(a.tupleGet(obj, i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case kindCallable:
		if cb, ok := lookupCallback(a.callableHandle(obj)); ok {
			return cb.fn, nil
		}
		return nil, &ConversionError{Kind: int(k)}
	default:
		return nil, &ConversionError{Kind: int(k)}
	}
}
