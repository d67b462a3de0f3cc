package state

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/tailored-agentic-units/statesync/core/protocol"
)

// Kind is the declared value kind of a field or handler parameter.
type Kind int

const (
	KindAny Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	// KindFiles marks a handler parameter that receives uploaded files.
	KindFiles
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindFiles:
		return "files"
	default:
		return "any"
	}
}

// KindOf infers the kind of a default value.
func KindOf(v any) Kind {
	switch v.(type) {
	case bool:
		return KindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindFloat
	case string:
		return KindString
	case []protocol.UploadFile:
		return KindFiles
	case nil:
		return KindAny
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return KindList
	case reflect.Map:
		return KindMap
	}
	return KindAny
}

// Coerce converts v to the representation used for kind k. Numbers decoded
// from JSON arrive as float64 and are narrowed to int for KindInt when they
// carry no fractional part. Containers are normalized to []any and
// map[string]any.
func Coerce(k Kind, v any) (any, error) {
	switch k {
	case KindBool:
		return coerceBool(v)
	case KindInt:
		return coerceInt(v)
	case KindFloat:
		return coerceFloat(v)
	case KindString:
		return coerceString(v)
	case KindList:
		if v == nil {
			return []any{}, nil
		}
		n := normalize(v)
		if _, ok := n.([]any); !ok {
			return nil, &TypeError{Want: k, Got: v}
		}
		return n, nil
	case KindMap:
		if v == nil {
			return map[string]any{}, nil
		}
		n := normalize(v)
		if _, ok := n.(map[string]any); !ok {
			return nil, &TypeError{Want: k, Got: v}
		}
		return n, nil
	case KindFiles:
		files, ok := v.([]protocol.UploadFile)
		if !ok {
			return nil, &TypeError{Want: k, Got: v}
		}
		return files, nil
	default:
		return normalize(v), nil
	}
}

func coerceBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return nil, &TypeError{Want: KindBool, Got: v}
		}
		return parsed, nil
	}
	return nil, &TypeError{Want: KindBool, Got: v}
}

func coerceInt(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return nil, &TypeError{Want: KindInt, Got: v}
		}
		return parsed, nil
	}

	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return int(rv.Int()), nil
	case rv.CanUint():
		return int(rv.Uint()), nil
	case rv.CanFloat():
		f := rv.Float()
		if f != math.Trunc(f) {
			return nil, &TypeError{Want: KindInt, Got: v}
		}
		return int(f), nil
	}
	return nil, &TypeError{Want: KindInt, Got: v}
}

func coerceFloat(v any) (any, error) {
	if s, ok := v.(string); ok {
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &TypeError{Want: KindFloat, Got: v}
		}
		return parsed, nil
	}

	rv := reflect.ValueOf(v)
	switch {
	case rv.CanFloat():
		return rv.Float(), nil
	case rv.CanInt():
		return float64(rv.Int()), nil
	case rv.CanUint():
		return float64(rv.Uint()), nil
	}
	return nil, &TypeError{Want: KindFloat, Got: v}
}

func coerceString(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	case fmt.Stringer:
		return s.String(), nil
	}
	switch KindOf(v) {
	case KindInt, KindFloat, KindBool:
		return fmt.Sprint(v), nil
	}
	return nil, &TypeError{Want: KindString, Got: v}
}

// normalize converts typed slices and string-keyed maps into []any and
// map[string]any recursively so tracked containers can address them.
func normalize(v any) any {
	switch t := v.(type) {
	case nil, []byte, []protocol.UploadFile:
		return v
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalize(t[k])
		}
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return out
	}
	return v
}
