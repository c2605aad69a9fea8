package variant

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the payload union. The zero value is Null.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}

// Value is an immutable-by-convention JSON tree: null, bool, number (float64),
// string, array or object. It is the single payload representation shared by
// messages, events, service calls and contract validation; its JSON form is
// stable so validation rules can rely on it.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

var NullValue = Value{}

func NewBool(v bool) Value      { return Value{kind: Bool, b: v} }
func NewNumber(v float64) Value { return Value{kind: Number, n: v} }
func NewInt(v int64) Value      { return Value{kind: Number, n: float64(v)} }
func NewString(v string) Value  { return Value{kind: String, s: v} }

func NewArray(items ...Value) Value {
	return Value{kind: Array, arr: append([]Value(nil), items...)}
}

func NewObject(fields map[string]Value) Value {
	m := make(map[string]Value, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return Value{kind: Object, obj: m}
}

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsNull() bool     { return v.kind == Null }
func (v Value) Bool() bool       { return v.b }
func (v Value) Float64() float64 { return v.n }
func (v Value) Int64() int64     { return int64(v.n) }
func (v Value) Str() string      { return v.s }

// Len returns the element count for arrays and objects, zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.obj)
	default:
		return 0
	}
}

// Index returns the i-th array element, or Null when out of range.
func (v Value) Index(i int) Value {
	if v.kind != Array || i < 0 || i >= len(v.arr) {
		return NullValue
	}
	return v.arr[i]
}

// Get returns the named object field, or Null when absent.
func (v Value) Get(key string) Value {
	if v.kind != Object {
		return NullValue
	}
	return v.obj[key]
}

// Has reports whether an object field is present, Null values included.
func (v Value) Has(key string) bool {
	if v.kind != Object {
		return false
	}
	_, ok := v.obj[key]
	return ok
}

// Keys returns object field names in sorted order.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns a copy of the array elements.
func (v Value) Items() []Value {
	if v.kind != Array {
		return nil
	}
	return append([]Value(nil), v.arr...)
}

// With returns a copy of an object value with one field replaced.
func (v Value) With(key string, val Value) Value {
	m := make(map[string]Value, v.Len()+1)
	for k, f := range v.obj {
		m[k] = f
	}
	m[key] = val
	return Value{kind: Object, obj: m}
}

// Equal performs a deep structural comparison.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == o.b
	case Number:
		return v.n == o.n
	case String:
		return v.s == o.s
	case Array:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, f := range v.obj {
			of, ok := o.obj[k]
			if !ok || !f.Equal(of) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy sharing no backing storage with the receiver.
func (v Value) Clone() Value {
	switch v.kind {
	case Array:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.Clone()
		}
		return Value{kind: Array, arr: arr}
	case Object:
		obj := make(map[string]Value, len(v.obj))
		for k, f := range v.obj {
			obj[k] = f.Clone()
		}
		return Value{kind: Object, obj: obj}
	default:
		return v
	}
}

// FromAny converts plain Go values (the json.Unmarshal family: nil, bool,
// float64, string, []any, map[string]any, plus common int/float widths) into a
// Value.
func FromAny(in any) (Value, error) {
	switch t := in.(type) {
	case nil:
		return NullValue, nil
	case Value:
		return t, nil
	case bool:
		return NewBool(t), nil
	case float64:
		return NewNumber(t), nil
	case float32:
		return NewNumber(float64(t)), nil
	case int:
		return NewInt(int64(t)), nil
	case int32:
		return NewInt(int64(t)), nil
	case int64:
		return NewInt(t), nil
	case uint:
		return NewInt(int64(t)), nil
	case uint64:
		return NewInt(int64(t)), nil
	case string:
		return NewString(t), nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return NullValue, err
			}
			arr[i] = v
		}
		return Value{kind: Array, arr: arr}, nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return NullValue, err
			}
			obj[k] = v
		}
		return Value{kind: Object, obj: obj}, nil
	default:
		return NullValue, fmt.Errorf("variant: unsupported type %T", in)
	}
}

// ToAny converts back to the plain json.Unmarshal representation.
func (v Value) ToAny() any {
	switch v.kind {
	case Null:
		return nil
	case Bool:
		return v.b
	case Number:
		return v.n
	case String:
		return v.s
	case Array:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToAny()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.obj))
		for k, f := range v.obj {
			out[k] = f.ToAny()
		}
		return out
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse decodes a JSON document into a Value.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return NullValue, err
	}
	return v, nil
}

func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(data)
}
