// Package webhook authenticates payment gateway notifications.
//
// Payloads are parsed into Value, a typed tree that keeps numbers in their
// original textual form, so the canonical signing string does not depend
// on Go's map ordering or float formatting.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Kind is the JSON type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is one node of a JSON document.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []Value
	obj  map[string]Value
}

// Null returns the JSON null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a JSON number literal such as "100000" or "1.5".
func Number(n string) Value { return Value{kind: KindNumber, num: json.Number(n)} }

// Int wraps an integer.
func Int(n int64) Value { return Value{kind: KindNumber, num: json.Number(fmt.Sprint(n))} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array wraps elements in order.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object wraps fields.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// Kind reports the JSON type.
func (v Value) Kind() Kind { return v.kind }

// Field returns an object member.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

// Keys returns the object's member names in lexicographic order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Without returns a copy of an object minus the named member.
func (v Value) Without(key string) Value {
	if v.kind != KindObject {
		return v
	}
	out := make(map[string]Value, len(v.obj))
	for k, f := range v.obj {
		if k != key {
			out[k] = f
		}
	}
	return Object(out)
}

// Str returns the string content, or "" for other kinds.
func (v Value) Str() string { return v.str }

// NumberText returns the number literal, or "" for other kinds.
func (v Value) NumberText() string { return string(v.num) }

// ErrMalformedPayload is returned for bodies that are not one JSON value.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// ParseValue decodes exactly one JSON document.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}
	return fromAny(raw), nil
}

func fromAny(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case json.Number:
		return Value{kind: KindNumber, num: t}
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = fromAny(e)
		}
		return Array(items...)
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[k] = fromAny(e)
		}
		return Object(fields)
	default:
		return Null()
	}
}
