// ABOUTME: Ordered tagged-union JSON tree used for the gateway document and its side files.
// ABOUTME: Objects keep insertion order so written documents are stable across runs.

package gatewayconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is one node of a JSON document. The zero Value is null.
//
// Object values share their field storage between copies, the same way maps
// do, so Set on a copy is visible through the original.
type Value struct {
	kind Kind
	b    bool
	num  string
	str  string
	arr  []Value
	obj  *object
}

type object struct {
	keys   []string
	fields map[string]Value
}

// Field is a key/value pair used to build objects in order.
type Field struct {
	Key   string
	Value Value
}

// F builds a Field.
func F(key string, value Value) Field {
	return Field{Key: key, Value: value}
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Str(s string) Value { return Value{kind: KindString, str: s} }

// Int builds an integral number.
func Int(n int64) Value { return Value{kind: KindNumber, num: strconv.FormatInt(n, 10)} }

// Num builds a number from a float.
func Num(f float64) Value {
	return Value{kind: KindNumber, num: strconv.FormatFloat(f, 'f', -1, 64)}
}

// Arr builds an array value.
func Arr(items ...Value) Value {
	return Value{kind: KindArray, arr: append([]Value{}, items...)}
}

// Strings builds an array of strings.
func Strings(items []string) Value {
	out := make([]Value, 0, len(items))
	for _, item := range items {
		out = append(out, Str(item))
	}
	return Value{kind: KindArray, arr: out}
}

// Obj builds an object from fields in order. Later duplicates overwrite
// earlier ones in place.
func Obj(fields ...Field) Value {
	v := Value{kind: KindObject, obj: &object{fields: map[string]Value{}}}
	for _, f := range fields {
		v.Set(f.Key, f.Value)
	}
	return v
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) IsObject() bool { return v.kind == KindObject }

// String returns the string payload, or "" for other kinds.
func (v Value) String() string {
	if v.kind != KindString {
		return ""
	}
	return v.str
}

// StringOK reports whether v is a string.
func (v Value) StringOK() (string, bool) {
	return v.str, v.kind == KindString
}

// Int returns the integral part of a number.
func (v Value) Int() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if n, err := strconv.ParseInt(v.num, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(v.num, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// BoolValue returns the boolean payload.
func (v Value) BoolValue() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Items returns array elements; nil for other kinds.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// StringItems collects string elements of an array, skipping others.
func (v Value) StringItems() []string {
	var out []string
	for _, item := range v.Items() {
		if s, ok := item.StringOK(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Keys returns object keys in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return append([]string(nil), v.obj.keys...)
}

// Len reports the number of array items or object fields.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj.keys)
	default:
		return 0
	}
}

// Get walks object keys and returns the value found at path.
func (v Value) Get(path ...string) (Value, bool) {
	cur := v
	for _, key := range path {
		if cur.kind != KindObject {
			return Value{}, false
		}
		next, ok := cur.obj.fields[key]
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Has reports whether path resolves.
func (v Value) Has(path ...string) bool {
	_, ok := v.Get(path...)
	return ok
}

// Lookup is Get without the presence flag; missing paths yield null.
func (v Value) Lookup(path ...string) Value {
	out, _ := v.Get(path...)
	return out
}

// Set assigns key on an object. It panics when v is not an object.
func (v Value) Set(key string, value Value) {
	if v.kind != KindObject {
		panic(fmt.Sprintf("gatewayconfig: Set on %s value", v.kind))
	}
	if _, ok := v.obj.fields[key]; !ok {
		v.obj.keys = append(v.obj.keys, key)
	}
	v.obj.fields[key] = value
}

// SetPath assigns value at path, creating intermediate objects. Existing
// non-object intermediates are replaced.
func (v Value) SetPath(value Value, path ...string) {
	if len(path) == 0 {
		return
	}
	cur := v
	for _, key := range path[:len(path)-1] {
		next, ok := cur.Get(key)
		if !ok || next.kind != KindObject {
			next = Obj()
			cur.Set(key, next)
		}
		cur = next
	}
	cur.Set(path[len(path)-1], value)
}

// Delete removes key from an object.
func (v Value) Delete(key string) {
	if v.kind != KindObject {
		return
	}
	if _, ok := v.obj.fields[key]; !ok {
		return
	}
	delete(v.obj.fields, key)
	for i, k := range v.obj.keys {
		if k == key {
			v.obj.keys = append(v.obj.keys[:i], v.obj.keys[i+1:]...)
			break
		}
	}
}

// MarshalJSON encodes v compactly without HTML escaping.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Pretty encodes v with two-space indentation and no trailing newline.
func (v Value) Pretty() ([]byte, error) {
	compact, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.num)
	case KindString:
		return encodeString(buf, v.str)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, key := range v.obj.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := v.obj.fields[key].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("gatewayconfig: unknown kind %d", v.kind)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// UnmarshalJSON decodes a document, keeping object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after top-level value")
	}
	*v = parsed
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, io.ErrUnexpectedEOF
		}
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Value{kind: KindNumber, num: t.String()}, nil
	case string:
		return Str(t), nil
	case json.Delim:
		switch t {
		case '[':
			out := Value{kind: KindArray, arr: []Value{}}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				out.arr = append(out.arr, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return out, nil
		case '{':
			out := Obj()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is %T", keyTok)
				}
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				out.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return out, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// ParseDocument decodes data into a Value. Blank input yields an empty
// object and no error.
func ParseDocument(data []byte) (Value, error) {
	if strings.TrimSpace(string(data)) == "" {
		return Obj(), nil
	}
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}
