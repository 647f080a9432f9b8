package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrMalformedEncoding = errors.New("bencode: malformed encoding")
	ErrFieldMissing      = errors.New("bencode: field missing")
	ErrTypeMismatch      = errors.New("bencode: type mismatch")
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInteger
	KindString
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindString:
		return "byte string"
	case KindList:
		return "list"
	case KindDict:
		return "dictionary"
	default:
		return "invalid"
	}
}

// Entry is a single key/value pair of a dictionary.
type Entry struct {
	Key   string
	Value Value
}

// Value is a decoded bencode value. The zero Value is invalid.
type Value struct {
	kind    Kind
	integer int64
	str     []byte
	list    []Value
	dict    []Entry
	raw     []byte
}

func NewInteger(i int64) Value { return Value{kind: KindInteger, integer: i} }

func NewString(s string) Value { return Value{kind: KindString, str: []byte(s)} }

func NewBytes(b []byte) Value { return Value{kind: KindString, str: slices.Clone(b)} }

func NewList(items ...Value) Value { return Value{kind: KindList, list: items} }

// NewDict builds a dictionary in the given order. Encoding sorts the keys.
func NewDict(entries ...Entry) Value { return Value{kind: KindDict, dict: entries} }

func (v Value) Kind() Kind { return v.kind }

// Raw returns the exact input bytes v was decoded from, or nil for values
// that were constructed rather than decoded.
func (v Value) Raw() []byte { return v.raw }

func (v Value) mismatch(want Kind) error {
	return fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, want, v.kind)
}

func (v Value) Int() (int64, error) {
	if v.kind != KindInteger {
		return 0, v.mismatch(KindInteger)
	}
	return v.integer, nil
}

func (v Value) Bytes() ([]byte, error) {
	if v.kind != KindString {
		return nil, v.mismatch(KindString)
	}
	return v.str, nil
}

func (v Value) Text() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return string(v.str), nil
}

func (v Value) List() ([]Value, error) {
	if v.kind != KindList {
		return nil, v.mismatch(KindList)
	}
	return v.list, nil
}

// Dict returns the dictionary entries in decoded (or insertion) order.
func (v Value) Dict() ([]Entry, error) {
	if v.kind != KindDict {
		return nil, v.mismatch(KindDict)
	}
	return v.dict, nil
}

// Get looks up key in a dictionary value.
func (v Value) Get(key string) (Value, error) {
	if v.kind != KindDict {
		return Value{}, v.mismatch(KindDict)
	}
	for _, e := range v.dict {
		if e.Key == key {
			return e.Value, nil
		}
	}
	return Value{}, fmt.Errorf("%w: %q", ErrFieldMissing, key)
}

// Has reports whether a dictionary value carries key.
func (v Value) Has(key string) bool {
	_, err := v.Get(key)
	return err == nil
}

func (v Value) GetInt(key string) (int64, error) {
	f, err := v.Get(key)
	if err != nil {
		return 0, err
	}
	i, err := f.Int()
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return i, nil
}

func (v Value) GetText(key string) (string, error) {
	f, err := v.Get(key)
	if err != nil {
		return "", err
	}
	s, err := f.Text()
	if err != nil {
		return "", fmt.Errorf("field %q: %w", key, err)
	}
	return s, nil
}

func (v Value) GetBytes(key string) ([]byte, error) {
	f, err := v.Get(key)
	if err != nil {
		return nil, err
	}
	b, err := f.Bytes()
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", key, err)
	}
	return b, nil
}

func (v Value) GetList(key string) ([]Value, error) {
	f, err := v.Get(key)
	if err != nil {
		return nil, err
	}
	l, err := f.List()
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", key, err)
	}
	return l, nil
}

// GetDict returns the dictionary stored under key as a Value.
func (v Value) GetDict(key string) (Value, error) {
	f, err := v.Get(key)
	if err != nil {
		return Value{}, err
	}
	if f.kind != KindDict {
		return Value{}, fmt.Errorf("field %q: %w", key, f.mismatch(KindDict))
	}
	return f, nil
}

// Interface converts v into plain Go values: int64, string, []any and
// map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindInteger:
		return v.integer
	case KindString:
		return string(v.str)
	case KindList:
		out := make([]any, 0, len(v.list))
		for _, item := range v.list {
			out = append(out, item.Interface())
		}
		return out
	case KindDict:
		out := make(map[string]any, len(v.dict))
		for _, e := range v.dict {
			out[e.Key] = e.Value.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether v and o hold the same data. Dictionary order and
// the raw input layout are ignored.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.integer == o.integer
	case KindString:
		return bytes.Equal(v.str, o.str)
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	case KindDict:
		if len(v.dict) != len(o.dict) {
			return false
		}
		for _, e := range v.dict {
			other, err := o.Get(e.Key)
			if err != nil || !e.Value.Equal(other) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) String() string {
	encoded, err := Encode(v)
	if err != nil {
		return fmt.Sprintf("<%s: %v>", v.kind, err)
	}
	return string(encoded)
}
