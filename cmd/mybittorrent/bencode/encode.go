package bencode

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Encode serializes a Value or a plain Go value (integers, string, []byte,
// []any, map[string]any) into its canonical form. Dictionary keys are always
// written in ascending byte order.
func Encode(value any) ([]byte, error) {
	v, err := From(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// From converts a plain Go value into a Value.
func From(value any) (Value, error) {
	switch v := value.(type) {
	case Value:
		return v, nil
	case string:
		return NewString(v), nil
	case []byte: // for info.pieces
		return NewBytes(v), nil
	case int:
		return NewInteger(int64(v)), nil
	case int32:
		return NewInteger(int64(v)), nil
	case int64:
		return NewInteger(v), nil
	case uint16:
		return NewInteger(int64(v)), nil
	case uint32:
		return NewInteger(int64(v)), nil
	case []Value:
		return NewList(v...), nil
	case []string:
		items := make([]Value, 0, len(v))
		for _, s := range v {
			items = append(items, NewString(s))
		}
		return NewList(items...), nil
	case []any:
		items := make([]Value, 0, len(v))
		for _, item := range v {
			converted, err := From(item)
			if err != nil {
				return Value{}, fmt.Errorf("failed to encode list item: %w", err)
			}
			items = append(items, converted)
		}
		return NewList(items...), nil
	case map[string]any:
		entries := make([]Entry, 0, len(v))
		for key, item := range v {
			converted, err := From(item)
			if err != nil {
				return Value{}, fmt.Errorf("failed to encode dictionary value %q: %w", key, err)
			}
			entries = append(entries, Entry{Key: key, Value: converted})
		}
		return NewDict(entries...), nil
	default:
		return Value{}, fmt.Errorf("unsupported type for bencode encoding: %T", value)
	}
}

func encode(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindInteger:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.integer, 10))
		buf.WriteByte('e')
	case KindString:
		writeString(buf, v.str)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.list {
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case KindDict:
		// Sort keys for consistent encoding
		entries := slices.Clone(v.dict)
		slices.SortStableFunc(entries, func(a, b Entry) int { return strings.Compare(a.Key, b.Key) })

		buf.WriteByte('d')
		for i, e := range entries {
			if i > 0 && entries[i-1].Key == e.Key {
				return fmt.Errorf("duplicate dictionary key %q", e.Key)
			}
			writeString(buf, []byte(e.Key))
			if err := encode(buf, e.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	default:
		return fmt.Errorf("cannot encode %s value", v.kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s []byte) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.Write(s)
}
