package bencode

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
)

const maxDepth = 512

// Decode parses exactly one value from data. Trailing bytes are an error.
// The returned tree does not alias data.
func Decode(data []byte) (Value, error) {
	value, length, err := DecodePrefix(data)
	if err != nil {
		return Value{}, err
	}
	if length != len(data) {
		return Value{}, fmt.Errorf("%w: %d trailing bytes after value", ErrMalformedEncoding, len(data)-length)
	}
	return value, nil
}

// DecodePrefix parses one value from the start of data and returns it along
// with the number of bytes it occupied.
func DecodePrefix(data []byte) (Value, int, error) {
	return decode(slices.Clone(data), 0, 0)
}

func decode(data []byte, pos, depth int) (Value, int, error) {
	if pos >= len(data) {
		return Value{}, 0, fmt.Errorf("%w: unexpected end of input at offset %d", ErrMalformedEncoding, pos)
	}
	if depth > maxDepth {
		return Value{}, 0, fmt.Errorf("%w: nesting deeper than %d", ErrMalformedEncoding, maxDepth)
	}

	var (
		value  Value
		length int
		err    error
	)
	switch c := data[pos]; {
	case c >= '0' && c <= '9':
		var str []byte
		str, length, err = decodeString(data, pos)
		value = Value{kind: KindString, str: str}
	case c == 'i':
		var i int64
		i, length, err = decodeInteger(data, pos)
		value = Value{kind: KindInteger, integer: i}
	case c == 'l':
		var list []Value
		list, length, err = decodeList(data, pos, depth)
		value = Value{kind: KindList, list: list}
	case c == 'd':
		var dict []Entry
		dict, length, err = decodeDictionary(data, pos, depth)
		value = Value{kind: KindDict, dict: dict}
	default:
		return Value{}, 0, fmt.Errorf("%w: unexpected byte %q at offset %d", ErrMalformedEncoding, c, pos)
	}
	if err != nil {
		return Value{}, 0, err
	}

	value.raw = data[pos : pos+length : pos+length]
	return value, length, nil
}

func decodeDictionary(data []byte, start, depth int) ([]Entry, int, error) {
	pos := start + 1 // 'd'
	entries := make([]Entry, 0)
	seen := make(map[string]struct{})

	for pos < len(data) {
		if data[pos] == 'e' {
			return entries, pos + 1 - start, nil
		}

		if c := data[pos]; c < '0' || c > '9' {
			return nil, 0, fmt.Errorf("%w: dictionary key at offset %d is not a byte string", ErrMalformedEncoding, pos)
		}
		key, keyLength, err := decodeString(data, pos)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid dictionary key: %w", err)
		}
		pos += keyLength

		if _, dup := seen[string(key)]; dup {
			return nil, 0, fmt.Errorf("%w: duplicate dictionary key %q", ErrMalformedEncoding, key)
		}
		seen[string(key)] = struct{}{}

		value, valueLength, err := decode(data, pos, depth+1)
		if err != nil {
			return nil, 0, err
		}
		pos += valueLength
		entries = append(entries, Entry{Key: string(key), Value: value})
	}

	return nil, 0, fmt.Errorf("%w: unterminated dictionary at offset %d", ErrMalformedEncoding, start)
}

func decodeList(data []byte, start, depth int) ([]Value, int, error) {
	pos := start + 1 // 'l'
	result := make([]Value, 0)

	for pos < len(data) {
		if data[pos] == 'e' {
			return result, pos + 1 - start, nil
		}

		value, consumed, err := decode(data, pos, depth+1)
		if err != nil {
			return nil, 0, err
		}
		pos += consumed
		result = append(result, value)
	}

	return nil, 0, fmt.Errorf("%w: unterminated list at offset %d", ErrMalformedEncoding, start)
}

func decodeInteger(data []byte, start int) (int64, int, error) {
	end := bytes.IndexByte(data[start:], 'e')
	if end == -1 {
		return 0, 0, fmt.Errorf("%w: unterminated integer at offset %d", ErrMalformedEncoding, start)
	}

	digits := data[start+1 : start+end]
	if err := checkDecimal(digits, true); err != nil {
		return 0, 0, fmt.Errorf("%w: integer at offset %d: %v", ErrMalformedEncoding, start, err)
	}
	num, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: integer at offset %d: %v", ErrMalformedEncoding, start, err)
	}

	return num, end + 1, nil // 1 for the final 'e'
}

func decodeString(data []byte, start int) ([]byte, int, error) {
	colon := bytes.IndexByte(data[start:], ':')
	if colon == -1 {
		return nil, 0, fmt.Errorf("%w: missing colon after string length at offset %d", ErrMalformedEncoding, start)
	}

	digits := data[start : start+colon]
	if err := checkDecimal(digits, false); err != nil {
		return nil, 0, fmt.Errorf("%w: string length at offset %d: %v", ErrMalformedEncoding, start, err)
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: string length at offset %d: %v", ErrMalformedEncoding, start, err)
	}

	begin := start + colon + 1
	if length > len(data)-begin {
		return nil, 0, fmt.Errorf("%w: string at offset %d wants %d bytes, %d left", ErrMalformedEncoding, start, length, len(data)-begin)
	}

	return data[begin : begin+length : begin+length], colon + 1 + length, nil
}

// checkDecimal enforces the canonical decimal form: ASCII digits only, no
// leading zeros and, when signed, no "-0".
func checkDecimal(digits []byte, signed bool) error {
	if signed && len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
		if len(digits) > 0 && digits[0] == '0' {
			return fmt.Errorf("negative zero or zero-padded number")
		}
	}
	if len(digits) == 0 {
		return fmt.Errorf("empty number")
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return fmt.Errorf("non-digit %q", c)
		}
	}
	if len(digits) > 1 && digits[0] == '0' {
		return fmt.Errorf("zero-padded number")
	}
	return nil
}
