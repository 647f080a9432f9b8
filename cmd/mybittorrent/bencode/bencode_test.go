package bencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeScalars(t *testing.T) {
	v, err := Decode([]byte("i-42e"))
	require.NoError(t, err)
	i, err := v.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(-42), i)

	v, err = Decode([]byte("i0e"))
	require.NoError(t, err)
	i, _ = v.Int()
	assert.Equal(t, int64(0), i)

	v, err = Decode([]byte("5:hello"))
	require.NoError(t, err)
	s, err := v.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	v, err = Decode([]byte("0:"))
	require.NoError(t, err)
	b, err := v.Bytes()
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestDecodeContainers(t *testing.T) {
	v, err := Decode([]byte("d3:cow3:moo4:spaml1:a1:bee"))
	require.NoError(t, err)

	moo, err := v.GetText("cow")
	require.NoError(t, err)
	assert.Equal(t, "moo", moo)

	spam, err := v.GetList("spam")
	require.NoError(t, err)
	require.Len(t, spam, 2)
	first, _ := spam[0].Text()
	assert.Equal(t, "a", first)

	assert.Equal(t, map[string]any{
		"cow":  "moo",
		"spam": []any{"a", "b"},
	}, v.Interface())
}

func TestDecodeRaw(t *testing.T) {
	input := []byte("d4:infod4:name1:xe3:numi7ee")
	v, err := Decode(input)
	require.NoError(t, err)
	assert.Equal(t, input, v.Raw())

	info, err := v.GetDict("info")
	require.NoError(t, err)
	assert.Equal(t, []byte("d4:name1:xe"), info.Raw())

	input[0] = 'X'
	assert.Equal(t, byte('d'), v.Raw()[0], "decoded tree must not alias the input")
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"truncated string", "5:abc"},
		{"non-digit length", "x:abc"},
		{"missing colon", "3abc"},
		{"zero-padded length", "03:abc"},
		{"negative zero", "i-0e"},
		{"zero-padded integer", "i007e"},
		{"empty integer", "ie"},
		{"bare minus", "i-e"},
		{"non-digit integer", "i1a2e"},
		{"overflowing integer", "i99999999999999999999e"},
		{"unterminated integer", "i42"},
		{"unterminated list", "li1ei2e"},
		{"unterminated dict", "d3:fooi1e"},
		{"integer key", "di1ei2ee"},
		{"list key", "dle3:fooe"},
		{"duplicate key", "d1:ai1e1:ai2ee"},
		{"trailing bytes", "i1ei2e"},
		{"unknown tag", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			assert.ErrorIs(t, err, ErrMalformedEncoding)
		})
	}
}

func TestDecodeDepthLimit(t *testing.T) {
	input := make([]byte, 0, 2*(maxDepth+10))
	for range maxDepth + 5 {
		input = append(input, 'l')
	}
	for range maxDepth + 5 {
		input = append(input, 'e')
	}
	_, err := Decode(input)
	assert.ErrorIs(t, err, ErrMalformedEncoding)
}

func TestDecodePrefix(t *testing.T) {
	v, n, err := DecodePrefix([]byte("4:spamtrailing"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	s, _ := v.Text()
	assert.Equal(t, "spam", s)
}

func TestEncodeSortsKeys(t *testing.T) {
	dict := NewDict(
		Entry{Key: "zebra", Value: NewInteger(1)},
		Entry{Key: "apple", Value: NewString("x")},
		Entry{Key: "Zulu", Value: NewList()},
	)
	encoded, err := Encode(dict)
	require.NoError(t, err)
	assert.Equal(t, "d4:Zulule5:apple1:x5:zebrai1ee", string(encoded))

	fromMap, err := Encode(map[string]any{"b": 2, "a": []any{1, "c"}})
	require.NoError(t, err)
	assert.Equal(t, "d1:ali1e1:ce1:bi2ee", string(fromMap))
}

func TestEncodeReordersDecodedDict(t *testing.T) {
	unordered := []byte("d1:bi2e1:ai1ee")
	v, err := Decode(unordered)
	require.NoError(t, err)

	once, err := Encode(v)
	require.NoError(t, err)
	assert.Equal(t, "d1:ai1e1:bi2ee", string(once))

	again, err := Decode(once)
	require.NoError(t, err)
	twice, err := Encode(again)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestEncodeRejectsDuplicateKeys(t *testing.T) {
	_, err := Encode(NewDict(
		Entry{Key: "a", Value: NewInteger(1)},
		Entry{Key: "a", Value: NewInteger(2)},
	))
	assert.Error(t, err)

	_, err = Encode(Value{})
	assert.Error(t, err)

	_, err = Encode(3.14)
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	values := []Value{
		NewInteger(0),
		NewInteger(-9223372036854775808),
		NewInteger(9223372036854775807),
		NewString(""),
		NewBytes([]byte{0x00, 0xff, ':', 'e'}),
		NewList(),
		NewList(NewInteger(1), NewList(NewString("nested")), NewDict()),
		NewDict(
			Entry{Key: "pieces", Value: NewBytes(make([]byte, 40))},
			Entry{Key: "length", Value: NewInteger(1000)},
			Entry{Key: "files", Value: NewList(NewDict(Entry{Key: "path", Value: NewList(NewString("a"))}))},
		),
	}

	for _, v := range values {
		encoded, err := Encode(v)
		require.NoError(t, err)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.True(t, v.Equal(decoded), "round trip of %s", encoded)
		assert.Equal(t, encoded, decoded.Raw())
	}
}

func TestFieldAccess(t *testing.T) {
	v, err := Decode([]byte("d6:lengthi10e4:name3:fooe"))
	require.NoError(t, err)

	_, err = v.Get("missing")
	assert.ErrorIs(t, err, ErrFieldMissing)

	_, err = v.GetInt("name")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = v.GetText("length")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = v.GetDict("length")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = NewInteger(1).Get("x")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	assert.True(t, v.Has("name"))
	assert.False(t, v.Has("nope"))
}
