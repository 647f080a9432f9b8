package metainfo

import (
	"strings"
	"testing"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pieces        = strings.Repeat("a", 20) + strings.Repeat("b", 20)
	referenceInfo = "d6:lengthi1000e4:name8:test.bin12:piece lengthi512e6:pieces40:" + pieces + "e"
	reference     = "d8:announce35:http://tracker.example.com/announce4:info" + referenceInfo + "e"
)

func TestDigest(t *testing.T) {
	assert.Equal(t, "8d883f1577ca8c334b7c6d75ccb71209d71ced13", Digest([]byte{0x08}).String())
	assert.Equal(t, Hash{
		0x8d, 0x88, 0x3f, 0x15, 0x77, 0xca, 0x8c, 0x33, 0x4b, 0x7c,
		0x6d, 0x75, 0xcc, 0xb7, 0x12, 0x09, 0xd7, 0x1c, 0xed, 0x13,
	}, Digest([]byte{0x08}))

	for _, n := range []int{0, 1, 64, 1 << 16} {
		assert.Len(t, Digest(make([]byte, n)), 20)
	}
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", Digest(nil).String())
}

func TestParseHash(t *testing.T) {
	h, err := ParseHash("8d883f1577ca8c334b7c6d75ccb71209d71ced13")
	require.NoError(t, err)
	assert.Equal(t, Digest([]byte{0x08}), h)

	_, err = ParseHash("8d88")
	assert.Error(t, err)
	_, err = ParseHash(strings.Repeat("zz", 20))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	d, err := Parse([]byte(reference))
	require.NoError(t, err)

	assert.Equal(t, "http://tracker.example.com/announce", d.Announce)
	assert.Equal(t, "test.bin", d.Name)
	assert.Equal(t, int64(1000), d.Length)
	assert.Equal(t, int64(512), d.PieceLength)
	require.Len(t, d.PieceHashes, 2)
	assert.Equal(t, strings.Repeat("a", 20), string(d.PieceHashes[0][:]))
	assert.Equal(t, strings.Repeat("b", 20), string(d.PieceHashes[1][:]))
	assert.Equal(t, "1ed4025f12a982d9ca3315802c10da14869d2029", d.InfoHash.String())

	assert.Equal(t, 2, d.NumPieces())
	assert.Equal(t, int64(512), d.PieceSize(0))
	assert.Equal(t, int64(488), d.PieceSize(1))
}

func TestParseHashesOriginalLayout(t *testing.T) {
	unorderedInfo := "d4:name8:test.bin6:lengthi1000e12:piece lengthi512e6:pieces40:" + pieces + "e"
	d, err := Parse([]byte("d8:announce3:foo4:info" + unorderedInfo + "e"))
	require.NoError(t, err)

	assert.Equal(t, "020c5161f44c9192e031ae8fc983b93a58656f57", d.InfoHash.String())
	assert.Equal(t, Digest([]byte(unorderedInfo)), d.InfoHash)

	canonical, err := bencode.Encode(mustDecode(t, unorderedInfo))
	require.NoError(t, err)
	assert.NotEqual(t, Digest(canonical), d.InfoHash)
}

func TestParseCanonicalMatchesReencoding(t *testing.T) {
	d, err := Parse([]byte(reference))
	require.NoError(t, err)

	reencoded, err := bencode.Encode(mustDecode(t, referenceInfo))
	require.NoError(t, err)
	assert.Equal(t, Digest(reencoded), d.InfoHash)
}

func TestParseOptionalFields(t *testing.T) {
	input := "d8:announce3:foo13:announce-listll3:fooel3:bar3:bazee7:comment2:hi10:created by4:test4:info" + referenceInfo + "e"
	d, err := Parse([]byte(input))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"foo"}, {"bar", "baz"}}, d.AnnounceList)
	assert.Equal(t, "hi", d.Comment)
	assert.Equal(t, "test", d.CreatedBy)
}

func TestParseMultiFile(t *testing.T) {
	info := "d5:filesld6:lengthi600e4:pathl1:a5:x.binee" +
		"d6:lengthi400e4:pathl1:beee" +
		"4:name3:dir12:piece lengthi512e6:pieces40:" + pieces + "e"
	d, err := Parse([]byte("d8:announce3:foo4:info" + info + "e"))
	require.NoError(t, err)

	assert.Equal(t, int64(1000), d.Length)
	assert.Equal(t, []File{
		{Length: 600, Path: []string{"a", "x.bin"}},
		{Length: 400, Path: []string{"b"}},
	}, d.Files)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   error
	}{
		{"garbage", "not bencode", bencode.ErrMalformedEncoding},
		{"root is a list", "li1ee", bencode.ErrMalformedEncoding},
		{"missing announce", "d4:info" + referenceInfo + "e", bencode.ErrFieldMissing},
		{"missing info", "d8:announce3:fooe", bencode.ErrFieldMissing},
		{"info is a string", "d8:announce3:foo4:info3:bare", bencode.ErrTypeMismatch},
		{"announce is an integer", "d8:announcei1e4:info" + referenceInfo + "e", bencode.ErrTypeMismatch},
		{"missing name", "d8:announce3:foo4:infod6:lengthi1e12:piece lengthi1e6:pieces0:ee", bencode.ErrFieldMissing},
		{"length is a string", "d8:announce3:foo4:infod6:length1:x4:name1:n12:piece lengthi1e6:pieces0:ee", bencode.ErrTypeMismatch},
		{"zero length", "d8:announce3:foo4:infod6:lengthi0e4:name1:n12:piece lengthi1e6:pieces0:ee", ErrInvalidField},
		{"negative piece length", "d8:announce3:foo4:infod6:lengthi1e4:name1:n12:piece lengthi-1e6:pieces0:ee", ErrInvalidField},
		{"short pieces", "d8:announce3:foo4:infod6:lengthi1e4:name1:n12:piece lengthi1e6:pieces3:abcee", ErrInvalidField},
		{"missing pieces", "d8:announce3:foo4:infod6:lengthi1e4:name1:n12:piece lengthi1eee", bencode.ErrFieldMissing},
		{"file lengths overflow", "d8:announce3:foo4:infod5:filesl" +
			"d6:lengthi9223372036854775807e4:pathl1:aee" +
			"d6:lengthi9223372036854775807e4:pathl1:bee" +
			"d6:lengthi3e4:pathl1:cee" +
			"e4:name1:n12:piece lengthi1e6:pieces0:ee", ErrInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/torrents/test.torrent", []byte(reference), 0o644))

	d, err := Load(fs, "/torrents/test.torrent")
	require.NoError(t, err)
	assert.Equal(t, "test.bin", d.Name)

	_, err = Load(fs, "/torrents/missing.torrent")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/torrents/bad.torrent", []byte("d8:announce"), 0o644))
	_, err = Load(fs, "/torrents/bad.torrent")
	assert.ErrorIs(t, err, bencode.ErrMalformedEncoding)
}

func mustDecode(t *testing.T, s string) bencode.Value {
	t.Helper()
	v, err := bencode.Decode([]byte(s))
	require.NoError(t, err)
	return v
}
