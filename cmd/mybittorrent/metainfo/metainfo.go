package metainfo

import (
	"errors"
	"fmt"
	"math"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
	"github.com/spf13/afero"
)

var ErrInvalidField = errors.New("metainfo: invalid field")

// Descriptor is the parsed form of a .torrent file. InfoHash is derived from
// the info dictionary and never read from the file.
type Descriptor struct {
	Announce     string
	AnnounceList [][]string
	CreatedBy    string
	Comment      string

	Name        string
	PieceLength int64
	Length      int64
	PieceHashes []Hash
	Files       []File

	InfoHash Hash
}

// File is one entry of a multi-file torrent.
type File struct {
	Length int64
	Path   []string
}

// Load reads and parses the descriptor at path.
func Load(fs afero.Fs, path string) (*Descriptor, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read torrent file: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent file %s: %w", path, err)
	}
	return d, nil
}

// Parse decodes a .torrent file. The info hash is computed over the info
// dictionary exactly as it appears in data.
func Parse(data []byte) (*Descriptor, error) {
	root, err := bencode.Decode(data)
	if err != nil {
		return nil, err
	}
	if root.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("%w: descriptor root is a %s, not a dictionary", bencode.ErrMalformedEncoding, root.Kind())
	}

	d := &Descriptor{}
	if d.Announce, err = root.GetText("announce"); err != nil {
		return nil, err
	}
	info, err := root.GetDict("info")
	if err != nil {
		return nil, err
	}
	d.InfoHash = Digest(info.Raw())

	if err := d.parseOptional(root); err != nil {
		return nil, err
	}
	if err := d.parseInfo(info); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Descriptor) parseOptional(root bencode.Value) error {
	var err error
	if root.Has("created by") {
		if d.CreatedBy, err = root.GetText("created by"); err != nil {
			return err
		}
	}
	if root.Has("comment") {
		if d.Comment, err = root.GetText("comment"); err != nil {
			return err
		}
	}
	if !root.Has("announce-list") {
		return nil
	}

	tiers, err := root.GetList("announce-list")
	if err != nil {
		return err
	}
	for _, tier := range tiers {
		urls, err := tier.List()
		if err != nil {
			return fmt.Errorf("announce-list tier: %w", err)
		}
		var list []string
		for _, u := range urls {
			s, err := u.Text()
			if err != nil {
				return fmt.Errorf("announce-list url: %w", err)
			}
			list = append(list, s)
		}
		d.AnnounceList = append(d.AnnounceList, list)
	}
	return nil
}

func (d *Descriptor) parseInfo(info bencode.Value) error {
	var err error
	if d.Name, err = info.GetText("name"); err != nil {
		return err
	}

	if info.Has("length") || !info.Has("files") {
		if d.Length, err = info.GetInt("length"); err != nil {
			return err
		}
	} else if err := d.parseFiles(info); err != nil {
		return err
	}
	if d.Length <= 0 {
		return fmt.Errorf("%w: length %d is not positive", ErrInvalidField, d.Length)
	}

	if d.PieceLength, err = info.GetInt("piece length"); err != nil {
		return err
	}
	if d.PieceLength <= 0 {
		return fmt.Errorf("%w: piece length %d is not positive", ErrInvalidField, d.PieceLength)
	}

	pieces, err := info.GetBytes("pieces")
	if err != nil {
		return err
	}
	if len(pieces)%HashSize != 0 {
		return fmt.Errorf("%w: pieces length %d is not a multiple of %d", ErrInvalidField, len(pieces), HashSize)
	}
	d.PieceHashes = make([]Hash, len(pieces)/HashSize)
	for i := range d.PieceHashes {
		copy(d.PieceHashes[i][:], pieces[i*HashSize:])
	}
	return nil
}

func (d *Descriptor) parseFiles(info bencode.Value) error {
	files, err := info.GetList("files")
	if err != nil {
		return err
	}
	for i, f := range files {
		length, err := f.GetInt("length")
		if err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		if length < 0 {
			return fmt.Errorf("%w: file %d has negative length", ErrInvalidField, i)
		}
		segments, err := f.GetList("path")
		if err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		path := make([]string, 0, len(segments))
		for _, s := range segments {
			p, err := s.Text()
			if err != nil {
				return fmt.Errorf("file %d path: %w", i, err)
			}
			path = append(path, p)
		}
		if length > math.MaxInt64-d.Length {
			return fmt.Errorf("%w: total length overflows at file %d", ErrInvalidField, i)
		}
		d.Files = append(d.Files, File{Length: length, Path: path})
		d.Length += length
	}
	return nil
}

func (d *Descriptor) NumPieces() int {
	return len(d.PieceHashes)
}

// PieceSize returns the byte size of piece i; the last piece may be short.
func (d *Descriptor) PieceSize(pieceIndex int) int64 {
	numPieces := (d.Length + d.PieceLength - 1) / d.PieceLength

	if int64(pieceIndex) == numPieces-1 {
		return d.Length - d.PieceLength*(numPieces-1)
	}
	return d.PieceLength
}
