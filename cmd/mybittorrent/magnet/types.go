package magnet

import (
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
)

const btihPrefix = "urn:btih:"

var ErrInvalidLink = errors.New("magnet: invalid link")

// Link represents a parsed magnet link with its components
type Link struct {
	InfoHash   metainfo.Hash
	Name       string
	Trackers   []string
	ExactTopic string
}

// Parse parses a magnet URI. The info hash may be given either as 40 hex
// characters or as 32 base32 characters.
func Parse(uri string) (*Link, error) {
	query, ok := strings.CutPrefix(uri, "magnet:?")
	if !ok {
		return nil, fmt.Errorf("%w: missing magnet:? prefix", ErrInvalidLink)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLink, err)
	}

	xt := values.Get("xt")
	encoded, ok := strings.CutPrefix(xt, btihPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: invalid or missing urn:btih prefix in xt parameter", ErrInvalidLink)
	}

	infoHash, err := parseInfoHash(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLink, err)
	}

	return &Link{
		ExactTopic: xt,
		InfoHash:   infoHash,
		Name:       values.Get("dn"),
		Trackers:   values["tr"],
	}, nil
}

func parseInfoHash(s string) (metainfo.Hash, error) {
	switch len(s) {
	case 2 * metainfo.HashSize:
		return metainfo.ParseHash(s)
	case 32:
		var h metainfo.Hash
		n, err := base32.StdEncoding.Decode(h[:], []byte(strings.ToUpper(s)))
		if err != nil {
			return h, fmt.Errorf("invalid base32-encoded info hash: %w", err)
		}
		if n != metainfo.HashSize {
			return h, fmt.Errorf("base32 info hash decoded to %d bytes", n)
		}
		return h, nil
	default:
		return metainfo.Hash{}, fmt.Errorf("invalid info hash length %d", len(s))
	}
}

// Tracker returns the first announce URL, or "" when the link has none.
func (l *Link) Tracker() string {
	if len(l.Trackers) == 0 {
		return ""
	}
	return l.Trackers[0]
}
