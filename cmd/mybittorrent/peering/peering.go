package peering

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// Tracker errors.
var (
	ErrNetwork           = errors.New("tracker: network error")
	ErrHTTPStatus        = errors.New("tracker: unexpected http status")
	ErrMalformedPeerList = errors.New("tracker: malformed peer list")
	ErrTrackerFailure    = errors.New("tracker: announce refused")
	ErrNoPeers           = errors.New("tracker: no peers available")
)

// Peer wire errors. They end a single conversation only.
var (
	ErrConnectionClosed   = errors.New("peer: connection closed")
	ErrIdentifierMismatch = errors.New("peer: info hash mismatch")
	ErrUnknownMessageType = errors.New("peer: unknown message type")
	ErrFrame              = errors.New("peer: invalid frame")
)

// Manager errors.
var (
	ErrConversationEnded = errors.New("peer: conversation ended")
	ErrEndOfStream       = errors.New("peer: all conversations ended")
	ErrManagerClosed     = errors.New("peer: manager closed")
)

// HTTPError is returned when the tracker answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("tracker responded with %s", e.Status)
}

func (e *HTTPError) Is(target error) bool { return target == ErrHTTPStatus }

// FailureError carries the tracker's "failure reason".
type FailureError struct {
	Reason string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("tracker failure: %s", e.Reason)
}

func (e *FailureError) Is(target error) bool { return target == ErrTrackerFailure }

const compactPeerSize = 6

// ParsePeers unmarshals a compact peer list: 4 address bytes followed by a
// big-endian port, per peer.
func ParsePeers(peersData []byte) ([]Peer, error) {
	if len(peersData)%compactPeerSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedPeerList, len(peersData), compactPeerSize)
	}

	peers := make([]Peer, 0, len(peersData)/compactPeerSize)
	for i := 0; i < len(peersData); i += compactPeerSize {
		peer := Peer{
			IP:   netip.AddrFrom4([4]byte(peersData[i : i+4])),
			Port: binary.BigEndian.Uint16(peersData[i+4 : i+6]),
		}
		peers = append(peers, peer)
	}

	return peers, nil
}
