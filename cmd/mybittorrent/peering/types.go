package peering

import (
	"fmt"
	"net/netip"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
)

// AnnounceRequest carries the parameters of one tracker announce.
type AnnounceRequest struct {
	URL        string
	InfoHash   metainfo.Hash
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Compact    bool
}

type TrackerResponse struct {
	Interval       int    `mapstructure:"interval"`
	MinInterval    int    `mapstructure:"min interval"`
	TrackerID      string `mapstructure:"tracker id"`
	WarningMessage string `mapstructure:"warning message"`
	Complete       int    `mapstructure:"complete"`
	Incomplete     int    `mapstructure:"incomplete"`
	Peers          []Peer `mapstructure:"-"`
}

// Peer is an IPv4 endpoint announced by a tracker.
type Peer struct {
	IP   netip.Addr
	Port uint16
}

func (p Peer) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(p.IP, p.Port)
}

func (p Peer) String() string {
	return p.AddrPort().String()
}

type MessageType uint8

const (
	MsgChoke MessageType = iota
	MsgUnchoke
	MsgInterested
	MsgNotInterested
	MsgHave
	MsgBitfield
	MsgRequest
	MsgPiece
	MsgCancel

	// MsgKeepAlive has no id on the wire; it is a zero-length frame.
	MsgKeepAlive MessageType = 0xff
)

var messageNames = [...]string{
	MsgChoke:         "choke",
	MsgUnchoke:       "unchoke",
	MsgInterested:    "interested",
	MsgNotInterested: "not interested",
	MsgHave:          "have",
	MsgBitfield:      "bitfield",
	MsgRequest:       "request",
	MsgPiece:         "piece",
	MsgCancel:        "cancel",
}

func (t MessageType) String() string {
	if t == MsgKeepAlive {
		return "keep-alive"
	}
	if int(t) < len(messageNames) {
		return messageNames[t]
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

func (t MessageType) valid() bool {
	return t <= MsgCancel || t == MsgKeepAlive
}

// Message is one peer wire message. Payload holds the bytes after the id.
type Message struct {
	Type    MessageType
	Payload []byte
}

func (m Message) String() string {
	if len(m.Payload) == 0 {
		return m.Type.String()
	}
	return fmt.Sprintf("%s[%d bytes]", m.Type, len(m.Payload))
}

// PeerID identifies an accepted peer inside a Manager. It is never sent on
// the wire.
type PeerID uint64

// Event is a message received from a peer.
type Event struct {
	Peer    PeerID
	Addr    Peer
	Message Message
}
