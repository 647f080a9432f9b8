package peering

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
)

const (
	ProtocolName = "BitTorrent protocol"

	// MaxFrameLength bounds a single message body.
	MaxFrameLength = 2 << 20
)

// Handshake is the first message exchanged on a connection:
// [1:len(pstr)][pstr][8:reserved][20:info hash][20:peer id].
type Handshake struct {
	Pstr     string
	Reserved [8]byte
	InfoHash metainfo.Hash
	PeerID   [20]byte
}

func (h *Handshake) Serialize() []byte {
	buf := make([]byte, 0, len(h.Pstr)+49)
	buf = append(buf, byte(len(h.Pstr)))
	buf = append(buf, h.Pstr...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// BuildHandshake returns our handshake for d. Reserved bytes are zero.
func BuildHandshake(d *metainfo.Descriptor, peerID [20]byte) []byte {
	h := &Handshake{Pstr: ProtocolName, InfoHash: d.InfoHash, PeerID: peerID}
	return h.Serialize()
}

// ReadHandshake reads a handshake segment by segment, tolerating short reads.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var pstrlen [1]byte
	if err := readSegment(r, pstrlen[:], "protocol length"); err != nil {
		return nil, err
	}

	h := &Handshake{}
	pstr := make([]byte, pstrlen[0])
	if err := readSegment(r, pstr, "protocol name"); err != nil {
		return nil, err
	}
	h.Pstr = string(pstr)

	if err := readSegment(r, h.Reserved[:], "reserved bytes"); err != nil {
		return nil, err
	}
	if err := readSegment(r, h.InfoHash[:], "info hash"); err != nil {
		return nil, err
	}
	if err := readSegment(r, h.PeerID[:], "peer id"); err != nil {
		return nil, err
	}
	return h, nil
}

// ValidateHandshake reads the remote handshake and checks its info hash
// against expected.
func ValidateHandshake(r io.Reader, expected metainfo.Hash) (*Handshake, error) {
	h, err := ReadHandshake(r)
	if err != nil {
		return nil, err
	}
	if h.InfoHash != expected {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrIdentifierMismatch, h.InfoHash, expected)
	}
	return h, nil
}

// PerformHandshake sends our handshake and validates the peer's answer.
func PerformHandshake(conn io.ReadWriter, infoHash metainfo.Hash, peerID [20]byte) (*Handshake, error) {
	h := &Handshake{Pstr: ProtocolName, InfoHash: infoHash, PeerID: peerID}
	if _, err := conn.Write(h.Serialize()); err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	return ValidateHandshake(conn, infoHash)
}

func readSegment(r io.Reader, buf []byte, what string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
			errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return fmt.Errorf("%w: reading %s", ErrConnectionClosed, what)
		}
		return fmt.Errorf("failed to read %s: %w", what, err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame. A zero length is a keep-alive.
func ReadMessage(r io.Reader) (Message, error) {
	var prefix [4]byte
	if err := readSegment(r, prefix[:], "message length"); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(prefix[:])

	if length == 0 {
		return Message{Type: MsgKeepAlive}, nil
	}
	if length > MaxFrameLength {
		return Message{}, fmt.Errorf("%w: length %d exceeds %d", ErrFrame, length, MaxFrameLength)
	}

	body := make([]byte, length)
	if err := readSegment(r, body, "message body"); err != nil {
		return Message{}, err
	}

	msg := Message{Type: MessageType(body[0])}
	if !msg.Type.valid() || msg.Type == MsgKeepAlive {
		return Message{}, fmt.Errorf("%w: id %d", ErrUnknownMessageType, body[0])
	}
	if len(body) > 1 {
		msg.Payload = body[1:]
	}
	return msg, nil
}

// Serialize encodes m as a frame.
func (m Message) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	if m.Type == MsgKeepAlive {
		if len(m.Payload) > 0 {
			return nil, fmt.Errorf("%w: keep-alive carries no payload", ErrFrame)
		}
		return make([]byte, 4), nil
	}
	if !m.Type.valid() {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownMessageType, uint8(m.Type))
	}
	if len(m.Payload)+1 > MaxFrameLength {
		return nil, fmt.Errorf("%w: payload of %d bytes is too large", ErrFrame, len(m.Payload))
	}

	length := uint32(1 + len(m.Payload))
	if err := binary.Write(&buf, binary.BigEndian, length); err != nil {
		return nil, fmt.Errorf("failed to write message length: %w", err)
	}
	buf.WriteByte(byte(m.Type))
	buf.Write(m.Payload)

	return buf.Bytes(), nil
}

// WriteMessage writes m as a single frame.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := m.Serialize()
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to send %s message: %w", m.Type, err)
	}
	return nil
}

// Wire frames messages over a connection, applying an optional deadline to
// every read and write.
type Wire struct {
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewWire(conn net.Conn, readTimeout, writeTimeout time.Duration) *Wire {
	return &Wire{conn: conn, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (w *Wire) ReadMessage() (Message, error) {
	if w.readTimeout > 0 {
		if err := w.conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
			return Message{}, err
		}
	}
	return ReadMessage(w.conn)
}

func (w *Wire) WriteMessage(m Message) error {
	if w.writeTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return err
		}
	}
	return WriteMessage(w.conn, m)
}

func (w *Wire) RemoteAddr() net.Addr { return w.conn.RemoteAddr() }

func (w *Wire) Close() error { return w.conn.Close() }
