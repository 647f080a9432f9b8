package peering

import (
	"encoding/binary"
	"fmt"
	"slices"
)

func NewHave(pieceIndex int) Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(pieceIndex))
	return Message{Type: MsgHave, Payload: payload}
}

func NewBitfield(bitfield []byte) Message {
	return Message{Type: MsgBitfield, Payload: slices.Clone(bitfield)}
}

func NewRequest(index, begin, length int) Message {
	return Message{Type: MsgRequest, Payload: encodeRequest(index, begin, length)}
}

func NewCancel(index, begin, length int) Message {
	return Message{Type: MsgCancel, Payload: encodeRequest(index, begin, length)}
}

// ParseHave returns the piece index announced by a have message.
func (m Message) ParseHave() (int, error) {
	if m.Type != MsgHave || len(m.Payload) != 4 {
		return 0, fmt.Errorf("%w: not a have message: %s", ErrFrame, m)
	}
	return int(binary.BigEndian.Uint32(m.Payload)), nil
}

// HasPiece reports whether a bitfield message marks pieceIndex as available.
// The high bit of the first byte is piece 0.
func (m Message) HasPiece(pieceIndex int) bool {
	if m.Type != MsgBitfield || pieceIndex < 0 {
		return false
	}
	byteIndex := pieceIndex / 8
	if byteIndex >= len(m.Payload) {
		return false
	}
	return m.Payload[byteIndex]>>(7-uint(pieceIndex%8))&1 != 0
}

func encodeRequest(index, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return payload
}
