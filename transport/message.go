// Package transport implements the raw link layer between a sender and a
// receiver: typed length-prefixed messages over TCP, RTP packetization of
// audio frames, connection setup with timeouts, and listening-port
// allocation with bounded fallback.
//
// Every message on a stream link is transmitted as a 4-byte big-endian
// length prefix followed by a 1-byte message type and the payload. Frame
// boundaries are therefore reconstructed exactly over the byte stream,
// never split or merged.
package transport

import (
	"errors"
	"fmt"
)

// MsgType identifies the type of a wire message.
type MsgType byte

const (
	// MsgHello is sent by the sender right after connecting; the payload
	// is the 9-digit pairing code being claimed.
	MsgHello MsgType = iota + 1

	// MsgHelloAck is the receiver's acceptance of a hello. Empty payload.
	MsgHelloAck

	// MsgAudioFrame carries one marshalled RTP packet whose payload is a
	// raw PCM frame.
	MsgAudioFrame

	// MsgGoodbye announces an orderly shutdown so the peer can report a
	// clean close instead of a link error.
	MsgGoodbye

	// MsgCodeLookup is a discovery datagram asking who holds a code.
	MsgCodeLookup

	// MsgCodeOffer is a discovery reply carrying the code and the
	// listening port of the receiver that holds it.
	MsgCodeOffer
)

// MaxMessageSize bounds a single wire message. Audio frames are ~2 KiB;
// anything larger is a framing error, not a legitimate peer.
const MaxMessageSize = 64 * 1024

var (
	// ErrMessageTooShort indicates a message without even a type byte.
	ErrMessageTooShort = errors.New("message too short")

	// ErrMessageTooLarge indicates a length prefix beyond MaxMessageSize.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// Message is a single typed wire message.
type Message struct {
	Type MsgType
	Data []byte
}

// Marshal converts a message to its byte representation: one type byte
// followed by the payload. The link layer adds the length prefix.
func (m *Message) Marshal() []byte {
	out := make([]byte, 1+len(m.Data))
	out[0] = byte(m.Type)
	copy(out[1:], m.Data)
	return out
}

// ParseMessage converts a byte slice back into a Message.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) < 1 {
		return nil, ErrMessageTooShort
	}
	m := &Message{
		Type: MsgType(data[0]),
		Data: make([]byte, len(data)-1),
	}
	copy(m.Data, data[1:])
	return m, nil
}

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgHelloAck:
		return "hello_ack"
	case MsgAudioFrame:
		return "audio_frame"
	case MsgGoodbye:
		return "goodbye"
	case MsgCodeLookup:
		return "code_lookup"
	case MsgCodeOffer:
		return "code_offer"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}
