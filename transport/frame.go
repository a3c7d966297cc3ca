package transport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"

	"github.com/lanbeam/lanbeam/audio"
)

// rtpPayloadType is the dynamic payload type used for the fixed internal
// PCM format (dynamic range per RFC 3551; the format is never negotiated).
const rtpPayloadType = 96

// FrameEncoder packetizes PCM frames as RTP for transmission. The RTP
// header supplies the sequence number and sample-clock timestamp the
// receiver needs to reconstruct ordering; the sequence number increments
// by one and the timestamp by the frame's sample count per frame.
type FrameEncoder struct {
	ssrc      uint32
	seq       uint16
	timestamp uint32
	sent      uint64
}

// NewFrameEncoder creates an encoder with a random SSRC identifying this
// sender's stream.
func NewFrameEncoder() (*FrameEncoder, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("generate SSRC: %w", err)
	}
	return &FrameEncoder{ssrc: binary.BigEndian.Uint32(b[:])}, nil
}

// Encode wraps one PCM frame in an RTP packet inside a MsgAudioFrame
// message and advances the sequence number and timestamp.
func (e *FrameEncoder) Encode(pcm []byte) (*Message, error) {
	if len(pcm) != audio.FrameBytes {
		return nil, fmt.Errorf("frame payload is %d bytes, want %d", len(pcm), audio.FrameBytes)
	}
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    rtpPayloadType,
			SequenceNumber: e.seq,
			Timestamp:      e.timestamp,
			SSRC:           e.ssrc,
		},
		Payload: pcm,
	}
	data, err := p.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal RTP packet: %w", err)
	}
	e.seq++
	e.timestamp += audio.FrameSamples
	e.sent++
	return &Message{Type: MsgAudioFrame, Data: data}, nil
}

// Sent reports how many frames the encoder has produced.
func (e *FrameEncoder) Sent() uint64 { return e.sent }

// FrameDecoder unpacks received MsgAudioFrame messages. It pins the stream
// to the first SSRC it sees and unwraps the 16-bit RTP sequence number
// into a 64-bit session sequence, so downstream ordering logic never sees
// a sequence number reused.
type FrameDecoder struct {
	ssrc    uint32
	hasSSRC bool
	highest uint64
	hasSeq  bool
}

// NewFrameDecoder creates a decoder for one incoming stream.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Decode parses an RTP-wrapped audio frame. It rejects payloads of the
// wrong size and packets from an unexpected SSRC.
func (d *FrameDecoder) Decode(data []byte) (*audio.Frame, error) {
	p := &rtp.Packet{}
	if err := p.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("unmarshal RTP packet: %w", err)
	}
	if !d.hasSSRC {
		d.ssrc = p.SSRC
		d.hasSSRC = true
	} else if p.SSRC != d.ssrc {
		return nil, fmt.Errorf("unexpected SSRC: expected %d, got %d", d.ssrc, p.SSRC)
	}
	if len(p.Payload) != audio.FrameBytes {
		return nil, fmt.Errorf("frame payload is %d bytes, want %d", len(p.Payload), audio.FrameBytes)
	}
	return &audio.Frame{
		Seq:       d.extendSeq(p.SequenceNumber),
		Timestamp: p.Timestamp,
		PCM:       p.Payload,
	}, nil
}

// extendSeq maps a wrapping 16-bit sequence number onto a monotonic 64-bit
// sequence, tolerating reordering around the wrap point.
func (d *FrameDecoder) extendSeq(seq uint16) uint64 {
	if !d.hasSeq {
		d.hasSeq = true
		d.highest = uint64(seq)
		return d.highest
	}
	ext := (d.highest &^ 0xFFFF) | uint64(seq)
	if ext > d.highest {
		// A jump of more than half the sequence space forward is really
		// a late packet from the previous cycle.
		if ext-d.highest > 0x8000 && ext >= 0x10000 {
			ext -= 0x10000
		}
	} else if d.highest-ext > 0x8000 {
		// Wrapped into the next cycle.
		ext += 0x10000
	}
	if ext > d.highest {
		d.highest = ext
	}
	return ext
}
