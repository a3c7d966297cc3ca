// Package audio defines the fixed PCM format carried through the pipeline,
// the sequenced frame type, and the capture/playback boundary contracts.
//
// Audio settings are fixed internally and never negotiated: 44.1 kHz, one
// channel, signed 16-bit little-endian samples, 1024 samples per frame.
// Platform capture and playback backends adapt to these contracts in the
// audio/device package; the core pipeline only ever sees fixed-size frames.
package audio

import "time"

// Fixed internal audio format.
const (
	// SampleRate is the fixed sample rate in Hz.
	SampleRate = 44100

	// Channels is the fixed channel count on the wire.
	Channels = 1

	// BytesPerSample is the sample width (signed 16-bit little-endian).
	BytesPerSample = 2

	// FrameSamples is the number of samples per channel in one frame.
	FrameSamples = 1024

	// FrameBytes is the payload size of one frame in bytes.
	FrameBytes = FrameSamples * Channels * BytesPerSample
)

// FrameDuration is the playout duration of a single frame.
const FrameDuration = time.Duration(FrameSamples) * time.Second / SampleRate

// Frame is a sequenced, timestamped block of fixed-format PCM samples.
//
// A frame is immutable once created and owned exclusively by whichever
// pipeline stage currently holds it; handing it to a queue or a sink moves
// ownership, it is never shared between stages.
type Frame struct {
	// Seq is the session-scoped sequence number, strictly increasing and
	// never reused within one session.
	Seq uint64

	// Timestamp is the sample-clock timestamp of the first sample in the
	// frame (SampleRate units).
	Timestamp uint32

	// PCM is the raw payload: FrameBytes of interleaved signed 16-bit
	// little-endian samples.
	PCM []byte
}

// Source is the capture boundary. Pull blocks until it can fill buf
// (len(buf) == FrameBytes) with the next block of fixed-format PCM, and
// returns io.EOF when the stream has ended. Close releases the device and
// unblocks any pending Pull; it must be safe to call more than once.
type Source interface {
	Pull(buf []byte) error
	Close() error
}

// Sink is the playback boundary. Push blocks until the device has accepted
// the PCM block, providing the natural pacing for the playback pump. Close
// releases the device and unblocks any pending Push; it must be safe to
// call more than once.
type Sink interface {
	Push(pcm []byte) error
	Close() error
}

// Silence returns a zeroed PCM block of one frame. Used by the playback
// pump to paper over transient jitter-buffer underruns.
func Silence() []byte {
	return make([]byte, FrameBytes)
}
