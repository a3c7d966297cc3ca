package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"
)

// ToneSource is a Source that synthesizes a sine wave in real time, for
// demos and tests that need audio without a capture device. Pull paces
// itself to the sample clock the way a hardware source would.
type ToneSource struct {
	freq  float64
	phase float64
	next  time.Time

	mu     sync.Mutex
	closed bool
}

// NewToneSource creates a tone generator at freq Hz.
func NewToneSource(freq float64) *ToneSource {
	return &ToneSource{freq: freq}
}

// Pull fills buf with the next stretch of the tone. It returns io.EOF
// once the source is closed.
func (t *ToneSource) Pull(buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return io.EOF
	}

	samples := len(buf) / BytesPerSample
	step := 2 * math.Pi * t.freq / SampleRate
	for i := 0; i < samples; i++ {
		sample := int16(math.Sin(t.phase) * 0.3 * math.MaxInt16)
		binary.LittleEndian.PutUint16(buf[i*BytesPerSample:], uint16(sample))
		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}

	if t.next.IsZero() {
		t.next = time.Now()
	}
	t.next = t.next.Add(time.Duration(samples) * time.Second / SampleRate)
	time.Sleep(time.Until(t.next))
	return nil
}

// Close stops the tone; later Pulls return io.EOF.
func (t *ToneSource) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
