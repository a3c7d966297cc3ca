package stream

import (
	"errors"
	"sort"
	"sync"

	"github.com/lanbeam/lanbeam/audio"
)

// Jitter buffer defaults, in frames (~23ms each).
const (
	// DefaultJitterTarget is the depth accumulated before the first frame
	// is released, trading ~4 frames of added latency for reorder room.
	DefaultJitterTarget = 4

	// DefaultJitterMax caps buffer depth; a sender outrunning playback
	// costs old frames, never unbounded memory.
	DefaultJitterMax = 32
)

// ErrUnderrun is returned by Pull when playback has caught up with an
// empty buffer. It is a transient condition, not a failure; the playback
// pump substitutes silence and keeps going.
var ErrUnderrun = errors.New("jitter buffer underrun")

// JitterBuffer absorbs network timing variance between frame arrival and
// steady-rate playback consumption. Frames are released in strictly
// increasing sequence order; out-of-order arrivals are reordered within
// the buffered window and frames older than the playback cursor are
// dropped rather than ever played out of order.
type JitterBuffer struct {
	mu     sync.Mutex
	frames []*audio.Frame // sorted by Seq ascending
	cursor uint64         // next sequence eligible for release
	primed bool
	target int
	max    int

	lateDrops     uint64
	overflowDrops uint64
	underruns     uint64
}

// NewJitterBuffer creates a buffer that primes at target frames and caps
// at maxDepth. Non-positive arguments select the defaults.
func NewJitterBuffer(target, maxDepth int) *JitterBuffer {
	if target <= 0 {
		target = DefaultJitterTarget
	}
	if maxDepth <= 0 {
		maxDepth = DefaultJitterMax
	}
	if maxDepth < target {
		maxDepth = target
	}
	return &JitterBuffer{target: target, max: maxDepth}
}

// Push inserts an arriving frame. Frames behind the playback cursor and
// duplicates are dropped silently; when the cap is exceeded the oldest
// buffered frame is dropped and the cursor advances past it.
func (b *JitterBuffer) Push(f *audio.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.primed && f.Seq < b.cursor {
		b.lateDrops++
		return
	}

	i := sort.Search(len(b.frames), func(i int) bool { return b.frames[i].Seq >= f.Seq })
	if i < len(b.frames) && b.frames[i].Seq == f.Seq {
		b.lateDrops++
		return
	}
	b.frames = append(b.frames, nil)
	copy(b.frames[i+1:], b.frames[i:])
	b.frames[i] = f

	if len(b.frames) > b.max {
		dropped := b.frames[0]
		b.frames = b.frames[1:]
		b.overflowDrops++
		if next := dropped.Seq + 1; next > b.cursor {
			b.cursor = next
		}
	}
}

// Pull releases the next frame for playback, or ErrUnderrun when none is
// ready. Before the buffer has primed to its target depth every Pull
// underruns; afterwards a gap in arrivals is skipped rather than waited
// on, so Pull never stalls for a frame that may never come.
func (b *JitterBuffer) Pull() (*audio.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.primed {
		if len(b.frames) < b.target {
			b.underruns++
			return nil, ErrUnderrun
		}
		b.primed = true
	}

	if len(b.frames) == 0 {
		b.underruns++
		return nil, ErrUnderrun
	}

	f := b.frames[0]
	b.frames = b.frames[1:]
	b.cursor = f.Seq + 1
	return f, nil
}

// Prime marks the buffer ready to release regardless of target depth.
// Used once the stream has ended so the remaining frames drain instead of
// waiting for a refill that will never come.
func (b *JitterBuffer) Prime() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primed = true
}

// Depth reports the number of buffered frames.
func (b *JitterBuffer) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Reset clears the buffer and returns it to the unprimed state.
func (b *JitterBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.cursor = 0
	b.primed = false
}

// Counters reports drop and underrun totals since creation.
func (b *JitterBuffer) Counters() (late, overflow, underruns uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lateDrops, b.overflowDrops, b.underruns
}
