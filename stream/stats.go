package stream

import "sync/atomic"

// counters tracks pipeline activity. Updated from the pump goroutines, so
// everything is atomic.
type counters struct {
	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	framesPlayed   atomic.Uint64
	queueDrops     atomic.Uint64
	malformed      atomic.Uint64
	lastSeqSent    atomic.Uint64
	lastSeqRecv    atomic.Uint64
}

// Stats is a point-in-time snapshot of session activity.
type Stats struct {
	// FramesSent counts frames written to the link.
	FramesSent uint64
	// FramesReceived counts frames accepted off the link.
	FramesReceived uint64
	// FramesPlayed counts frames pushed to the sink.
	FramesPlayed uint64
	// QueueDrops counts capture frames discarded because the send queue
	// was full (capture is never blocked).
	QueueDrops uint64
	// Malformed counts received audio messages that failed to decode.
	Malformed uint64
	// LastSeqSent and LastSeqReceived are sequence high-water marks.
	LastSeqSent     uint64
	LastSeqReceived uint64
	// Jitter buffer totals (receiver side only).
	LateDrops     uint64
	OverflowDrops uint64
	Underruns     uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		FramesSent:      c.framesSent.Load(),
		FramesReceived:  c.framesReceived.Load(),
		FramesPlayed:    c.framesPlayed.Load(),
		QueueDrops:      c.queueDrops.Load(),
		Malformed:       c.malformed.Load(),
		LastSeqSent:     c.lastSeqSent.Load(),
		LastSeqReceived: c.lastSeqRecv.Load(),
	}
}
