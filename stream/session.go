package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lanbeam/lanbeam/audio"
	"github.com/lanbeam/lanbeam/transport"
)

// DefaultSendQueueDepth bounds the capture→send queue, in frames. When
// the queue is full the newest capture frame is dropped; capture is never
// blocked and the queue never grows without bound.
const DefaultSendQueueDepth = 32

// Config carries per-session tuning. Zero values select the defaults.
type Config struct {
	SendQueueDepth int
	JitterTarget   int
	JitterMax      int

	// OnStatus, if set, receives status transitions for this session.
	OnStatus StatusFunc
}

func (c Config) withDefaults() Config {
	if c.SendQueueDepth <= 0 {
		c.SendQueueDepth = DefaultSendQueueDepth
	}
	return c
}

// Session owns one active sender↔receiver connection: exactly one link,
// the pump goroutines for its direction, and (on the receiver) the jitter
// buffer. It is created around an established, handshaken link and is done
// once the link goes away or Stop is called; a dropped link is never
// silently retried.
type Session struct {
	id   string
	role Role
	link *transport.Link
	cfg  Config
	log  *logrus.Entry

	// Sender side.
	source  audio.Source
	encoder *transport.FrameEncoder

	// Receiver side.
	sink     audio.Sink
	decoder  *transport.FrameDecoder
	jitter   *JitterBuffer
	recvDone chan struct{}

	stats counters

	mu       sync.Mutex
	status   Status
	final    *finalState
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	finalErr error
}

type finalState struct {
	status Status
	reason string
}

// NewSender creates a session that pulls frames from source and streams
// them over link. The caller has already completed the handshake.
func NewSender(link *transport.Link, source audio.Source, cfg Config) (*Session, error) {
	encoder, err := transport.NewFrameEncoder()
	if err != nil {
		return nil, err
	}
	s := newSession(RoleSender, link, cfg)
	s.source = source
	s.encoder = encoder
	return s, nil
}

// NewReceiver creates a session that buffers frames arriving on link and
// plays them to sink.
func NewReceiver(link *transport.Link, sink audio.Sink, cfg Config) *Session {
	s := newSession(RoleReceiver, link, cfg)
	s.sink = sink
	s.decoder = transport.NewFrameDecoder()
	s.jitter = NewJitterBuffer(s.cfg.JitterTarget, s.cfg.JitterMax)
	s.recvDone = make(chan struct{})
	return s
}

func newSession(role Role, link *transport.Link, cfg Config) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		role:   role,
		link:   link,
		cfg:    cfg.withDefaults(),
		status: StatusConnected,
		done:   make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"session": id[:8],
			"role":    role.String(),
		}),
	}
}

// ID returns the session's identifier (for log correlation).
func (s *Session) ID() string { return s.id }

// Role returns which end of the connection this session is.
func (s *Session) Role() Role { return s.role }

// Start launches the pump goroutines. The session is Connected from this
// point until the link drops or Stop is called.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.log.WithField("function", "Session.Start").Info("Stream session started")
	s.emit(StatusConnected, "")

	go s.run(ctx)
}

// Stop requests a cooperative shutdown: the link is closed, which
// unblocks any pending send/receive, device handles are released, and the
// session ends Disconnected. Stop blocks until the pumps have exited.
func (s *Session) Stop() {
	s.finish(StatusDisconnected, "stopped")
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if !started {
		s.teardown()
		return
	}
	cancel()
	<-s.done
}

// Wait blocks until the session has ended and returns the abnormal error
// if there was one.
func (s *Session) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

// Done returns a channel closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns the current session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stats returns a snapshot of pipeline counters.
func (s *Session) Stats() Stats {
	st := s.stats.snapshot()
	if s.jitter != nil {
		st.LateDrops, st.OverflowDrops, st.Underruns = s.jitter.Counters()
	}
	return st
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	g, gctx := errgroup.WithContext(ctx)

	// Closing the link and devices is what unblocks pumps stuck in
	// blocking I/O, so it happens the moment the group context falls.
	go func() {
		<-gctx.Done()
		s.teardown()
	}()

	switch s.role {
	case RoleSender:
		sendCh := make(chan []byte, s.cfg.SendQueueDepth)
		g.Go(func() error { return s.captureLoop(gctx, sendCh) })
		g.Go(func() error { return s.sendLoop(gctx, sendCh) })
		g.Go(func() error { return s.watchLoop() })
	case RoleReceiver:
		g.Go(func() error { return s.recvLoop() })
		g.Go(func() error { return s.playLoop(gctx) })
	}

	err := g.Wait()
	s.teardown()

	status, reason := s.concludeWith(err)
	s.log.WithFields(logrus.Fields{
		"function": "Session.run",
		"status":   status.String(),
		"reason":   reason,
	}).Info("Stream session ended")
	s.emit(status, reason)
}

// captureLoop pulls PCM from the source and queues it for sending. It
// never blocks on a full queue: the newest frame is dropped instead, so
// the device callback cadence is never stalled by the network.
func (s *Session) captureLoop(ctx context.Context, sendCh chan<- []byte) error {
	defer close(sendCh)

	for {
		buf := make([]byte, audio.FrameBytes)
		if err := s.source.Pull(buf); err != nil {
			if errors.Is(err, io.EOF) {
				s.finish(StatusDisconnected, "capture ended")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			s.finish(StatusError, "audio source failed")
			return fmt.Errorf("audio source: %w", err)
		}

		select {
		case sendCh <- buf:
		default:
			s.stats.queueDrops.Add(1)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// sendLoop frames queued PCM and writes it to the link. After the capture
// side closes the queue it drains what is left, then closes the link so
// the peer observes an orderly shutdown.
func (s *Session) sendLoop(ctx context.Context, sendCh <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pcm, ok := <-sendCh:
			if !ok {
				_ = s.link.Close()
				return nil
			}
			msg, err := s.encoder.Encode(pcm)
			if err != nil {
				return err
			}
			if err := s.link.Send(msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.finish(StatusError, "link write failed")
				return fmt.Errorf("send frame: %w", err)
			}
			s.stats.framesSent.Add(1)
			s.stats.lastSeqSent.Store(s.encoder.Sent() - 1)
		}
	}
}

// watchLoop keeps a read pending on the sender's link so a peer shutdown
// or link failure is noticed within one read, not on the next write.
func (s *Session) watchLoop() error {
	for {
		_, err := s.link.Recv()
		if err == nil {
			continue
		}
		if errors.Is(err, transport.ErrClosed) {
			s.finish(StatusDisconnected, "peer closed the link")
		} else {
			s.finish(StatusError, "link failed")
		}
		return err
	}
}

// recvLoop takes frames off the link and into the jitter buffer. An
// orderly peer shutdown lets the playback side drain what is buffered; an
// abnormal link error tears the session down immediately.
func (s *Session) recvLoop() error {
	defer close(s.recvDone)

	for {
		msg, err := s.link.Recv()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				s.finish(StatusDisconnected, "peer closed the link")
				return nil
			}
			s.finish(StatusError, "link failed")
			return err
		}
		if msg.Type != transport.MsgAudioFrame {
			continue
		}

		frame, err := s.decoder.Decode(msg.Data)
		if err != nil {
			s.stats.malformed.Add(1)
			s.log.WithFields(logrus.Fields{
				"function": "Session.recvLoop",
				"error":    err.Error(),
			}).Warn("Dropping malformed audio frame")
			continue
		}

		s.stats.framesReceived.Add(1)
		s.stats.lastSeqRecv.Store(frame.Seq)
		s.jitter.Push(frame)
	}
}

// playLoop pulls frames from the jitter buffer and pushes them to the
// sink; the sink's blocking push provides the playback pacing. Underruns
// are transient: a frame of silence is substituted and playback catches
// up when the buffer refills.
func (s *Session) playLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := s.jitter.Pull()
		if errors.Is(err, ErrUnderrun) {
			select {
			case <-s.recvDone:
				if s.jitter.Depth() == 0 {
					return nil
				}
				// The stream has ended; release whatever is buffered.
				s.jitter.Prime()
				continue
			default:
			}

			if s.stats.framesPlayed.Load() > 0 {
				if err := s.sink.Push(audio.Silence()); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					s.finish(StatusError, "audio sink failed")
					return fmt.Errorf("audio sink: %w", err)
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(audio.FrameDuration):
			}
			continue
		}

		if err := s.sink.Push(frame.PCM); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.finish(StatusError, "audio sink failed")
			return fmt.Errorf("audio sink: %w", err)
		}
		s.stats.framesPlayed.Add(1)
	}
}

// finish records the first terminal outcome; later calls lose. The final
// status is emitted once, when the pumps have exited.
func (s *Session) finish(status Status, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		s.final = &finalState{status: status, reason: reason}
	}
}

// concludeWith resolves the final status from the recorded outcome or,
// failing that, from the group error.
func (s *Session) concludeWith(err error) (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.final == nil {
		switch {
		case err == nil, errors.Is(err, context.Canceled),
			errors.Is(err, transport.ErrClosed):
			s.final = &finalState{status: StatusDisconnected}
		default:
			s.final = &finalState{status: StatusError, reason: err.Error()}
		}
	}
	if s.final.status == StatusError && err != nil {
		s.finalErr = err
	}
	s.status = s.final.status
	return s.final.status, s.final.reason
}

// teardown releases the link and device handles. Safe to call repeatedly;
// every handle's Close is idempotent.
func (s *Session) teardown() {
	_ = s.link.Close()
	if s.source != nil {
		_ = s.source.Close()
	}
	if s.sink != nil {
		_ = s.sink.Close()
	}
}

func (s *Session) emit(status Status, reason string) {
	s.mu.Lock()
	s.status = status
	cb := s.cfg.OnStatus
	s.mu.Unlock()
	if cb != nil {
		cb(status, reason)
	}
}
