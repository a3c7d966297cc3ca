package lanbeam

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanbeam/lanbeam/audio"
	"github.com/lanbeam/lanbeam/discovery"
	"github.com/lanbeam/lanbeam/pairing"
	"github.com/lanbeam/lanbeam/stream"
)

// pumpSource produces non-silent PCM frames at a steady cadence until
// closed.
type pumpSource struct {
	mu     sync.Mutex
	closed bool
	tick   byte
}

func (s *pumpSource) Pull(buf []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return io.EOF
	}
	s.tick++
	fill := s.tick | 0x01
	s.mu.Unlock()

	for i := range buf {
		buf[i] = fill
	}
	time.Sleep(2 * time.Millisecond)
	return nil
}

func (s *pumpSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// collectSink counts the non-silent frames pushed into it. Underrun
// silence is not the signal these tests are after.
type collectSink struct {
	mu     sync.Mutex
	frames int
}

func (s *collectSink) Push(pcm []byte) error {
	for _, b := range pcm {
		if b != 0 {
			s.mu.Lock()
			s.frames++
			s.mu.Unlock()
			break
		}
	}
	return nil
}

func (s *collectSink) Close() error { return nil }

func (s *collectSink) nonSilent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// newTestPair builds a receiver node and a sender node wired over
// loopback: discovery answers on an ephemeral unicast socket instead of
// the multicast group, and audio endpoints are in-memory stubs.
func newTestPair(t *testing.T, senderTimeout time.Duration) (*Node, *Node, *collectSink) {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	sink := &collectSink{}
	receiver := NewNode(Options{
		BindHost:        "127.0.0.1",
		ListenDiscovery: func() (net.PacketConn, error) { return conn, nil },
		OpenSink:        func(string) (audio.Sink, error) { return sink, nil },
	})

	sender := NewNode(Options{
		DiscoveryTimeout: senderTimeout,
		DiscoveryTargets: []string{conn.LocalAddr().String()},
		OpenSource:       func(string) (audio.Source, error) { return &pumpSource{}, nil },
	})

	t.Cleanup(func() {
		sender.Stop()
		receiver.Stop()
	})
	return receiver, sender, sink
}

func TestPairAndStream(t *testing.T) {
	receiver, sender, sink := newTestPair(t, 2*time.Second)

	code, err := receiver.StartReceiving()
	require.NoError(t, err)
	require.NoError(t, pairing.ValidateCode(code))
	assert.Equal(t, code, receiver.Code())
	assert.Equal(t, stream.StatusListening, receiver.Status(stream.RoleReceiver))

	require.NoError(t, sender.StartSending(code, ""))
	assert.Equal(t, stream.StatusConnected, sender.Status(stream.RoleSender))

	require.Eventually(t, func() bool {
		return receiver.Status(stream.RoleReceiver) == stream.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return sink.nonSilent() >= 5
	}, 5*time.Second, 10*time.Millisecond)

	stats, ok := sender.SessionStats(stream.RoleSender)
	require.True(t, ok)
	assert.GreaterOrEqual(t, stats.FramesSent, uint64(5))

	sender.StopSending()
	assert.Equal(t, stream.StatusDisconnected, sender.Status(stream.RoleSender))

	// The code outlives the session: the receiver goes back to
	// listening and the same digits pair a new sender connection.
	require.Eventually(t, func() bool {
		return receiver.Status(stream.RoleReceiver) == stream.StatusListening
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sender.StartSending(code, ""))
	require.Eventually(t, func() bool {
		return receiver.Status(stream.RoleReceiver) == stream.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopReceivingRevokesCode(t *testing.T) {
	receiver, sender, _ := newTestPair(t, 300*time.Millisecond)

	code, err := receiver.StartReceiving()
	require.NoError(t, err)

	receiver.StopReceiving()
	assert.Equal(t, stream.StatusIdle, receiver.Status(stream.RoleReceiver))
	assert.Empty(t, receiver.Code())

	err = sender.StartSending(code, "")
	assert.ErrorIs(t, err, discovery.ErrCodeNotFound)
	assert.Equal(t, stream.StatusError, sender.Status(stream.RoleSender))
}

func TestStartSendingRejectsMalformedCodeWithoutNetwork(t *testing.T) {
	sender := NewNode(Options{
		DiscoveryTimeout: 50 * time.Millisecond,
		DiscoveryTargets: []string{"127.0.0.1:1"},
		OpenSource:       func(string) (audio.Source, error) { return &pumpSource{}, nil },
	})

	start := time.Now()
	err := sender.StartSending("123-456-789", "")
	assert.ErrorIs(t, err, pairing.ErrInvalidCode)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, stream.StatusIdle, sender.Status(stream.RoleSender))
}

func TestStartReceivingTwice(t *testing.T) {
	receiver, _, _ := newTestPair(t, time.Second)

	_, err := receiver.StartReceiving()
	require.NoError(t, err)

	_, err = receiver.StartReceiving()
	assert.ErrorIs(t, err, ErrAlreadyReceiving)
}

func TestUnknownCodeFailsWithinTimeout(t *testing.T) {
	receiver, sender, _ := newTestPair(t, 300*time.Millisecond)

	_, err := receiver.StartReceiving()
	require.NoError(t, err)

	start := time.Now()
	err = sender.StartSending("000000001", "")
	assert.ErrorIs(t, err, discovery.ErrCodeNotFound)
	assert.Less(t, time.Since(start), 2*time.Second)
}
