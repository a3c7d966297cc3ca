package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanbeam/lanbeam/audio"
	"github.com/lanbeam/lanbeam/transport"
)

const testCode = "314159265"

// stubSource produces deterministic, never-silent PCM frames. A negative
// frame budget means unlimited.
type stubSource struct {
	frames   int
	interval time.Duration

	mu     sync.Mutex
	next   int
	closed bool
}

func fillPattern(buf []byte, n int) {
	for i := range buf {
		buf[i] = byte((n*131+i)%251) + 1
	}
}

func (s *stubSource) Pull(buf []byte) error {
	if s.interval > 0 {
		time.Sleep(s.interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("source closed")
	}
	if s.frames >= 0 && s.next >= s.frames {
		return io.EOF
	}
	fillPattern(buf, s.next)
	s.next++
	return nil
}

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// collectSink records every pushed block.
type collectSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *collectSink) Push(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink closed")
	}
	s.frames = append(s.frames, append([]byte(nil), pcm...))
	return nil
}

func (s *collectSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// nonSilent filters out the silence the playback pump substitutes during
// underruns, leaving only real stream frames.
func (s *collectSink) nonSilent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	silence := make([]byte, audio.FrameBytes)
	var out [][]byte
	for _, f := range s.frames {
		if !bytes.Equal(f, silence) {
			out = append(out, f)
		}
	}
	return out
}

type statusRecorder struct {
	mu     sync.Mutex
	events []Status
}

func (r *statusRecorder) cb(status Status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, status)
}

func (r *statusRecorder) has(status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.events {
		if s == status {
			return true
		}
	}
	return false
}

// handshakenLinks establishes a loopback TCP connection and completes the
// hello exchange on both ends.
func handshakenLinks(t *testing.T) (sender, receiver *transport.Link) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	acceptor := transport.NewAcceptor(ln)
	defer acceptor.Close()

	var (
		srvLink *transport.Link
		srvErr  error
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		srvLink, srvErr = acceptor.Accept()
		if srvErr == nil {
			srvErr = ServerHandshake(srvLink, func(code string) bool { return code == testCode })
		}
	}()

	cliLink, err := transport.Dial(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ClientHandshake(cliLink, testCode))

	wg.Wait()
	require.NoError(t, srvErr)

	t.Cleanup(func() {
		cliLink.Close()
		srvLink.Close()
	})
	return cliLink, srvLink
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("%s session did not finish", s.Role())
	}
}

func TestRoundTripPreservesOrderAndContent(t *testing.T) {
	const total = 20
	senderLink, receiverLink := handshakenLinks(t)

	source := &stubSource{frames: total}
	sink := &collectSink{}
	var senderStatus, receiverStatus statusRecorder

	sender, err := NewSender(senderLink, source, Config{OnStatus: senderStatus.cb})
	require.NoError(t, err)
	receiver := NewReceiver(receiverLink, sink, Config{OnStatus: receiverStatus.cb})

	receiver.Start()
	sender.Start()

	waitDone(t, sender)
	waitDone(t, receiver)
	require.NoError(t, sender.Wait())
	require.NoError(t, receiver.Wait())

	got := sink.nonSilent()
	require.Len(t, got, total, "every frame must reach the sink exactly once")
	want := make([]byte, audio.FrameBytes)
	for i, f := range got {
		fillPattern(want, i)
		require.True(t, bytes.Equal(want, f), "frame %d corrupted or out of order", i)
	}

	assert.Equal(t, uint64(total), sender.Stats().FramesSent)
	assert.Equal(t, uint64(total), receiver.Stats().FramesReceived)
	assert.Equal(t, uint64(total), receiver.Stats().FramesPlayed)

	assert.True(t, senderStatus.has(StatusConnected))
	assert.True(t, senderStatus.has(StatusDisconnected))
	assert.True(t, receiverStatus.has(StatusConnected))
	assert.True(t, receiverStatus.has(StatusDisconnected))
	assert.Equal(t, StatusDisconnected, sender.Status())
	assert.Equal(t, StatusDisconnected, receiver.Status())
}

func TestStopDisconnectsBothSides(t *testing.T) {
	senderLink, receiverLink := handshakenLinks(t)

	source := &stubSource{frames: -1, interval: 2 * time.Millisecond}
	sink := &collectSink{}

	sender, err := NewSender(senderLink, source, Config{})
	require.NoError(t, err)
	receiver := NewReceiver(receiverLink, sink, Config{})

	receiver.Start()
	sender.Start()

	// Let some frames flow first.
	require.Eventually(t, func() bool {
		return receiver.Stats().FramesReceived > 5
	}, 5*time.Second, 5*time.Millisecond)

	sender.Stop()
	waitDone(t, receiver)

	assert.Equal(t, StatusDisconnected, sender.Status())
	assert.Equal(t, StatusDisconnected, receiver.Status())
	require.NoError(t, receiver.Wait())

	// Nothing past the last buffered frame is played.
	assert.LessOrEqual(t, receiver.Stats().FramesPlayed, receiver.Stats().FramesReceived)
}

func TestAbnormalDropSurfacesError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	acceptor := transport.NewAcceptor(ln)
	defer acceptor.Close()

	var (
		recvLink *transport.Link
		srvErr   error
		wg       sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		recvLink, srvErr = acceptor.Accept()
		if srvErr == nil {
			srvErr = ServerHandshake(recvLink, func(string) bool { return true })
		}
	}()

	// A raw fake sender: handshake manually, then cut the connection in
	// the middle of a frame, which is not an orderly goodbye.
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	writeRaw := func(payload []byte) {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
		_, err := conn.Write(append(prefix[:], payload...))
		require.NoError(t, err)
	}
	writeRaw((&transport.Message{Type: transport.MsgHello, Data: []byte(testCode)}).Marshal())

	// Consume the ack.
	var header [4]byte
	_, err = io.ReadFull(conn, header[:])
	require.NoError(t, err)
	ack := make([]byte, binary.BigEndian.Uint32(header[:]))
	_, err = io.ReadFull(conn, ack)
	require.NoError(t, err)

	wg.Wait()
	require.NoError(t, srvErr)

	sink := &collectSink{}
	var rec statusRecorder
	receiver := NewReceiver(recvLink, sink, Config{OnStatus: rec.cb})
	receiver.Start()

	// Promise a 100-byte message, deliver 10 bytes, vanish.
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 100)
	_, err = conn.Write(prefix[:])
	require.NoError(t, err)
	_, err = conn.Write(make([]byte, 10))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	waitDone(t, receiver)
	assert.Error(t, receiver.Wait())
	assert.Equal(t, StatusError, receiver.Status())
	assert.True(t, rec.has(StatusError))
}

func TestHandshakeRejectsWrongCode(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	acceptor := transport.NewAcceptor(ln)
	defer acceptor.Close()

	var (
		srvErr error
		wg     sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		link, err := acceptor.Accept()
		if err != nil {
			srvErr = err
			return
		}
		srvErr = ServerHandshake(link, func(code string) bool { return code == testCode })
		link.Close()
	}()

	cliLink, err := transport.Dial(ln.Addr().String())
	require.NoError(t, err)
	defer cliLink.Close()

	err = ClientHandshake(cliLink, "000000000")
	assert.ErrorIs(t, err, ErrCodeRejected)

	wg.Wait()
	assert.ErrorIs(t, srvErr, ErrCodeRejected)
}
