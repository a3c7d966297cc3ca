package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DialTimeout bounds connection establishment to a resolved endpoint.
	DialTimeout = 5 * time.Second

	// WriteTimeout bounds a single message write. A peer that cannot
	// drain frames within this window is treated as broken rather than
	// allowed to stall the pipeline.
	WriteTimeout = 5 * time.Second
)

// ErrClosed is returned by Recv when the peer shut the link down in an
// orderly way (goodbye message or clean TCP close). Any other receive
// failure is abnormal termination and surfaces as a distinct error, so
// callers can report the two differently.
var ErrClosed = errors.New("link closed by peer")

// Link is one framed, bidirectional stream connection. Exactly one link
// exists per stream session and it is never shared between sessions.
type Link struct {
	conn      net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to an endpoint address ("host:port") with a bounded
// timeout and disables Nagle's algorithm; frames are small and latency
// matters more than throughput here.
func Dial(addr string) (*Link, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"remote":   addr,
	}).Info("Stream link connected")
	return newLink(conn), nil
}

func newLink(conn net.Conn) *Link {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Link{conn: conn}
}

// Send writes one message with a length prefix under a write deadline.
// A timed-out or failed write leaves the link unusable.
func (l *Link) Send(msg *Message) error {
	data := msg.Marshal()
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return err
	}
	if _, err := l.conn.Write(buf); err != nil {
		return fmt.Errorf("link write: %w", err)
	}
	return nil
}

// Recv reads the next message, blocking until one arrives or the link
// goes away. It returns ErrClosed on orderly shutdown (peer goodbye, clean
// TCP close, or our own Close) and the underlying error on abnormal
// termination.
func (l *Link) Recv() (*Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(l.conn, header[:]); err != nil {
		return nil, l.recvError(err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrMessageTooShort
	}
	if length > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(l.conn, data); err != nil {
		return nil, l.recvError(err)
	}

	msg, err := ParseMessage(data)
	if err != nil {
		return nil, err
	}
	if msg.Type == MsgGoodbye {
		return nil, ErrClosed
	}
	return msg, nil
}

// recvError maps read failures onto the orderly/abnormal split.
func (l *Link) recvError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	// ReadFull reports a connection cut mid-message as ErrUnexpectedEOF;
	// a half-delivered frame is not an orderly shutdown.
	return fmt.Errorf("link read: %w", err)
}

// SetReadDeadline bounds the next Recv. Used during the handshake; pass
// the zero time to clear it again.
func (l *Link) SetReadDeadline(t time.Time) error {
	return l.conn.SetReadDeadline(t)
}

// Close sends a best-effort goodbye so the peer observes an orderly
// shutdown, then closes the connection. Safe to call more than once; any
// pending Recv or Send is unblocked.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		goodbye := (&Message{Type: MsgGoodbye}).Marshal()
		buf := make([]byte, 4+len(goodbye))
		binary.BigEndian.PutUint32(buf, uint32(len(goodbye)))
		copy(buf[4:], goodbye)

		l.writeMu.Lock()
		_ = l.conn.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
		_, _ = l.conn.Write(buf)
		l.writeMu.Unlock()

		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

// RemoteAddr returns the peer's network address.
func (l *Link) RemoteAddr() net.Addr { return l.conn.RemoteAddr() }

// LocalAddr returns the local end of the link.
func (l *Link) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Acceptor wraps a listening socket and hands out framed links.
type Acceptor struct {
	ln   net.Listener
	port int
}

// NewAcceptor wraps an already-bound listener, typically one returned by
// AllocatePort.
func NewAcceptor(ln net.Listener) *Acceptor {
	port := 0
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	return &Acceptor{ln: ln, port: port}
}

// Accept blocks until the next inbound connection and returns it as a
// link. It fails with net.ErrClosed after Close.
func (a *Acceptor) Accept() (*Link, error) {
	conn, err := a.ln.Accept()
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"function": "Acceptor.Accept",
		"remote":   conn.RemoteAddr().String(),
	}).Info("Inbound stream link accepted")
	return newLink(conn), nil
}

// Port returns the bound listening port.
func (a *Acceptor) Port() int { return a.port }

// Close stops accepting and unblocks a pending Accept.
func (a *Acceptor) Close() error { return a.ln.Close() }
