package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/lanbeam/lanbeam/transport"
)

// HandshakeTimeout bounds the hello exchange after a TCP connect.
const HandshakeTimeout = 5 * time.Second

var (
	// ErrCodeRejected indicates the receiver did not accept the pairing
	// code presented in the hello.
	ErrCodeRejected = errors.New("pairing code rejected by receiver")

	// ErrUnexpectedMessage indicates a protocol violation during the
	// handshake.
	ErrUnexpectedMessage = errors.New("unexpected message during handshake")
)

// ClientHandshake claims the pairing code on a freshly dialed link. The
// discovery step only proved that some receiver answered for the code;
// the hello proves to the receiver that this sender holds the code it is
// actually serving, guarding against stale endpoints.
func ClientHandshake(link *transport.Link, code string) error {
	if err := link.Send(&transport.Message{Type: transport.MsgHello, Data: []byte(code)}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	_ = link.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	defer func() { _ = link.SetReadDeadline(time.Time{}) }()

	msg, err := link.Recv()
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrCodeRejected
		}
		return fmt.Errorf("await hello ack: %w", err)
	}
	if msg.Type != transport.MsgHelloAck {
		return ErrUnexpectedMessage
	}
	return nil
}

// ServerHandshake waits for the sender's hello and checks the presented
// code with accept. On rejection the link is closed without an ack so the
// sender sees the code refused.
func ServerHandshake(link *transport.Link, accept func(code string) bool) error {
	_ = link.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	defer func() { _ = link.SetReadDeadline(time.Time{}) }()

	msg, err := link.Recv()
	if err != nil {
		return fmt.Errorf("await hello: %w", err)
	}
	if msg.Type != transport.MsgHello {
		return ErrUnexpectedMessage
	}
	if !accept(string(msg.Data)) {
		return ErrCodeRejected
	}
	if err := link.Send(&transport.Message{Type: transport.MsgHelloAck}); err != nil {
		return fmt.Errorf("send hello ack: %w", err)
	}
	return nil
}
