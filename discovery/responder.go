package discovery

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lanbeam/lanbeam/pairing"
	"github.com/lanbeam/lanbeam/transport"
)

// Responder answers code lookups for the codes live in its registry. One
// responder runs for as long as the receiver is listening; stopping the
// receiver stops the responder and the code goes dark with it.
type Responder struct {
	registry *pairing.Registry
	conn     net.PacketConn
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewResponder starts answering lookups on conn against registry. The
// responder owns conn and closes it on Stop.
func NewResponder(registry *pairing.Registry, conn net.PacketConn) *Responder {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Responder{
		registry: registry,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go r.serve()
	return r
}

// Stop halts the responder and closes its socket.
func (r *Responder) Stop() {
	r.cancel()
	_ = r.conn.Close()
	<-r.done
}

func (r *Responder) serve() {
	defer close(r.done)

	logrus.WithFields(logrus.Fields{
		"function": "Responder.serve",
		"local":    r.conn.LocalAddr().String(),
	}).Info("Discovery responder listening")

	buf := make([]byte, 512)
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		_ = r.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}

		r.handleDatagram(buf[:n], addr)
	}
}

func (r *Responder) handleDatagram(data []byte, addr net.Addr) {
	msg, err := transport.ParseMessage(data)
	if err != nil || msg.Type != transport.MsgCodeLookup {
		return
	}

	code := string(msg.Data)
	ep, err := r.registry.Resolve(code)
	if err != nil {
		// Not ours (or malformed); stay silent so the requester times
		// out instead of learning which codes are almost right.
		return
	}

	reply := &transport.Message{
		Type: transport.MsgCodeOffer,
		Data: offerPayload(code, ep.Port),
	}
	if _, err := r.conn.WriteTo(reply.Marshal(), addr); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Responder.handleDatagram",
			"remote":   addr.String(),
			"error":    err.Error(),
		}).Warn("Failed to send code offer")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Responder.handleDatagram",
		"remote":   addr.String(),
		"port":     ep.Port,
	}).Info("Answered code lookup")
}
