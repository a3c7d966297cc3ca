package discovery

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lanbeam/lanbeam/pairing"
	"github.com/lanbeam/lanbeam/transport"
)

// DefaultTimeout bounds a single Locate call.
const DefaultTimeout = 3 * time.Second

// resendInterval is how often the lookup datagram is retransmitted while
// waiting for a reply; individual datagrams can get lost on a busy LAN.
const resendInterval = 500 * time.Millisecond

// Locator resolves pairing codes by querying the LAN.
type Locator struct {
	timeout time.Duration
	targets []string
}

// NewLocator creates a locator. Without explicit targets, lookups go to
// the multicast group on the fixed discovery port; tests inject unicast
// targets instead.
func NewLocator(timeout time.Duration, targets ...string) *Locator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if len(targets) == 0 {
		targets = []string{fmt.Sprintf("%s:%d", DefaultGroup, Port)}
	}
	return &Locator{timeout: timeout, targets: targets}
}

// Locate resolves code to an endpoint. Malformed codes fail immediately
// with pairing.ErrInvalidCode before any network I/O; a code nobody
// answers for fails with ErrCodeNotFound once the timeout elapses.
func (l *Locator) Locate(code string) (pairing.Endpoint, error) {
	if err := pairing.ValidateCode(code); err != nil {
		return pairing.Endpoint{}, err
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return pairing.Endpoint{}, fmt.Errorf("open lookup socket: %w", err)
	}
	defer conn.Close()

	targets, err := l.resolveTargets()
	if err != nil {
		return pairing.Endpoint{}, err
	}

	lookup := (&transport.Message{Type: transport.MsgCodeLookup, Data: []byte(code)}).Marshal()
	deadline := time.Now().Add(l.timeout)
	nextSend := time.Now()

	buf := make([]byte, 512)
	for time.Now().Before(deadline) {
		if !time.Now().Before(nextSend) {
			for _, target := range targets {
				if _, err := conn.WriteTo(lookup, target); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "Locator.Locate",
						"target":   target.String(),
						"error":    err.Error(),
					}).Debug("Lookup send failed")
				}
			}
			nextSend = time.Now().Add(resendInterval)
		}

		readUntil := nextSend
		if readUntil.After(deadline) {
			readUntil = deadline
		}
		_ = conn.SetReadDeadline(readUntil)

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return pairing.Endpoint{}, fmt.Errorf("lookup read: %w", err)
		}

		ep, ok := matchOffer(buf[:n], addr, code)
		if !ok {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function": "Locator.Locate",
			"endpoint": ep.String(),
		}).Info("Resolved pairing code")
		return ep, nil
	}

	return pairing.Endpoint{}, ErrCodeNotFound
}

// matchOffer checks a datagram against the code being located. The host
// comes from the reply's source address, the port from the payload.
func matchOffer(data []byte, addr net.Addr, code string) (pairing.Endpoint, bool) {
	msg, err := transport.ParseMessage(data)
	if err != nil || msg.Type != transport.MsgCodeOffer {
		return pairing.Endpoint{}, false
	}
	offered, port, err := parseOffer(msg.Data)
	if err != nil || offered != code {
		return pairing.Endpoint{}, false
	}
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return pairing.Endpoint{}, false
	}
	return pairing.Endpoint{Host: udp.IP.String(), Port: port}, true
}

func (l *Locator) resolveTargets() ([]net.Addr, error) {
	targets := make([]net.Addr, 0, len(l.targets))
	for _, t := range l.targets {
		addr, err := net.ResolveUDPAddr("udp4", t)
		if err != nil {
			return nil, fmt.Errorf("resolve discovery target %s: %w", t, err)
		}
		targets = append(targets, addr)
	}
	return targets, nil
}
