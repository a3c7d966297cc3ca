// Package discovery resolves a 9-digit pairing code to a concrete network
// endpoint on the local network.
//
// Mechanism: the receiver that holds a code answers lookup datagrams for
// it directly; no rendezvous service exists. Lookups are sent to a fixed
// UDP multicast group (streams themselves run over TCP, so the port number
// never clashes with a stream listener). A lookup request carries the code;
// the reply is unicast back to the requester and carries the code plus the
// receiver's listening port, with the host taken from the reply's source
// address. The locator returns on the first matching reply, so duplicate
// or retransmitted replies cannot cause a double connect.
//
// Resolution is bounded: given a live code on the same LAN it completes
// within the configured timeout, and an unknown or expired code fails with
// ErrCodeNotFound after the timeout rather than hanging.
package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/lanbeam/lanbeam/pairing"
	"github.com/lanbeam/lanbeam/transport"
)

const (
	// Port is the fixed UDP port for code lookups.
	Port = 50000

	// DefaultGroup is the multicast group lookups are sent to.
	DefaultGroup = "239.255.60.60"
)

// ErrCodeNotFound indicates no receiver on this LAN answered for the code
// within the timeout.
var ErrCodeNotFound = errors.New("pairing code not found on this network")

// ListenLAN opens the UDP socket a responder uses in production: bound to
// the discovery port and joined to the multicast group on the default
// interface.
func ListenLAN() (net.PacketConn, error) {
	group := &net.UDPAddr{IP: net.ParseIP(DefaultGroup), Port: Port}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, fmt.Errorf("join discovery group: %w", err)
	}
	return conn, nil
}

// offerPayload encodes a code-offer reply: the 9-digit code followed by
// the listening port, big-endian.
func offerPayload(code string, port int) []byte {
	buf := make([]byte, pairing.CodeLength+2)
	copy(buf, code)
	binary.BigEndian.PutUint16(buf[pairing.CodeLength:], uint16(port))
	return buf
}

// parseOffer decodes a code-offer payload.
func parseOffer(data []byte) (code string, port int, err error) {
	if len(data) != pairing.CodeLength+2 {
		return "", 0, transport.ErrMessageTooShort
	}
	code = string(data[:pairing.CodeLength])
	if err := pairing.ValidateCode(code); err != nil {
		return "", 0, err
	}
	port = int(binary.BigEndian.Uint16(data[pairing.CodeLength:]))
	return code, port, nil
}
