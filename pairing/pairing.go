// Package pairing implements the 9-digit pairing codes that stand in for
// manual address entry, and the process-scoped registry mapping live codes
// to reachable endpoints.
//
// A code is exactly nine ASCII digits. Codes are generated uniformly at
// random when a receiver publishes its endpoint; the live set on a LAN is
// tiny, so collision avoidance is a bounded retry loop. Entries expire on
// revoke or after a TTL so stale codes never point at closed ports.
package pairing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strconv"
)

// CodeLength is the exact number of decimal digits in a pairing code.
const CodeLength = 9

var (
	// ErrInvalidCode indicates the string is not exactly nine ASCII digits.
	// Validation happens before any network I/O is attempted.
	ErrInvalidCode = errors.New("pairing code must be exactly 9 digits")

	// ErrNotFound indicates no live endpoint is registered under the code.
	ErrNotFound = errors.New("pairing code not found")

	// ErrNoFreeCode indicates code generation kept colliding with live
	// entries. With nine random digits this only happens if the registry
	// is effectively full.
	ErrNoFreeCode = errors.New("could not generate an unused pairing code")
)

// Endpoint is a network address and port reachable on the local network.
type Endpoint struct {
	Host string
	Port int
}

// Addr returns the endpoint in host:port form suitable for dialing.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string { return e.Addr() }

// ValidateCode checks that code is exactly nine ASCII digits. It fails
// fast with ErrInvalidCode for anything else, including Unicode digits.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrInvalidCode
		}
	}
	return nil
}

// NormalizeCode strips everything but ASCII digits, so codes pasted as
// "123 456 789" or "123-456-789" survive. Validation stays strict; this
// is display-input cleanup only.
func NormalizeCode(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// FormatCode renders a valid code in readable groups of three digits.
// Invalid input is returned unchanged.
func FormatCode(code string) string {
	if ValidateCode(code) != nil {
		return code
	}
	return code[0:3] + " " + code[3:6] + " " + code[6:9]
}

var codeSpace = big.NewInt(1_000_000_000)

// generateCode draws a uniformly random 9-digit code, zero-padded.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return fmt.Sprintf("%09d", n), nil
}
