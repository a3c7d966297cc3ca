package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Stream listening ports. The preferred port is tried first; when it is
// occupied the allocator scans the rest of the range and takes the first
// free port. The chosen port travels to the peer inside the discovery
// exchange, so nothing may assume the default.
const (
	PortBase    = 50000
	PortSpan    = 1000
	DefaultPort = 50007
)

// ErrNoPortAvailable indicates the entire port range is occupied.
var ErrNoPortAvailable = errors.New("no free port in range")

// AllocatePort binds a TCP listener on host, preferring preferred and
// falling back across [PortBase, PortBase+PortSpan). It returns the bound
// listener and the port actually obtained.
func AllocatePort(host string, preferred int) (net.Listener, int, error) {
	if preferred == 0 {
		preferred = DefaultPort
	}
	return allocateInRange(host, preferred, PortBase, PortSpan)
}

func allocateInRange(host string, preferred, base, span int) (net.Listener, int, error) {
	candidates := make([]int, 0, span+1)
	candidates = append(candidates, preferred)
	for offset := 0; offset < span; offset++ {
		if p := base + offset; p != preferred {
			candidates = append(candidates, p)
		}
	}

	var lastErr error
	for _, port := range candidates {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			lastErr = err
			continue
		}
		if port != preferred {
			logrus.WithFields(logrus.Fields{
				"function":  "AllocatePort",
				"preferred": preferred,
				"port":      port,
			}).Info("Preferred port occupied, using fallback")
		}
		return ln, port, nil
	}
	return nil, 0, fmt.Errorf("%w: %v", ErrNoPortAvailable, lastErr)
}
