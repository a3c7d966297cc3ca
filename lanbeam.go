// Package lanbeam streams live audio between two machines on the same
// local network, paired by a short 9-digit code instead of addresses.
//
// A Node plays both parts. StartReceiving binds a stream listener,
// publishes a pairing code for it, and answers discovery lookups until
// StopReceiving; the code stays valid across sender connections, so a
// dropped sender can dial back in with the same digits. StartSending
// resolves a code on the LAN, connects, and streams the chosen capture
// device until the link drops or StopSending is called. A dropped link is
// reported, never silently redialed.
package lanbeam

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lanbeam/lanbeam/audio"
	"github.com/lanbeam/lanbeam/audio/device"
	"github.com/lanbeam/lanbeam/discovery"
	"github.com/lanbeam/lanbeam/pairing"
	"github.com/lanbeam/lanbeam/stream"
	"github.com/lanbeam/lanbeam/transport"
)

var (
	// ErrAlreadyReceiving indicates StartReceiving was called while the
	// node is already listening.
	ErrAlreadyReceiving = errors.New("node is already receiving")

	// ErrAlreadySending indicates StartSending was called while a send
	// session is already live.
	ErrAlreadySending = errors.New("node is already sending")
)

// StatusFunc receives node-level status transitions, tagged with the role
// they belong to. A node receiving and sending at once reports the two
// independently.
type StatusFunc func(role stream.Role, status stream.Status, reason string)

// Options configures a Node. The zero value works: default bind address,
// default ports and timeouts, real audio devices.
type Options struct {
	// BindHost is the address the stream listener binds to. Empty binds
	// all interfaces and advertises the LAN address.
	BindHost string

	// PreferredPort is tried first for the stream listener; 0 selects
	// the default. When occupied, the rest of the range is scanned.
	PreferredPort int

	// DiscoveryTimeout bounds a code lookup; 0 selects the default.
	DiscoveryTimeout time.Duration

	// CodeTTL bounds how long a published code stays resolvable without
	// being revoked; 0 selects the default.
	CodeTTL time.Duration

	// Session tuning, passed through to each session. Zero selects the
	// defaults.
	SendQueueDepth int
	JitterTarget   int
	JitterMax      int

	// OutputDevice selects the playback device for received audio.
	// Empty selects the system default.
	OutputDevice string

	// CaptureSystemAudio captures what the machine is playing instead
	// of a microphone.
	CaptureSystemAudio bool

	// OnStatus, if set, receives every status transition.
	OnStatus StatusFunc

	// OnCode, if set, receives the pairing code once it is published.
	OnCode func(code string)

	// DiscoveryTargets overrides where code lookups are sent. Empty
	// uses the LAN multicast group. Tests point this at loopback.
	DiscoveryTargets []string

	// ListenDiscovery opens the socket lookups are answered on. Nil
	// uses the LAN multicast socket.
	ListenDiscovery func() (net.PacketConn, error)

	// OpenSource and OpenSink override how audio endpoints are opened.
	// Nil uses the real devices. Tests substitute in-memory stubs.
	OpenSource func(deviceID string) (audio.Source, error)
	OpenSink   func(deviceID string) (audio.Sink, error)
}

func (o Options) withDefaults() Options {
	if o.ListenDiscovery == nil {
		o.ListenDiscovery = discovery.ListenLAN
	}
	if o.OpenSource == nil {
		role := device.RoleMicrophone
		if o.CaptureSystemAudio {
			role = device.RoleLoopback
		}
		o.OpenSource = func(deviceID string) (audio.Source, error) {
			return device.OpenCapture(deviceID, role)
		}
	}
	if o.OpenSink == nil {
		o.OpenSink = func(deviceID string) (audio.Sink, error) {
			return device.OpenPlayback(deviceID)
		}
	}
	return o
}

// Node is the top-level handle: at most one receive side and one send
// side, each with at most one live session.
type Node struct {
	opts     Options
	registry *pairing.Registry
	locator  *discovery.Locator
	log      *logrus.Entry

	mu         sync.Mutex
	statuses   map[stream.Role]stream.Status
	code       string
	responder  *discovery.Responder
	acceptor   *transport.Acceptor
	acceptDone chan struct{}
	receiving  bool
	sending    bool
	recvSess   *stream.Session
	sendSess   *stream.Session
}

// NewNode creates a node. Nothing is bound or published until
// StartReceiving or StartSending is called.
func NewNode(opts Options) *Node {
	opts = opts.withDefaults()
	return &Node{
		opts:     opts,
		registry: pairing.NewRegistry(opts.CodeTTL),
		locator:  discovery.NewLocator(opts.DiscoveryTimeout, opts.DiscoveryTargets...),
		log:      logrus.WithField("component", "node"),
		statuses: map[stream.Role]stream.Status{
			stream.RoleSender:   stream.StatusIdle,
			stream.RoleReceiver: stream.StatusIdle,
		},
	}
}

// StartReceiving binds a stream listener, publishes a pairing code for
// it, and starts answering discovery lookups. It returns the code. The
// code remains valid, and the node keeps accepting senders one at a
// time, until StopReceiving.
func (n *Node) StartReceiving() (string, error) {
	n.mu.Lock()
	if n.receiving {
		n.mu.Unlock()
		return "", ErrAlreadyReceiving
	}
	n.receiving = true
	n.mu.Unlock()

	ln, port, err := transport.AllocatePort(n.opts.BindHost, n.opts.PreferredPort)
	if err != nil {
		n.abortReceive()
		return "", err
	}

	host := discovery.AdvertisedHost(n.opts.BindHost)
	code, err := n.registry.Publish(pairing.Endpoint{Host: host, Port: port})
	if err != nil {
		_ = ln.Close()
		n.abortReceive()
		return "", err
	}

	conn, err := n.opts.ListenDiscovery()
	if err != nil {
		n.registry.Revoke(code)
		_ = ln.Close()
		n.abortReceive()
		return "", err
	}

	acceptor := transport.NewAcceptor(ln)
	responder := discovery.NewResponder(n.registry, conn)
	acceptDone := make(chan struct{})

	n.mu.Lock()
	n.code = code
	n.acceptor = acceptor
	n.responder = responder
	n.acceptDone = acceptDone
	n.mu.Unlock()

	n.log.WithFields(logrus.Fields{
		"function": "Node.StartReceiving",
		"host":     host,
		"port":     port,
	}).Info("Receiving started")

	n.emit(stream.RoleReceiver, stream.StatusListening, "")
	if n.opts.OnCode != nil {
		n.opts.OnCode(code)
	}

	go n.acceptLoop(acceptor, code, acceptDone)
	return code, nil
}

func (n *Node) abortReceive() {
	n.mu.Lock()
	n.receiving = false
	n.mu.Unlock()
}

// acceptLoop admits one sender at a time. A connection that fails the
// handshake, or arrives while a session is live, is closed and the loop
// keeps listening.
func (n *Node) acceptLoop(acceptor *transport.Acceptor, code string, done chan struct{}) {
	defer close(done)

	for {
		link, err := acceptor.Accept()
		if err != nil {
			return
		}

		n.mu.Lock()
		busy := n.recvSess != nil
		n.mu.Unlock()
		if busy {
			_ = link.Close()
			continue
		}

		if err := stream.ServerHandshake(link, func(c string) bool { return c == code }); err != nil {
			n.log.WithFields(logrus.Fields{
				"function": "Node.acceptLoop",
				"error":    err.Error(),
			}).Warn("Rejected incoming sender")
			_ = link.Close()
			continue
		}

		sink, err := n.opts.OpenSink(n.opts.OutputDevice)
		if err != nil {
			n.log.WithFields(logrus.Fields{
				"function": "Node.acceptLoop",
				"error":    err.Error(),
			}).Error("Failed to open playback device")
			_ = link.Close()
			continue
		}

		sess := stream.NewReceiver(link, sink, n.sessionConfig(stream.RoleReceiver))
		n.mu.Lock()
		n.recvSess = sess
		n.mu.Unlock()
		sess.Start()

		go func() {
			_ = sess.Wait()
			n.mu.Lock()
			n.recvSess = nil
			listening := n.receiving
			n.mu.Unlock()
			if listening {
				// The code stays live; go back to waiting for a sender.
				n.emit(stream.RoleReceiver, stream.StatusListening, "")
			}
		}()
	}
}

// StopReceiving revokes the pairing code, stops answering lookups, closes
// the listener, and ends any live receive session.
func (n *Node) StopReceiving() {
	n.mu.Lock()
	if !n.receiving {
		n.mu.Unlock()
		return
	}
	n.receiving = false
	code := n.code
	responder := n.responder
	acceptor := n.acceptor
	done := n.acceptDone
	n.code = ""
	n.responder = nil
	n.acceptor = nil
	n.acceptDone = nil
	n.mu.Unlock()

	n.registry.Revoke(code)
	responder.Stop()
	_ = acceptor.Close()
	<-done

	n.mu.Lock()
	sess := n.recvSess
	n.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}

	n.log.WithField("function", "Node.StopReceiving").Info("Receiving stopped")
	n.emit(stream.RoleReceiver, stream.StatusIdle, "")
}

// StartSending resolves code on the LAN, connects, and starts streaming
// captureDevice (empty selects the default device) to the receiver. It
// returns once the session is live; the stream then runs until the link
// drops or StopSending.
func (n *Node) StartSending(code, captureDevice string) error {
	if err := pairing.ValidateCode(code); err != nil {
		return err
	}

	n.mu.Lock()
	if n.sending {
		n.mu.Unlock()
		return ErrAlreadySending
	}
	n.sending = true
	n.mu.Unlock()

	n.emit(stream.RoleSender, stream.StatusConnecting, "")

	ep, err := n.locator.Locate(code)
	if err != nil {
		return n.failSend("code lookup failed", err)
	}

	link, err := transport.Dial(ep.Addr())
	if err != nil {
		return n.failSend("connect failed", err)
	}

	if err := stream.ClientHandshake(link, code); err != nil {
		_ = link.Close()
		return n.failSend("handshake failed", err)
	}

	source, err := n.opts.OpenSource(captureDevice)
	if err != nil {
		_ = link.Close()
		return n.failSend("open capture device failed", err)
	}

	sess, err := stream.NewSender(link, source, n.sessionConfig(stream.RoleSender))
	if err != nil {
		_ = source.Close()
		_ = link.Close()
		return n.failSend("start session failed", err)
	}

	n.mu.Lock()
	n.sendSess = sess
	n.mu.Unlock()
	sess.Start()

	go func() {
		_ = sess.Wait()
		n.mu.Lock()
		n.sendSess = nil
		n.sending = false
		n.mu.Unlock()
	}()

	n.log.WithFields(logrus.Fields{
		"function": "Node.StartSending",
		"endpoint": ep.String(),
	}).Info("Sending started")
	return nil
}

func (n *Node) failSend(reason string, err error) error {
	n.mu.Lock()
	n.sending = false
	n.mu.Unlock()
	n.emit(stream.RoleSender, stream.StatusError, reason)
	return err
}

// StopSending ends the live send session, if any. The receiver observes
// an orderly shutdown and drains what it has buffered.
func (n *Node) StopSending() {
	n.mu.Lock()
	sess := n.sendSess
	n.mu.Unlock()
	if sess == nil {
		return
	}
	sess.Stop()
}

// Stop shuts down both sides of the node.
func (n *Node) Stop() {
	n.StopSending()
	n.StopReceiving()
}

// Code returns the currently published pairing code, or "" when the node
// is not receiving.
func (n *Node) Code() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.code
}

// Status returns the current state of one side of the node.
func (n *Node) Status(role stream.Role) stream.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statuses[role]
}

// SessionStats returns pipeline counters for the live session of role.
// ok is false when no session is live for that role.
func (n *Node) SessionStats(role stream.Role) (stats stream.Stats, ok bool) {
	n.mu.Lock()
	sess := n.sendSess
	if role == stream.RoleReceiver {
		sess = n.recvSess
	}
	n.mu.Unlock()
	if sess == nil {
		return stream.Stats{}, false
	}
	return sess.Stats(), true
}

func (n *Node) sessionConfig(role stream.Role) stream.Config {
	return stream.Config{
		SendQueueDepth: n.opts.SendQueueDepth,
		JitterTarget:   n.opts.JitterTarget,
		JitterMax:      n.opts.JitterMax,
		OnStatus: func(status stream.Status, reason string) {
			n.emit(role, status, reason)
		},
	}
}

func (n *Node) emit(role stream.Role, status stream.Status, reason string) {
	n.mu.Lock()
	n.statuses[role] = status
	cb := n.opts.OnStatus
	n.mu.Unlock()
	if cb != nil {
		cb(role, status, reason)
	}
}
