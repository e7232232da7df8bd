package connection

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// StateKind enumerates the lifecycle phases of a connection.
type StateKind int

const (
	Setup     StateKind = iota // Created, not started
	Waiting                    // Cannot connect yet; Err says why
	Preparing                  // Connection establishment in progress
	Ready                      // Established; data may flow
	Failed                     // Unrecoverable failure; Err says why
	Cancelled                  // Cancelled by the owner
)

// String returns a human-readable name for the state kind.
func (k StateKind) String() string {
	switch k {
	case Setup:
		return "setup"
	case Waiting:
		return "waiting"
	case Preparing:
		return "preparing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// State is a lifecycle state as reported by the primitive. Err is set for
// Waiting and Failed.
type State struct {
	Kind StateKind
	Err  error
}

// StateOf returns the error-less state of the given kind.
func StateOf(kind StateKind) State {
	return State{Kind: kind}
}

// WaitingState returns a Waiting state caused by err.
func WaitingState(err error) State {
	return State{Kind: Waiting, Err: err}
}

// FailedState returns a Failed state caused by err.
func FailedState(err error) State {
	return State{Kind: Failed, Err: err}
}

// Equal reports whether s and o are the same state. Errors match when they
// are identical or carry the same message.
func (s State) Equal(o State) bool {
	if s.Kind != o.Kind {
		return false
	}

	switch {
	case s.Err == nil || o.Err == nil:
		return s.Err == nil && o.Err == nil
	case errors.Is(s.Err, o.Err):
		return true
	default:
		return s.Err.Error() == o.Err.Error()
	}
}

// IsTerminal reports whether no further transitions are expected.
func (s State) IsTerminal() bool {
	return s.Kind == Cancelled || s.Kind == Failed
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s(%v)", s.Kind, s.Err)
	}

	return s.Kind.String()
}

// PathStatus describes whether the network path can be used.
type PathStatus int

const (
	PathUnsatisfied        PathStatus = iota // No usable route
	PathSatisfied                            // Usable
	PathRequiresConnection                   // Usable once a connection is activated
)

// String returns a human-readable name for the path status.
func (p PathStatus) String() string {
	switch p {
	case PathSatisfied:
		return "satisfied"
	case PathRequiresConnection:
		return "requires-connection"
	default:
		return "unsatisfied"
	}
}

// Path describes the network route a connection currently uses.
type Path struct {
	Status        PathStatus
	LocalAddr     net.Addr
	RemoteAddr    net.Addr
	Interface     string
	IsExpensive   bool
	IsConstrained bool
}

// Endpoint is the remote host and port a connection targets.
type Endpoint struct {
	Host string
	Port int
}

// String returns the endpoint in "host:port" form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint parses a "host:port" address.
//
// Returns:
//   - The parsed Endpoint, or an error if address is malformed or the port is
//     not a number in 0-65535
func ParseEndpoint(address string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", address, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid port in endpoint %q: %w", address, err)
	}

	return Endpoint{Host: host, Port: int(port)}, nil
}

// Parameters configures how a primitive establishes its connection.
type Parameters struct {
	// Network is "tcp", "tcp4", "tcp6", "udp", "udp4" or "udp6".
	Network string
	// DialTimeout bounds connection establishment; 0 means no timeout.
	DialTimeout time.Duration
	// KeepAlive is the TCP keep-alive period; 0 uses the system default.
	KeepAlive time.Duration
	// TOS sets the IPv4 type-of-service byte when non-zero.
	TOS int
	// TTL sets the IPv4 time-to-live when non-zero.
	TTL int
}

// TCP returns Parameters for a stream connection.
func TCP() Parameters {
	return Parameters{Network: "tcp", DialTimeout: 10 * time.Second}
}

// UDP returns Parameters for a datagram connection.
func UDP() Parameters {
	return Parameters{Network: "udp", DialTimeout: 10 * time.Second}
}

// IsDatagram reports whether the parameters describe a datagram transport.
func (p Parameters) IsDatagram() bool {
	switch p.Network {
	case "udp", "udp4", "udp6":
		return true
	default:
		return false
	}
}

// ContentContext describes the message a piece of content belongs to.
type ContentContext struct {
	Identifier string
	// IsFinal marks the last message on the connection; sending it complete
	// closes the write side.
	IsFinal  bool
	Priority float64
}

var (
	// DefaultMessage is used when no context is given.
	DefaultMessage = &ContentContext{Identifier: "default", Priority: 0.5}
	// FinalMessage marks the end of the outbound stream.
	FinalMessage = &ContentContext{Identifier: "final", IsFinal: true, Priority: 0.5}
)

// Message is one receive completion: the content read, the context it belongs
// to, whether the message is complete, and the transport error if any.
type Message struct {
	Content    []byte
	Context    *ContentContext
	IsComplete bool
	Err        error
}

// SendCompletion is notified once per send with the transport error, or nil
// when the content was consumed by the protocol stack. It does not mean the
// data reached the peer.
type SendCompletion struct {
	handle func(err error)
}

// NewSendCompletion wraps handle as a SendCompletion.
func NewSendCompletion(handle func(err error)) *SendCompletion {
	return &SendCompletion{handle: handle}
}

// processed returns the callback handed to the primitive for one send. It
// fires handle at most once. A nil completion still yields a callback so the
// primitive always has something to acknowledge.
func (c *SendCompletion) processed() func(error) {
	if c == nil || c.handle == nil {
		return func(error) {}
	}

	var once sync.Once
	return func(err error) {
		once.Do(func() { c.handle(err) })
	}
}
