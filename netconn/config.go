package netconn

import (
	"time"

	"github.com/cyberinferno/netstream/connection"
)

const (
	// DefaultStreamDatagramSize is the maximum datagram size reported for
	// stream connections.
	DefaultStreamDatagramSize = 64 * 1024
	// DefaultUDPDatagramSize fits one IPv4 datagram in a 1500 byte MTU. It is
	// replaced by a value derived from the interface MTU once connected.
	DefaultUDPDatagramSize = 1472
)

// Config holds configuration for a Conn.
type Config struct {
	// Endpoint is the remote host and port to connect to.
	Endpoint connection.Endpoint
	// Parameters selects the network and dial options.
	Parameters connection.Parameters
	// RestartInterval, when positive, restarts the connection automatically
	// that long after it enters the Waiting state.
	RestartInterval time.Duration
	// WriteTimeout is the max duration for one flush of queued sends; 0 means
	// no timeout.
	WriteTimeout time.Duration
	// ReadTimeout is the max duration to wait for a receive; 0 means no timeout.
	ReadTimeout time.Duration
	// MaxDatagramSize overrides the reported maximum datagram size when
	// positive.
	MaxDatagramSize int
}

// DefaultConfig returns a Config for a TCP connection to endpoint. Automatic
// restart is disabled; override fields as needed before passing to New.
//
// Parameters:
//   - endpoint: The remote host and port
//
// Returns:
//   - A Config with defaults: TCP parameters with a 10s dial timeout,
//     WriteTimeout 10s, ReadTimeout 0, RestartInterval 0.
func DefaultConfig(endpoint connection.Endpoint) Config {
	return Config{
		Endpoint:        endpoint,
		Parameters:      connection.TCP(),
		RestartInterval: 0,
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     0,
	}
}

func (c Config) initialDatagramSize() int {
	switch {
	case c.MaxDatagramSize > 0:
		return c.MaxDatagramSize
	case c.Parameters.IsDatagram():
		return DefaultUDPDatagramSize
	default:
		return DefaultStreamDatagramSize
	}
}
