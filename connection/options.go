package connection

import (
	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/metrics"
)

const (
	// DefaultMinimumReceiveLength is the smallest read the receive loop asks for.
	DefaultMinimumReceiveLength = 1
	// DefaultMaximumReceiveLength caps each read of the receive loop.
	DefaultMaximumReceiveLength = 8 * 1024
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger; the session adds its id as a field.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithMetrics sets the collectors the session updates.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// WithReceiveLength sets the bounds of each receive request. Values below 1
// are ignored, and max is raised to min when smaller.
func WithReceiveLength(min, max int) Option {
	return func(s *Session) {
		if min >= 1 {
			s.minReceive = min
		}
		if max >= 1 {
			s.maxReceive = max
		}
		if s.maxReceive < s.minReceive {
			s.maxReceive = s.minReceive
		}
	}
}

type sendOptions struct {
	maxDatagramSize *int
	contentContext  *ContentContext
	isComplete      *bool
	completion      *SendCompletion
}

// SendOption configures one SendData or SendBatch call.
type SendOption func(*sendOptions)

// WithMaxDatagramSize bounds chunk size for SendBatch instead of reading the
// primitive's current maximum.
func WithMaxDatagramSize(n int) SendOption {
	return func(o *sendOptions) {
		o.maxDatagramSize = &n
	}
}

// WithContentContext sets the message context; DefaultMessage otherwise.
func WithContentContext(ctx *ContentContext) SendOption {
	return func(o *sendOptions) {
		o.contentContext = ctx
	}
}

// WithIsComplete marks whether the content completes its message; true
// otherwise.
func WithIsComplete(complete bool) SendOption {
	return func(o *sendOptions) {
		o.isComplete = &complete
	}
}

// WithCompletion sets the completion notified for every send issued.
func WithCompletion(c *SendCompletion) SendOption {
	return func(o *sendOptions) {
		o.completion = c
	}
}

func newSendOptions(opts []SendOption) sendOptions {
	var o sendOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if o.contentContext == nil {
		o.contentContext = DefaultMessage
	}

	return o
}

func (o sendOptions) complete() bool {
	if o.isComplete == nil {
		return true
	}

	return *o.isComplete
}
