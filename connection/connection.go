// Package connection adapts a callback-driven transport primitive into
// multicast streams. A Session wraps exactly one Primitive: lifecycle, path
// and viability changes and inbound data are exposed as streams, while
// start, send and cancel stay imperative and are forwarded to the primitive.
//
// Streams are fed from the executor the primitive was started on. The session
// performs no threading of its own.
package connection

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/metrics"
	"github.com/cyberinferno/netstream/queue"
	"github.com/cyberinferno/netstream/stream"
)

// Connection is the capability set a Session exposes to consumers.
type Connection interface {
	MaximumDatagramSize() int
	CurrentPath() *Path
	Parameters() Parameters
	Endpoint() Endpoint

	Start(exec queue.Executor)
	Restart()
	Cancel()
	ForceCancel()
	CancelCurrentEndpoint()

	Batch(work func())
	SendData(content []byte, opts ...SendOption)
	SendBatch(content []byte, opts ...SendOption)

	StateUpdate() stream.ValueStream[State]
	PathUpdate() stream.Stream[Path]
	BetterPathUpdate() stream.Stream[bool]
	ViabilityUpdate() stream.Stream[bool]
	ReceiveMessage() stream.Stream[Message]
}

var _ Connection = (*Session)(nil)

// Session is the stream adapter over one Primitive. It installs itself as the
// primitive's handler on creation and must be the only one to do so.
type Session struct {
	prim    Primitive
	id      string
	log     logger.Logger
	metrics *metrics.Metrics

	state      *stream.Value[State]
	path       *stream.Broadcast[Path]
	betterPath *stream.Broadcast[bool]
	viability  *stream.Broadcast[bool]
	received   *stream.Broadcast[Message]

	minReceive int
	maxReceive int

	receiveMu sync.Mutex
	receiving bool
}

// NewSession wraps p. The session starts in the Setup state; call Start to
// begin connecting.
//
// Parameters:
//   - p: The primitive to adapt; the session takes over its handlers
//   - opts: Optional logger, metrics, id and receive bounds
//
// Returns:
//   - A *Session implementing Connection
func NewSession(p Primitive, opts ...Option) *Session {
	s := &Session{
		prim:       p,
		id:         uuid.NewString(),
		log:        logger.NewNopLogger(),
		state:      stream.NewValue(StateOf(Setup)),
		path:       stream.NewBroadcast[Path](),
		betterPath: stream.NewBroadcast[bool](),
		viability:  stream.NewBroadcast[bool](),
		received:   stream.NewBroadcast[Message](),
		minReceive: DefaultMinimumReceiveLength,
		maxReceive: DefaultMaximumReceiveLength,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.With(
		logger.Field{Key: "connection_id", Value: s.id},
		logger.Field{Key: "endpoint", Value: p.Endpoint().String()},
	)

	p.SetStateUpdateHandler(s.stateChanged)
	p.SetPathUpdateHandler(s.path.Emit)
	p.SetBetterPathUpdateHandler(s.betterPath.Emit)
	p.SetViabilityUpdateHandler(s.viability.Emit)

	return s
}

// ID returns the session id used in logs.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) stateChanged(st State) {
	s.metrics.ObserveState(st.Kind.String())

	switch st.Kind {
	case Failed:
		s.log.Error("connection failed", logger.ErrorField(st.Err))
	case Waiting:
		s.log.Warn("connection waiting", logger.ErrorField(st.Err))
	default:
		s.log.Info("connection state changed", logger.Field{Key: "state", Value: st.Kind.String()})
	}

	s.state.Set(st)
}

// MaximumDatagramSize returns the primitive's current maximum.
func (s *Session) MaximumDatagramSize() int { return s.prim.MaximumDatagramSize() }

// CurrentPath returns the primitive's current path.
func (s *Session) CurrentPath() *Path { return s.prim.CurrentPath() }

// Parameters returns the primitive's parameters.
func (s *Session) Parameters() Parameters { return s.prim.Parameters() }

// Endpoint returns the primitive's remote endpoint.
func (s *Session) Endpoint() Endpoint { return s.prim.Endpoint() }

// Start begins connecting; state and path updates are delivered on exec.
func (s *Session) Start(exec queue.Executor) { s.prim.Start(exec) }

// Restart forwards to the primitive.
func (s *Session) Restart() { s.prim.Restart() }

// Cancel forwards to the primitive. A receive completion already produced by
// the primitive may still be delivered afterwards.
func (s *Session) Cancel() { s.prim.Cancel() }

// ForceCancel forwards to the primitive.
func (s *Session) ForceCancel() { s.prim.ForceCancel() }

// CancelCurrentEndpoint forwards to the primitive.
func (s *Session) CancelCurrentEndpoint() { s.prim.CancelCurrentEndpoint() }

// Batch runs work inside the primitive's batch scope.
func (s *Session) Batch(work func()) { s.prim.Batch(work) }

// StateUpdate returns the lifecycle state channel. Subscribers receive the
// current state immediately. Identical consecutive states are not filtered;
// wrap with stream.RemoveDuplicatesFunc(..., State.Equal) for that.
func (s *Session) StateUpdate() stream.ValueStream[State] { return s.state.ReadOnly() }

// PathUpdate returns path changes.
func (s *Session) PathUpdate() stream.Stream[Path] { return s.path.Stream() }

// BetterPathUpdate reports whether a better path than the current one exists.
func (s *Session) BetterPathUpdate() stream.Stream[bool] { return s.betterPath.Stream() }

// ViabilityUpdate reports whether data can currently flow.
func (s *Session) ViabilityUpdate() stream.Stream[bool] { return s.viability.Stream() }

// SendData forwards one send to the primitive. Without WithIsComplete the
// content completes its message; without WithCompletion the primitive's
// processed callback is still acknowledged, silently.
//
// Parameters:
//   - content: Bytes to send; may be nil (e.g. to only mark completion)
//   - opts: WithContentContext, WithIsComplete, WithCompletion
func (s *Session) SendData(content []byte, opts ...SendOption) {
	s.send(content, newSendOptions(opts))
}

// SendBatch sends content split into chunks no larger than the effective
// maximum datagram size: WithMaxDatagramSize if given, otherwise the
// primitive's maximum read now. Content that fits (or is nil) is sent with a
// single SendData. Otherwise the chunks are issued in offset order inside one
// Batch scope, each with the same context, completeness and completion.
//
// Parameters:
//   - content: Bytes to send
//   - opts: WithMaxDatagramSize, WithContentContext, WithIsComplete, WithCompletion
func (s *Session) SendBatch(content []byte, opts ...SendOption) {
	o := newSendOptions(opts)

	maxSize := s.prim.MaximumDatagramSize()
	if o.maxDatagramSize != nil {
		maxSize = *o.maxDatagramSize
	}

	if content == nil || maxSize <= 0 || len(content) <= maxSize {
		s.send(content, o)
		return
	}

	s.metrics.ObserveBatch()
	s.log.Debug("sending batch",
		logger.Field{Key: "bytes", Value: len(content)},
		logger.Field{Key: "max_datagram_size", Value: maxSize},
	)

	s.prim.Batch(func() {
		n := len(content)
		for sent := 0; sent < n; {
			size := min(maxSize, n-sent)
			s.send(content[sent:sent+size], o)
			sent += size
		}
	})
}

func (s *Session) send(content []byte, o sendOptions) {
	s.metrics.ObserveSend(len(content))

	processed := o.completion.processed()
	s.prim.Send(content, o.contentContext, o.complete(), func(err error) {
		s.metrics.ObserveSendResult(err)
		processed(err)
	})
}

// ReceiveMessage returns the inbound message stream. The first subscriber
// arms a continuous receive loop: one request to the primitive, re-issued
// after every completion without error while subscribers remain. A completion
// carrying an error is delivered and ends the loop; subscribing again re-arms
// it. At most one receive request is outstanding at any time.
func (s *Session) ReceiveMessage() stream.Stream[Message] {
	return stream.Func[Message](func(fn func(Message)) stream.Subscription {
		sub := s.received.Subscribe(fn)
		s.armReceive()
		return sub
	})
}

func (s *Session) armReceive() {
	s.receiveMu.Lock()
	if s.receiving {
		s.receiveMu.Unlock()
		return
	}
	s.receiving = true
	s.receiveMu.Unlock()

	s.receive()
}

func (s *Session) receive() {
	s.prim.Receive(s.minReceive, s.maxReceive, s.receiveCompleted)
}

func (s *Session) receiveCompleted(content []byte, ctx *ContentContext, isComplete bool, err error) {
	s.metrics.ObserveReceive(len(content), err)

	s.received.Emit(Message{
		Content:    content,
		Context:    ctx,
		IsComplete: isComplete,
		Err:        err,
	})

	s.receiveMu.Lock()
	if err != nil || s.received.Len() == 0 {
		s.receiving = false
		s.receiveMu.Unlock()

		if err != nil {
			s.log.Warn("receive loop ended", logger.ErrorField(err))
		}
		return
	}
	s.receiveMu.Unlock()

	s.receive()
}
