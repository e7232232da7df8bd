package connection

import "github.com/cyberinferno/netstream/queue"

// ReceiveCompletion is called once per Receive request with the content read,
// its context, whether the message is complete, and the transport error.
type ReceiveCompletion func(content []byte, ctx *ContentContext, isComplete bool, err error)

// Primitive is the transport object a Session wraps. Implementations own the
// actual connection and report everything that happens to it through the
// registered handlers and completions, invoked on the executor given to Start.
type Primitive interface {
	// Start begins connecting. Handlers and completions run on exec.
	Start(exec queue.Executor)

	// Cancel closes the connection gracefully.
	Cancel()

	// ForceCancel closes the connection without a graceful shutdown.
	ForceCancel()

	// CancelCurrentEndpoint abandons the current attempt or connection so the
	// primitive can move on (it reports Waiting until restarted).
	CancelCurrentEndpoint()

	// Restart retries a connection that is waiting.
	Restart()

	// Send queues content for sending. processed is always non-nil and must be
	// called exactly once.
	Send(content []byte, ctx *ContentContext, isComplete bool, processed func(error))

	// Receive requests between minLength and maxLength bytes. completion is
	// called exactly once.
	Receive(minLength, maxLength int, completion ReceiveCompletion)

	// Batch runs work and submits the sends it issues as one unit.
	Batch(work func())

	// MaximumDatagramSize is the current largest payload one send should carry.
	MaximumDatagramSize() int

	// CurrentPath is the current network path, or nil before one is known.
	CurrentPath() *Path

	Parameters() Parameters
	Endpoint() Endpoint

	SetStateUpdateHandler(handler func(State))
	SetPathUpdateHandler(handler func(Path))
	SetViabilityUpdateHandler(handler func(bool))
	SetBetterPathUpdateHandler(handler func(bool))
}
