package connection

import (
	"sync"

	"github.com/cyberinferno/netstream/queue"
)

type sendCall struct {
	content    []byte
	ctx        *ContentContext
	isComplete bool
	processed  func(error)
	inBatch    bool
}

type receiveCall struct {
	min, max   int
	completion ReceiveCompletion
}

// fakePrimitive records every call and lets tests drive the handlers.
type fakePrimitive struct {
	mu sync.Mutex

	maxDatagram int
	path        *Path
	params      Parameters
	endpoint    Endpoint

	started  []queue.Executor
	calls    []string
	sends    []sendCall
	receives []receiveCall
	batches  int
	inBatch  bool

	onState      func(State)
	onPath       func(Path)
	onViability  func(bool)
	onBetterPath func(bool)
}

func newFakePrimitive(maxDatagram int) *fakePrimitive {
	return &fakePrimitive{
		maxDatagram: maxDatagram,
		params:      TCP(),
		endpoint:    Endpoint{Host: "127.0.0.1", Port: 9000},
	}
}

func (f *fakePrimitive) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakePrimitive) Start(exec queue.Executor) {
	f.mu.Lock()
	f.started = append(f.started, exec)
	f.mu.Unlock()
	f.record("start")
}

func (f *fakePrimitive) Cancel()                { f.record("cancel") }
func (f *fakePrimitive) ForceCancel()           { f.record("force-cancel") }
func (f *fakePrimitive) CancelCurrentEndpoint() { f.record("cancel-current-endpoint") }
func (f *fakePrimitive) Restart()               { f.record("restart") }

func (f *fakePrimitive) Send(content []byte, ctx *ContentContext, isComplete bool, processed func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{
		content:    content,
		ctx:        ctx,
		isComplete: isComplete,
		processed:  processed,
		inBatch:    f.inBatch,
	})
}

func (f *fakePrimitive) Receive(minLength, maxLength int, completion ReceiveCompletion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receives = append(f.receives, receiveCall{min: minLength, max: maxLength, completion: completion})
}

func (f *fakePrimitive) Batch(work func()) {
	f.mu.Lock()
	f.batches++
	f.inBatch = true
	f.mu.Unlock()

	work()

	f.mu.Lock()
	f.inBatch = false
	f.mu.Unlock()
}

func (f *fakePrimitive) MaximumDatagramSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxDatagram
}

func (f *fakePrimitive) setMaximumDatagramSize(n int) {
	f.mu.Lock()
	f.maxDatagram = n
	f.mu.Unlock()
}

func (f *fakePrimitive) CurrentPath() *Path     { return f.path }
func (f *fakePrimitive) Parameters() Parameters { return f.params }
func (f *fakePrimitive) Endpoint() Endpoint     { return f.endpoint }

func (f *fakePrimitive) SetStateUpdateHandler(h func(State))     { f.onState = h }
func (f *fakePrimitive) SetPathUpdateHandler(h func(Path))       { f.onPath = h }
func (f *fakePrimitive) SetViabilityUpdateHandler(h func(bool))  { f.onViability = h }
func (f *fakePrimitive) SetBetterPathUpdateHandler(h func(bool)) { f.onBetterPath = h }

func (f *fakePrimitive) sendCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

func (f *fakePrimitive) receiveCalls() []receiveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]receiveCall(nil), f.receives...)
}

// complete answers the i-th receive request.
func (f *fakePrimitive) complete(i int, content []byte, isComplete bool, err error) {
	f.receiveCalls()[i].completion(content, DefaultMessage, isComplete, err)
}
