// Package netconn provides a connection.Primitive backed by a net.Conn. It
// dials TCP or UDP endpoints (or wraps an accepted connection), reports its
// lifecycle through the primitive handlers and serves send and receive
// requests asynchronously. Handlers and completions run on the executor given
// to Start.
package netconn

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/netstream/connection"
	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/queue"
)

var (
	// ErrNotConnected is reported for sends issued while no connection is
	// established.
	ErrNotConnected = errors.New("netconn: not connected")
	// ErrEndpointCancelled is reported when CancelCurrentEndpoint abandons the
	// current connection.
	ErrEndpointCancelled = errors.New("netconn: endpoint cancelled")
	// ErrCancelled is reported for requests pending when the Conn is
	// cancelled, and for requests issued afterwards.
	ErrCancelled = errors.New("netconn: connection cancelled")
)

var _ connection.Primitive = (*Conn)(nil)

// link is one established net.Conn. reason is set, under Conn.mu, when the
// Conn detaches the link on purpose.
type link struct {
	net.Conn
	gen    uint64
	reason error
}

type readRequest struct {
	minLength  int
	maxLength  int
	completion connection.ReceiveCompletion
}

type pendingWrite struct {
	content    []byte
	ctx        *connection.ContentContext
	isComplete bool
	processed  func(error)
}

type handlers struct {
	state      func(connection.State)
	path       func(connection.Path)
	viability  func(bool)
	betterPath func(bool)
}

// Conn is a connection.Primitive over a net.Conn. It is safe for concurrent
// use.
type Conn struct {
	cfg     Config
	log     logger.Logger
	inbound bool

	mu           sync.Mutex
	exec         queue.Executor
	writes       *queue.Queue
	started      bool
	cancelled    bool
	gen          uint64
	link         *link
	accepted     net.Conn
	dialCancel   context.CancelFunc
	restartTimer *time.Timer
	state        connection.State
	path         *connection.Path
	maxDatagram  int
	pendingRead  *readRequest
	batching     bool
	batch        []pendingWrite
	handlers     handlers
}

// New creates a Conn that dials cfg.Endpoint when started.
//
// Parameters:
//   - cfg: Endpoint, parameters and timeouts (e.g. from DefaultConfig)
//   - log: Logger for lifecycle events; nil discards
//
// Returns:
//   - A *Conn in the Setup state
func New(cfg Config, log logger.Logger) *Conn {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Conn{
		cfg:         cfg,
		log:         log.With(logger.Field{Key: "endpoint", Value: cfg.Endpoint.String()}),
		state:       connection.StateOf(connection.Setup),
		maxDatagram: cfg.initialDatagramSize(),
	}
}

// FromConn creates a Conn around an already established connection, such as
// one returned by a listener. Start reports it ready immediately. Such a Conn
// cannot be restarted: losing the connection fails it.
//
// Parameters:
//   - conn: The established connection; the Conn takes ownership
//   - cfg: Timeouts and datagram size; Endpoint is taken from conn when empty
//   - log: Logger for lifecycle events; nil discards
//
// Returns:
//   - A *Conn in the Setup state
func FromConn(conn net.Conn, cfg Config, log logger.Logger) *Conn {
	if cfg.Endpoint == (connection.Endpoint{}) {
		if e, err := connection.ParseEndpoint(conn.RemoteAddr().String()); err == nil {
			cfg.Endpoint = e
		}
	}

	if cfg.Parameters.Network == "" {
		cfg.Parameters.Network = conn.RemoteAddr().Network()
	}

	cfg.RestartInterval = 0

	c := New(cfg, log)
	c.inbound = true
	c.accepted = conn
	return c
}

// Start implements connection.Primitive. A nil exec runs handlers inline.
func (c *Conn) Start(exec queue.Executor) {
	if exec == nil {
		exec = queue.Immediate
	}

	c.mu.Lock()
	if c.started || c.cancelled {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.exec = exec
	c.writes = queue.New("netconn-write " + c.cfg.Endpoint.String())

	accepted := c.accepted
	c.accepted = nil
	if accepted != nil {
		c.gen++
	}
	gen := c.gen
	c.mu.Unlock()

	if accepted != nil {
		c.established(gen, accepted)
		return
	}

	c.connect()
}

func (c *Conn) connect() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	c.mu.Unlock()

	c.report(gen, connection.StateOf(connection.Preparing))
	go c.dial(ctx, gen)
}

func (c *Conn) dial(ctx context.Context, gen uint64) {
	params := c.cfg.Parameters
	d := net.Dialer{
		Timeout:   params.DialTimeout,
		KeepAlive: params.KeepAlive,
	}

	conn, err := d.DialContext(ctx, params.Network, c.cfg.Endpoint.String())
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		c.log.Warn("dial failed", logger.ErrorField(err))
		c.waiting(gen, err)
		return
	}

	c.established(gen, conn)
}

func (c *Conn) established(gen uint64, conn net.Conn) {
	if err := applyIPOptions(conn, c.cfg.Parameters); err != nil {
		c.log.Warn("ip options not applied", logger.ErrorField(err))
	}

	path, mtu := pathFor(conn)
	l := &link{Conn: conn, gen: gen}

	c.mu.Lock()
	if gen != c.gen || c.cancelled {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}

	c.link = l
	c.dialCancel = nil
	c.path = &path
	if c.cfg.Parameters.IsDatagram() && c.cfg.MaxDatagramSize <= 0 {
		c.maxDatagram = datagramSize(addrIP(conn.LocalAddr()), mtu)
	}
	pending := c.pendingRead
	c.pendingRead = nil
	exec, h := c.executor(), c.handlers
	c.mu.Unlock()

	c.log.Info("connected",
		logger.Field{Key: "local_addr", Value: conn.LocalAddr().String()},
		logger.Field{Key: "interface", Value: path.Interface},
	)

	emit(exec, h.path, path)
	emit(exec, h.viability, true)
	emit(exec, h.betterPath, false)
	c.report(gen, connection.StateOf(connection.Ready))

	if pending != nil {
		go c.read(l, *pending)
	}
}

// report publishes st if gen is still the current attempt.
func (c *Conn) report(gen uint64, st connection.State) bool {
	c.mu.Lock()
	if gen != c.gen || c.cancelled {
		c.mu.Unlock()
		return false
	}

	c.state = st
	exec, h := c.executor(), c.handlers
	c.mu.Unlock()

	emit(exec, h.state, st)
	return true
}

func (c *Conn) waiting(gen uint64, err error) {
	if !c.report(gen, connection.WaitingState(err)) {
		return
	}

	c.mu.Lock()
	exec, h := c.executor(), c.handlers
	c.mu.Unlock()
	emit(exec, h.viability, false)

	c.scheduleRestart(gen)
}

func (c *Conn) fail(gen uint64, err error) {
	if !c.report(gen, connection.FailedState(err)) {
		return
	}

	c.mu.Lock()
	exec, h := c.executor(), c.handlers
	pending := c.pendingRead
	c.pendingRead = nil
	c.mu.Unlock()
	emit(exec, h.viability, false)

	if pending != nil {
		exec.Execute(func() { pending.completion(nil, nil, false, err) })
	}
}

// lost handles a broken link found by a read.
func (c *Conn) lost(l *link, err error) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	c.mu.Unlock()

	_ = l.Close()
	c.log.Warn("connection lost", logger.ErrorField(err))

	if c.inbound {
		c.fail(l.gen, err)
		return
	}

	c.waiting(l.gen, err)
}

func (c *Conn) scheduleRestart(gen uint64) {
	if c.cfg.RestartInterval <= 0 || c.inbound {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return
	}

	if c.restartTimer != nil {
		c.restartTimer.Stop()
	}

	c.restartTimer = time.AfterFunc(c.cfg.RestartInterval, func() {
		c.mu.Lock()
		current := gen == c.gen && !c.cancelled && c.state.Kind == connection.Waiting
		c.mu.Unlock()

		if current {
			c.log.Info("restarting", logger.Field{Key: "after", Value: c.cfg.RestartInterval.String()})
			c.connect()
		}
	})
}

// Restart implements connection.Primitive. It only has an effect while the
// connection is waiting.
func (c *Conn) Restart() {
	if c.inbound {
		c.log.Warn("restart ignored for accepted connection")
		return
	}

	c.mu.Lock()
	if !c.started || c.cancelled || c.state.Kind != connection.Waiting {
		c.mu.Unlock()
		return
	}

	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	c.mu.Unlock()

	c.connect()
}

// CancelCurrentEndpoint implements connection.Primitive. The in-flight dial
// or established connection is abandoned and the Conn waits. A receive in
// flight completes with ErrEndpointCancelled.
func (c *Conn) CancelCurrentEndpoint() {
	c.mu.Lock()
	if !c.started || c.cancelled {
		c.mu.Unlock()
		return
	}

	gen := c.gen
	l := c.link
	c.link = nil
	if l != nil {
		l.reason = ErrEndpointCancelled
	}
	dialCancel := c.dialCancel
	c.dialCancel = nil
	c.mu.Unlock()

	if dialCancel != nil {
		dialCancel()
	}

	if l != nil {
		_ = l.Close()
	}

	c.log.Info("endpoint cancelled")
	if c.inbound {
		c.fail(gen, ErrEndpointCancelled)
		return
	}

	c.waiting(gen, ErrEndpointCancelled)
}

// Cancel implements connection.Primitive. Sends already queued are written
// before the connection is closed.
func (c *Conn) Cancel() {
	c.shutdown(false)
}

// ForceCancel implements connection.Primitive. The connection is reset
// without waiting for queued sends.
func (c *Conn) ForceCancel() {
	c.shutdown(true)
}

func (c *Conn) shutdown(force bool) {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}

	c.cancelled = true
	l := c.link
	c.link = nil
	if l != nil {
		l.reason = ErrCancelled
	}
	accepted := c.accepted
	c.accepted = nil
	dialCancel := c.dialCancel
	c.dialCancel = nil
	if c.restartTimer != nil {
		c.restartTimer.Stop()
	}
	pending := c.pendingRead
	c.pendingRead = nil
	writes := c.writes
	c.state = connection.StateOf(connection.Cancelled)
	exec, h := c.executor(), c.handlers
	c.mu.Unlock()

	if dialCancel != nil {
		dialCancel()
	}

	if accepted != nil {
		_ = accepted.Close()
	}

	if force && l != nil {
		if tc, ok := l.Conn.(*net.TCPConn); ok {
			_ = tc.SetLinger(0)
		}
		_ = l.Close()
	}

	c.log.Info("cancelled", logger.Field{Key: "force", Value: force})

	go func() {
		if writes != nil {
			writes.Close()
		}

		if l != nil && !force {
			_ = l.Close()
		}

		if pending != nil {
			exec.Execute(func() { pending.completion(nil, nil, false, ErrCancelled) })
		}

		emit(exec, h.viability, false)
		emit(exec, h.state, connection.StateOf(connection.Cancelled))
	}()
}

// Send implements connection.Primitive. A send that completes a message in
// the FinalMessage context closes the write side of a stream connection once
// written.
func (c *Conn) Send(content []byte, ctx *connection.ContentContext, isComplete bool, processed func(error)) {
	if ctx == nil {
		ctx = connection.DefaultMessage
	}

	w := pendingWrite{content: content, ctx: ctx, isComplete: isComplete, processed: processed}

	c.mu.Lock()
	if c.batching {
		c.batch = append(c.batch, w)
		c.mu.Unlock()
		return
	}

	c.enqueue([]pendingWrite{w})
}

// Batch implements connection.Primitive. Sends issued while work runs are
// written together: with one vectored write on stream connections, as
// consecutive datagrams otherwise.
func (c *Conn) Batch(work func()) {
	c.mu.Lock()
	if c.batching {
		c.mu.Unlock()
		work()
		return
	}
	c.batching = true
	c.mu.Unlock()

	work()

	c.mu.Lock()
	ws := c.batch
	c.batch = nil
	c.batching = false

	if len(ws) == 0 {
		c.mu.Unlock()
		return
	}

	c.enqueue(ws)
}

// enqueue hands ws to the write queue, or fails them when there is no link.
// It must be called with c.mu held and releases it. Enqueueing under c.mu
// orders the write before any shutdown, whose queue Close then drains it.
func (c *Conn) enqueue(ws []pendingWrite) {
	l, exec, err := c.link, c.executor(), c.sendErr()
	if err == nil {
		c.writes.Execute(func() { c.flush(l, ws) })
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	for _, w := range ws {
		exec.Execute(func() { w.processed(err) })
	}
}

// sendErr must be called with c.mu held.
func (c *Conn) sendErr() error {
	switch {
	case c.cancelled:
		return ErrCancelled
	case c.link == nil:
		return ErrNotConnected
	default:
		return nil
	}
}

// executor must be called with c.mu held.
func (c *Conn) executor() queue.Executor {
	if c.exec == nil {
		return queue.Immediate
	}

	return c.exec
}

func (c *Conn) flush(l *link, ws []pendingWrite) {
	if c.cfg.WriteTimeout > 0 {
		_ = l.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		defer func() {
			_ = l.SetWriteDeadline(time.Time{})
		}()
	}

	errs := make([]error, len(ws))

	if c.cfg.Parameters.IsDatagram() {
		for i, w := range ws {
			if len(w.content) > 0 {
				_, errs[i] = l.Write(w.content)
			}
		}
	} else {
		bufs := make(net.Buffers, 0, len(ws))
		final := false
		for _, w := range ws {
			if len(w.content) > 0 {
				bufs = append(bufs, w.content)
			}
			final = final || (w.isComplete && w.ctx.IsFinal)
		}

		var err error
		if len(bufs) > 0 {
			_, err = bufs.WriteTo(l.Conn)
		}

		if err == nil && final {
			err = closeWrite(l.Conn)
		}

		for i := range errs {
			errs[i] = err
		}
	}

	c.mu.Lock()
	exec := c.executor()
	c.mu.Unlock()

	for i, w := range ws {
		err := errs[i]
		if err != nil {
			c.log.Debug("send failed", logger.ErrorField(err))
		}
		exec.Execute(func() { w.processed(err) })
	}
}

func closeWrite(conn net.Conn) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}

	return nil
}

// Receive implements connection.Primitive. Stream connections deliver
// between minLength and maxLength bytes; datagram connections deliver one
// datagram of up to maxLength bytes, marked complete. A request made before
// the connection is ready is served once it is. End of stream completes with
// the FinalMessage context and io.EOF.
func (c *Conn) Receive(minLength, maxLength int, completion connection.ReceiveCompletion) {
	req := readRequest{
		minLength:  max(minLength, 1),
		maxLength:  max(maxLength, minLength, 1),
		completion: completion,
	}

	c.mu.Lock()
	if c.cancelled {
		exec := c.executor()
		c.mu.Unlock()
		exec.Execute(func() { completion(nil, nil, false, ErrCancelled) })
		return
	}

	if c.link == nil {
		c.pendingRead = &req
		c.mu.Unlock()
		return
	}

	l := c.link
	c.mu.Unlock()

	go c.read(l, req)
}

func (c *Conn) read(l *link, req readRequest) {
	if c.cfg.ReadTimeout > 0 {
		_ = l.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}

	buf := make([]byte, req.maxLength)
	datagram := c.cfg.Parameters.IsDatagram()

	var n int
	var err error
	if datagram {
		n, err = l.Read(buf)
	} else {
		n, err = io.ReadAtLeast(l, buf, req.minLength)
	}

	switch {
	case err == nil, n > 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)):
		c.deliverRead(req, buf[:n], connection.DefaultMessage, datagram, nil)
	case errors.Is(err, io.EOF):
		c.deliverRead(req, nil, connection.FinalMessage, true, io.EOF)
	default:
		c.mu.Lock()
		reason := l.reason
		c.mu.Unlock()

		if reason != nil {
			err = reason
		} else {
			c.lost(l, err)
		}

		c.deliverRead(req, nil, nil, false, err)
	}
}

func (c *Conn) deliverRead(req readRequest, content []byte, ctx *connection.ContentContext, isComplete bool, err error) {
	c.mu.Lock()
	exec := c.executor()
	c.mu.Unlock()

	exec.Execute(func() { req.completion(content, ctx, isComplete, err) })
}

// MaximumDatagramSize implements connection.Primitive.
func (c *Conn) MaximumDatagramSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxDatagram
}

// CurrentPath implements connection.Primitive.
func (c *Conn) CurrentPath() *connection.Path {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == nil {
		return nil
	}

	p := *c.path
	return &p
}

// Parameters implements connection.Primitive.
func (c *Conn) Parameters() connection.Parameters { return c.cfg.Parameters }

// Endpoint implements connection.Primitive.
func (c *Conn) Endpoint() connection.Endpoint { return c.cfg.Endpoint }

// SetStateUpdateHandler implements connection.Primitive.
func (c *Conn) SetStateUpdateHandler(handler func(connection.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.state = handler
}

// SetPathUpdateHandler implements connection.Primitive.
func (c *Conn) SetPathUpdateHandler(handler func(connection.Path)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.path = handler
}

// SetViabilityUpdateHandler implements connection.Primitive.
func (c *Conn) SetViabilityUpdateHandler(handler func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.viability = handler
}

// SetBetterPathUpdateHandler implements connection.Primitive.
func (c *Conn) SetBetterPathUpdateHandler(handler func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.betterPath = handler
}

func emit[T any](exec queue.Executor, handler func(T), v T) {
	if handler == nil {
		return
	}

	if exec == nil {
		exec = queue.Immediate
	}

	exec.Execute(func() { handler(v) })
}
