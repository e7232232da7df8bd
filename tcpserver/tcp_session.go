package tcpserver

import (
	"net"

	"github.com/cyberinferno/netstream/connection"
	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/netconn"
	"github.com/cyberinferno/netstream/queue"
)

// Accepted announces a new inbound session. ID is the server-local id under
// which the session can be looked up until it reaches a terminal state. End
// of stream from the peer is delivered as a message; the consumer decides
// when to Cancel.
type Accepted struct {
	ID      uint32
	Session *connection.Session
}

func (s *TCPServer) serve(conn net.Conn, exec queue.Executor) {
	log := s.log.With(logger.Field{Key: "remote", Value: conn.RemoteAddr().String()})

	cfg := s.cfg.Conn
	cfg.Endpoint = connection.Endpoint{}
	cfg.Parameters = connection.TCP()

	prim := netconn.FromConn(conn, cfg, log)
	opts := append([]connection.Option{
		connection.WithLogger(log),
		connection.WithMetrics(s.metrics),
	}, s.sessionOpts...)
	session := connection.NewSession(prim, opts...)

	id := s.sessions.Add(session)
	s.live.Add(1)

	var finished bool
	session.StateUpdate().Subscribe(func(st connection.State) {
		if finished || !st.IsTerminal() {
			return
		}

		finished = true
		s.sessions.Remove(id)
		s.live.Done()
		log.Debug("session finished", logger.Field{Key: "state", Value: st.Kind.String()})
	})

	log.Info("connection accepted", logger.Field{Key: "session", Value: id})
	s.accepted.Emit(Accepted{ID: id, Session: session})

	session.Start(exec)
}
