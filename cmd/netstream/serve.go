package main

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/netstream/connection"
	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/tcpserver"
)

type serveOptions struct {
	addr  string
	ready func(*tcpserver.TCPServer)
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Echo everything received on accepted TCP connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:7070", "listen address")

	return cmd
}

func runServe(ctx context.Context, global *globalOptions, opts *serveOptions) error {
	log := global.logger("serve")
	defer log.Close()

	srv := tcpserver.New(tcpserver.DefaultConfig(opts.addr),
		tcpserver.WithLogger(log),
		tcpserver.WithMetrics(global.metrics),
	)
	srv.Accepted().Subscribe(func(a tcpserver.Accepted) { echo(a, log) })

	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	if opts.ready != nil {
		opts.ready(srv)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return global.serveMetrics(gctx, log) })
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

// echo sends every message back and closes the session once the peer has
// finished sending.
func echo(a tcpserver.Accepted, log logger.Logger) {
	session := a.Session

	session.ReceiveMessage().Subscribe(func(m connection.Message) {
		switch {
		case errors.Is(m.Err, io.EOF):
			session.SendData(nil,
				connection.WithContentContext(connection.FinalMessage),
				connection.WithIsComplete(true),
			)
			session.Cancel()
		case m.Err != nil:
			log.Debug("session receive ended", logger.Field{Key: "session", Value: a.ID}, logger.ErrorField(m.Err))
			session.Cancel()
		default:
			session.SendBatch(m.Content)
		}
	})
}
