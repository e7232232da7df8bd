package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/netstream/connection"
	"github.com/cyberinferno/netstream/netconn"
	"github.com/cyberinferno/netstream/queue"
)

type dialOptions struct {
	udp     bool
	chunk   int
	restart time.Duration
}

func newDialCommand(global *globalOptions) *cobra.Command {
	opts := &dialOptions{}

	cmd := &cobra.Command{
		Use:   "dial host:port",
		Short: "Send stdin to an endpoint and print what comes back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := connection.ParseEndpoint(args[0])
			if err != nil {
				return err
			}

			return runDial(cmd, global, opts, endpoint)
		},
	}

	cmd.Flags().BoolVar(&opts.udp, "udp", false, "use UDP instead of TCP")
	cmd.Flags().IntVar(&opts.chunk, "chunk", 0, "split sends into chunks of at most this many bytes (0: path maximum)")
	cmd.Flags().DurationVar(&opts.restart, "restart", 0, "reconnect this long after the connection is lost (0: never)")

	return cmd
}

func runDial(cmd *cobra.Command, global *globalOptions, opts *dialOptions, endpoint connection.Endpoint) error {
	log := global.logger("dial")
	defer log.Close()

	cfg := netconn.DefaultConfig(endpoint)
	cfg.RestartInterval = opts.restart
	if opts.udp {
		cfg.Parameters = connection.UDP()
	}

	exec := queue.New("dial")
	defer exec.Close()

	session := connection.NewSession(netconn.New(cfg, log),
		connection.WithLogger(log),
		connection.WithMetrics(global.metrics),
	)
	defer session.Cancel()

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	out := cmd.OutOrStdout()
	received := session.ReceiveMessage().Subscribe(func(m connection.Message) {
		if len(m.Content) > 0 {
			_, _ = out.Write(m.Content)
		}

		switch {
		case errors.Is(m.Err, io.EOF):
			finish(nil)
		case m.Err != nil:
			finish(m.Err)
		}
	})
	defer received.Cancel()

	// Input is only read once the connection is ready; sends issued before
	// that would be rejected by the primitive.
	var startPump sync.Once
	in := cmd.InOrStdin()
	states := session.StateUpdate().Subscribe(func(st connection.State) {
		switch st.Kind {
		case connection.Ready:
			startPump.Do(func() { go pump(session, in, opts, finish) })
		case connection.Failed:
			finish(st.Err)
		}
	})
	defer states.Cancel()

	session.Start(exec)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return global.serveMetrics(gctx, log) })
	g.Go(func() error {
		defer cancel()

		select {
		case err := <-done:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	return g.Wait()
}

// pump sends stdin until end of input. Stream connections are then
// half-closed with an empty final message.
func pump(session *connection.Session, in io.Reader, opts *dialOptions, finish func(error)) {
	sendOpts := []connection.SendOption{
		connection.WithCompletion(connection.NewSendCompletion(func(err error) {
			if err != nil {
				finish(fmt.Errorf("send: %w", err))
			}
		})),
	}
	if opts.chunk > 0 {
		sendOpts = append(sendOpts, connection.WithMaxDatagramSize(opts.chunk))
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			session.SendBatch(append([]byte(nil), buf[:n]...), sendOpts...)
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			finish(fmt.Errorf("read input: %w", err))
			return
		}
	}

	if opts.udp {
		return
	}

	session.SendData(nil,
		connection.WithContentContext(connection.FinalMessage),
		connection.WithIsComplete(true),
		connection.WithCompletion(connection.NewSendCompletion(func(err error) {
			if err != nil {
				finish(err)
			}
		})),
	)
}
