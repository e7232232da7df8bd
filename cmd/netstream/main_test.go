package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/netstream/tcpserver"
)

func startEcho(t *testing.T) string {
	t.Helper()

	global := &globalOptions{}
	require.NoError(t, global.init())

	ctx, cancel := context.WithCancel(context.Background())
	addr := make(chan string, 1)
	done := make(chan error, 1)

	go func() {
		done <- runServe(ctx, global, &serveOptions{
			addr:  "127.0.0.1:0",
			ready: func(s *tcpserver.TCPServer) { addr <- s.Addr().String() },
		})
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("serve did not stop")
		}
	})

	select {
	case a := <-addr:
		return a
	case err := <-done:
		t.Fatalf("serve exited: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	return ""
}

func TestDial_Echo(t *testing.T) {
	addr := startEcho(t)

	for _, tc := range []struct {
		name  string
		args  []string
		input string
	}{
		{name: "single send", args: []string{"dial", addr}, input: "hello"},
		{name: "chunked", args: []string{"dial", "--chunk", "3", addr}, input: strings.Repeat("abcdefgh", 64)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			root := newRootCommand()
			root.SetArgs(tc.args)
			root.SetIn(strings.NewReader(tc.input))
			root.SetOut(&out)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			require.NoError(t, root.ExecuteContext(ctx))
			assert.Equal(t, tc.input, out.String())
		})
	}
}

func TestDial_InvalidEndpoint(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"dial", "no-port"})
	root.SetOut(&bytes.Buffer{})

	assert.Error(t, root.Execute())
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.ElementsMatch(t, []string{"dial", "serve", "browse"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("metrics-addr"))
}
