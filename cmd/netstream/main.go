// Command netstream exercises the stream adapters from the command line:
// dial a TCP or UDP endpoint, serve an echo listener, or browse DNS-SD
// services into a local or redis backed directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/metrics"
)

type globalOptions struct {
	debug       bool
	metricsAddr string

	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func (o *globalOptions) logger(component string) logger.Logger {
	level := zerolog.InfoLevel
	if o.debug {
		level = zerolog.DebugLevel
	}

	return logger.NewConsoleLogger(component, level)
}

func (o *globalOptions) init() error {
	o.registry = prometheus.NewRegistry()
	o.registry.MustRegister(collectors.NewGoCollector())

	m, err := metrics.New("netstream", o.registry)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	o.metrics = m
	return nil
}

// serveMetrics exposes the registry on metricsAddr until ctx is done. It
// returns immediately when no address is configured.
func (o *globalOptions) serveMetrics(ctx context.Context, log logger.Logger) error {
	if o.metricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              o.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", logger.Field{Key: "addr", Value: o.metricsAddr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}

	return nil
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "netstream",
		Short:         "Stream-based connections and service discovery",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.init()
		},
	}

	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	root.AddCommand(
		newDialCommand(opts),
		newServeCommand(opts),
		newBrowseCommand(opts),
	)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "netstream: %v\n", err)
		stop()
		os.Exit(1)
	}
}
