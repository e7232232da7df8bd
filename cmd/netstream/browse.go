package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/netstream/cacher"
	"github.com/cyberinferno/netstream/directory"
	"github.com/cyberinferno/netstream/discovery"
	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/mdnsbrowse"
	"github.com/cyberinferno/netstream/queue"
)

type browseOptions struct {
	domain   string
	iface    string
	ipv4Only bool
	redis    string
	ttl      time.Duration
	purge    bool
}

func newBrowseCommand(global *globalOptions) *cobra.Command {
	opts := &browseOptions{}

	cmd := &cobra.Command{
		Use:   "browse [service]",
		Short: "Browse DNS-SD services and keep them in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := "_http._tcp"
			if len(args) == 1 {
				service = args[0]
			}

			return runBrowse(cmd.Context(), cmd.OutOrStdout(), global, opts, service)
		},
	}

	cmd.Flags().StringVar(&opts.domain, "domain", "local", "browse domain")
	cmd.Flags().StringVar(&opts.iface, "interface", "", "restrict multicast to this interface")
	cmd.Flags().BoolVar(&opts.ipv4Only, "ipv4-only", false, "do not use IPv6 multicast")
	cmd.Flags().StringVar(&opts.redis, "redis", "", "keep the directory in redis at this address")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "expire directory entries after this long (0: never)")
	cmd.Flags().BoolVar(&opts.purge, "purge", false, "delete this service's directory entries on exit")

	return cmd
}

func (o *browseOptions) cache(ctx context.Context) (cacher.Cacher[discovery.Result], func(), error) {
	if o.redis == "" {
		return cacher.NewMemoryCacher[discovery.Result](cache.NoExpiration, time.Minute), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: o.redis})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", o.redis, err)
	}

	return cacher.NewRedisCacher[discovery.Result](client), func() { _ = client.Close() }, nil
}

func runBrowse(ctx context.Context, out io.Writer, global *globalOptions, opts *browseOptions, service string) error {
	log := global.logger("browse")
	defer log.Close()

	cfg := mdnsbrowse.DefaultConfig(service)
	cfg.Domain = opts.domain
	cfg.IPv4Only = opts.ipv4Only
	if opts.iface != "" {
		ifi, err := net.InterfaceByName(opts.iface)
		if err != nil {
			return fmt.Errorf("interface %s: %w", opts.iface, err)
		}
		cfg.Interfaces = []net.Interface{*ifi}
	}

	store, closeStore, err := opts.cache(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	exec := queue.New("browse")
	defer exec.Close()

	browser := discovery.NewBrowser(mdnsbrowse.New(cfg, log),
		discovery.WithLogger(log),
		discovery.WithMetrics(global.metrics),
	)

	dirCfg := directory.DefaultConfig(service)
	dirCfg.TTL = opts.ttl
	dir := directory.New(browser, store, dirCfg,
		directory.WithLogger(log),
		directory.WithExecutor(exec),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if n, err := dir.Close(closeCtx, opts.purge); err != nil {
			log.Error("failed to close directory", logger.ErrorField(err))
		} else if n > 0 {
			log.Info("directory purged", logger.Field{Key: "entries", Value: n})
		}
	}()

	printEvents(browser, out)

	failed := make(chan error, 1)
	browser.StateUpdate().Subscribe(func(st discovery.State) {
		if st.Kind == discovery.Failed {
			select {
			case failed <- st.Err:
			default:
			}
		}
	})

	browser.Start(exec)
	defer browser.Cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return global.serveMetrics(gctx, log) })
	g.Go(func() error {
		select {
		case err := <-failed:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}

	listCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	services, err := dir.List(listCtx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d service(s) in directory\n", len(services))
	return nil
}

func printEvents(b *discovery.Browser, out io.Writer) {
	b.DidFind().Subscribe(func(r discovery.Result) {
		fmt.Fprintf(out, "+ %s %s\n", r.Key(), hostPort(r))
	})
	b.DidRemove().Subscribe(func(r discovery.Result) {
		fmt.Fprintf(out, "- %s\n", r.Key())
	})
	b.DidChange().Subscribe(func(e discovery.ChangeEvent) {
		fmt.Fprintf(out, "~ %s %s (%s)\n", e.New.Key(), hostPort(e.New), e.Flags)
	})
}

func hostPort(r discovery.Result) string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}
