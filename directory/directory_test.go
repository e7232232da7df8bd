package directory

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/netstream/cacher"
	"github.com/cyberinferno/netstream/discovery"
	"github.com/cyberinferno/netstream/queue"
)

type fakeBrowse struct {
	onResults func([]discovery.Result, []discovery.Change)
	onState   func(discovery.State)
}

func (f *fakeBrowse) Start(queue.Executor) {}
func (f *fakeBrowse) Cancel()              {}

func (f *fakeBrowse) SetResultsChangedHandler(h func([]discovery.Result, []discovery.Change)) {
	f.onResults = h
}

func (f *fakeBrowse) SetStateUpdateHandler(h func(discovery.State)) { f.onState = h }

func service(name string, port int) discovery.Result {
	return discovery.Result{
		Name:   name,
		Type:   "_http._tcp",
		Domain: "local.",
		Host:   name + ".local.",
		Port:   port,
		Addrs:  []net.IP{net.IPv4(10, 0, 0, 1)},
	}
}

func setup(t *testing.T) (*fakeBrowse, *discovery.Browser, *cacher.MemoryCacher[discovery.Result], *Directory) {
	t.Helper()

	p := &fakeBrowse{}
	b := discovery.NewBrowser(p)
	c := cacher.NewMemoryCacher[discovery.Result](cache.NoExpiration, time.Minute)
	d := New(b, c, DefaultConfig("_http._tcp"))
	t.Cleanup(func() { _, _ = d.Close(context.Background(), false) })

	return p, b, c, d
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("_ipp._tcp")
	assert.Equal(t, "netstream:services:_ipp._tcp:", cfg.Prefix)
	assert.Equal(t, time.Duration(0), cfg.TTL)
	assert.Equal(t, 5*time.Second, cfg.OpTimeout)
}

func TestDirectory_FollowsBrowser(t *testing.T) {
	p, _, c, d := setup(t)
	ctx := context.Background()

	kitchen := service("kitchen", 80)
	hall := service("hall", 80)

	p.onResults([]discovery.Result{kitchen, hall}, []discovery.Change{
		discovery.Added(kitchen),
		discovery.Added(hall),
	})

	list, err := d.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []discovery.Result{hall, kitchen}, list)

	t.Run("changed replaces the entry", func(t *testing.T) {
		moved := service("kitchen", 8080)
		p.onResults([]discovery.Result{moved, hall}, []discovery.Change{
			discovery.Changed(kitchen, moved, discovery.NativeMetadataChanged),
		})

		got, ok, err := c.Get(ctx, "netstream:services:_http._tcp:"+kitchen.Key())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 8080, got.Port)
	})

	t.Run("removed deletes the entry", func(t *testing.T) {
		p.onResults([]discovery.Result{service("kitchen", 8080)}, []discovery.Change{
			discovery.Removed(hall),
		})

		list, err := d.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "kitchen", list[0].Name)
	})
}

func TestDirectory_Resolve(t *testing.T) {
	p, _, c, d := setup(t)
	ctx := context.Background()

	office := service("office", 631)
	p.onResults([]discovery.Result{office}, nil)

	t.Run("falls back to the snapshot and caches it", func(t *testing.T) {
		got, err := d.Resolve(ctx, office.Key())
		require.NoError(t, err)
		assert.Equal(t, office, got)
		assert.Equal(t, 1, c.ItemCount())
	})

	t.Run("unknown service", func(t *testing.T) {
		_, err := d.Resolve(ctx, "missing._http._tcp.local")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDirectory_Sync(t *testing.T) {
	p, _, c, d := setup(t)
	ctx := context.Background()

	stale := service("stale", 1)
	require.NoError(t, c.Set(ctx, "netstream:services:_http._tcp:"+stale.Key(), stale, 0))
	require.NoError(t, c.Set(ctx, "other:keep", stale, 0))

	live := service("live", 2)
	p.onResults([]discovery.Result{live}, nil)

	require.NoError(t, d.Sync(ctx))

	list, err := d.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []discovery.Result{live}, list)

	_, ok, err := c.Get(ctx, "other:keep")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDirectory_Close(t *testing.T) {
	p, _, c, d := setup(t)
	ctx := context.Background()

	a := service("a", 1)
	p.onResults([]discovery.Result{a}, []discovery.Change{discovery.Added(a)})

	n, err := d.Close(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	t.Run("detached from the browser", func(t *testing.T) {
		b := service("b", 2)
		p.onResults([]discovery.Result{a, b}, []discovery.Change{discovery.Added(b)})
		assert.Equal(t, 0, c.ItemCount())
	})
}

func TestDirectory_Executor(t *testing.T) {
	p := &fakeBrowse{}
	b := discovery.NewBrowser(p)
	c := cacher.NewMemoryCacher[discovery.Result](cache.NoExpiration, time.Minute)

	q := queue.New("directory-test")
	defer q.Close()

	d := New(b, c, DefaultConfig("_http._tcp"), WithExecutor(q))
	defer d.Close(context.Background(), false)

	a := service("a", 1)
	p.onResults([]discovery.Result{a}, []discovery.Change{discovery.Added(a)})

	q.Sync(func() {})
	assert.Equal(t, 1, c.ItemCount())
}
