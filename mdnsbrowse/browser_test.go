package mdnsbrowse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/zeroconf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/netstream/discovery"
	"github.com/cyberinferno/netstream/queue"
)

const waitFor = 5 * time.Second

// fakeBrowse returns a browse function that sends the given entries and then
// blocks until cancelled, closing the channel like zeroconf does.
func fakeBrowse(announce ...*zeroconf.ServiceEntry) browseFunc {
	return func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
		defer close(entries)

		for _, e := range announce {
			select {
			case entries <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		<-ctx.Done()
		return ctx.Err()
	}
}

func TestBrowser_WithDiscoveryAdapter(t *testing.T) {
	now := time.Now()
	b := New(DefaultConfig("_demo._tcp"), nil)
	b.browse = fakeBrowse(
		entry("kitchen", 80, now.Add(time.Hour)),
		entry("hall", 80, now.Add(time.Hour)),
		entry("kitchen", 80, now.Add(time.Hour), "v=2"),
		entry("hall", 80, time.Time{}),
	)

	q := queue.New("browse-test")
	defer q.Close()

	adapter := discovery.NewBrowser(b)

	var mu sync.Mutex
	var found, removed []string
	var changed []discovery.ChangeEvent
	defer adapter.DidFind().Subscribe(func(r discovery.Result) {
		mu.Lock()
		defer mu.Unlock()
		found = append(found, r.Name)
	}).Cancel()
	defer adapter.DidRemove().Subscribe(func(r discovery.Result) {
		mu.Lock()
		defer mu.Unlock()
		removed = append(removed, r.Name)
	}).Cancel()
	defer adapter.DidChange().Subscribe(func(e discovery.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		changed = append(changed, e)
	}).Cancel()

	adapter.Start(q)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(removed) == 1
	}, waitFor, 5*time.Millisecond)

	q.Sync(func() {})

	mu.Lock()
	assert.Equal(t, []string{"kitchen", "hall"}, found)
	assert.Equal(t, []string{"hall"}, removed)
	require.Len(t, changed, 1)
	assert.Equal(t, discovery.FlagMetadataChanged, changed[0].Flags)
	assert.Equal(t, []string{"v=2"}, changed[0].New.Text)
	mu.Unlock()

	var snapshot discovery.Snapshot
	q.Sync(func() { snapshot = adapter.Snapshot() })
	require.Equal(t, 1, snapshot.Len())
	assert.Equal(t, "kitchen", snapshot.Results()[0].Name)

	var state discovery.State
	q.Sync(func() { state = adapter.StateUpdate().Value() })
	assert.Equal(t, discovery.Ready, state.Kind)

	adapter.Cancel()
	require.Eventually(t, func() bool {
		var kind discovery.StateKind
		q.Sync(func() { kind = adapter.StateUpdate().Value().Kind })
		return kind == discovery.Cancelled
	}, waitFor, 5*time.Millisecond)
}

func TestBrowser_Expiry(t *testing.T) {
	var mu sync.Mutex
	clock := time.Unix(1000, 0)

	cfg := DefaultConfig("_demo._tcp")
	cfg.SweepInterval = 5 * time.Millisecond
	b := New(cfg, nil)
	b.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	b.browse = fakeBrowse(entry("printer", 631, clock.Add(time.Minute)))

	var changes []discovery.Change
	var cmu sync.Mutex
	b.SetResultsChangedHandler(func(_ []discovery.Result, c []discovery.Change) {
		cmu.Lock()
		defer cmu.Unlock()
		changes = append(changes, c...)
	})

	b.Start(queue.Immediate)
	defer b.Cancel()

	require.Eventually(t, func() bool {
		cmu.Lock()
		defer cmu.Unlock()
		return len(changes) == 1
	}, waitFor, time.Millisecond)

	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()

	require.Eventually(t, func() bool {
		cmu.Lock()
		defer cmu.Unlock()
		return len(changes) == 2
	}, waitFor, time.Millisecond)

	cmu.Lock()
	defer cmu.Unlock()
	assert.Equal(t, discovery.ChangeAdded, changes[0].Kind)
	assert.Equal(t, discovery.ChangeRemoved, changes[1].Kind)
	assert.Equal(t, "printer", changes[1].Result.Name)
}

func TestBrowser_BrowseFailure(t *testing.T) {
	b := New(DefaultConfig("_demo._tcp"), nil)
	b.browse = func(context.Context, string, string, chan<- *zeroconf.ServiceEntry, ...zeroconf.ClientOption) error {
		return errors.New("no multicast interface")
	}

	var mu sync.Mutex
	var states []discovery.State
	b.SetStateUpdateHandler(func(st discovery.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	})

	b.Start(queue.Immediate)
	defer b.Cancel()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, waitFor, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, discovery.Ready, states[0].Kind)
	assert.Equal(t, discovery.Failed, states[1].Kind)
	assert.ErrorContains(t, states[1].Err, "no multicast interface")
}

func TestBrowser_ClientOptions(t *testing.T) {
	cfg := DefaultConfig("_demo._tcp")
	assert.Empty(t, New(cfg, nil).clientOptions())

	cfg.IPv4Only = true
	assert.Len(t, New(cfg, nil).clientOptions(), 1)
}
