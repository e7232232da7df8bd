package discovery

import (
	"errors"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/netstream/metrics"
	"github.com/cyberinferno/netstream/queue"
)

type fakeBrowsePrimitive struct {
	started   []queue.Executor
	cancelled int
	onResults func([]Result, []Change)
	onState   func(State)
}

func (f *fakeBrowsePrimitive) Start(exec queue.Executor) { f.started = append(f.started, exec) }
func (f *fakeBrowsePrimitive) Cancel()                   { f.cancelled++ }

func (f *fakeBrowsePrimitive) SetResultsChangedHandler(h func([]Result, []Change)) {
	f.onResults = h
}

func (f *fakeBrowsePrimitive) SetStateUpdateHandler(h func(State)) { f.onState = h }

func service(name string, port int, txt ...string) Result {
	return Result{
		Name:   name,
		Type:   "_demo._tcp",
		Domain: "local.",
		Host:   name + ".local.",
		Port:   port,
		Text:   txt,
		Addrs:  []net.IP{net.IPv4(192, 168, 1, 10)},
	}
}

func TestBrowser_ResultsChanged(t *testing.T) {
	p := &fakeBrowsePrimitive{}
	b := NewBrowser(p)

	var found, removed []Result
	var changed []ChangeEvent
	var snapshots []Snapshot
	defer b.DidFind().Subscribe(func(r Result) { found = append(found, r) }).Cancel()
	defer b.DidRemove().Subscribe(func(r Result) { removed = append(removed, r) }).Cancel()
	defer b.DidChange().Subscribe(func(e ChangeEvent) { changed = append(changed, e) }).Cancel()
	defer b.Services().Subscribe(func(s Snapshot) { snapshots = append(snapshots, s) }).Cancel()

	require.Len(t, snapshots, 1)
	assert.Equal(t, 0, snapshots[0].Len())

	kitchen := service("kitchen", 80)
	hall := service("hall", 80)
	oldDesk := service("desk", 80, "v=1")
	newDesk := service("desk", 80, "v=2")

	p.onResults([]Result{kitchen, newDesk}, []Change{
		Added(kitchen),
		Removed(hall),
		Changed(oldDesk, newDesk, NativeMetadataChanged),
	})

	assert.Equal(t, []Result{kitchen}, found)
	assert.Equal(t, []Result{hall}, removed)
	require.Len(t, changed, 1)
	assert.Equal(t, ChangeEvent{Old: oldDesk, New: newDesk, Flags: FlagMetadataChanged}, changed[0])

	require.Len(t, snapshots, 2)
	assert.Equal(t, []Result{newDesk, kitchen}, snapshots[1].Results())
	assert.Equal(t, snapshots[1], b.Snapshot())

	t.Run("identical changes are not emitted", func(t *testing.T) {
		p.onResults([]Result{kitchen, newDesk}, []Change{Identical(kitchen)})
		assert.Len(t, found, 1)
		assert.Len(t, removed, 1)
		assert.Len(t, changed, 1)
		assert.Len(t, snapshots, 3)
	})

	t.Run("late subscriber sees the live set", func(t *testing.T) {
		var late []Snapshot
		b.Services().Subscribe(func(s Snapshot) { late = append(late, s) }).Cancel()
		require.Len(t, late, 1)
		assert.True(t, late[0].Contains(kitchen.Key()))
		assert.False(t, late[0].Contains(hall.Key()))
	})
}

func TestBrowser_StateUpdate(t *testing.T) {
	p := &fakeBrowsePrimitive{}
	b := NewBrowser(p)

	var got []State
	defer b.StateUpdate().Subscribe(func(s State) { got = append(got, s) }).Cancel()

	denied := errors.New("permission denied")
	p.onState(StateOf(Setup))
	p.onState(StateOf(Ready))
	p.onState(StateOf(Ready))
	p.onState(State{Kind: Failed, Err: denied})
	p.onState(State{Kind: Failed, Err: errors.New("permission denied")})
	p.onState(StateOf(Cancelled))

	assert.Equal(t, []State{
		StateOf(Setup),
		StateOf(Ready),
		{Kind: Failed, Err: denied},
		StateOf(Cancelled),
	}, got)
}

func TestBrowser_StartCancel(t *testing.T) {
	p := &fakeBrowsePrimitive{}
	b := NewBrowser(p)

	b.Start(queue.Immediate)
	b.Cancel()

	assert.Equal(t, []queue.Executor{queue.Immediate}, p.started)
	assert.Equal(t, 1, p.cancelled)
}

func TestBrowser_Metrics(t *testing.T) {
	m, err := metrics.New("test", nil)
	require.NoError(t, err)

	p := &fakeBrowsePrimitive{}
	NewBrowser(p, WithMetrics(m))

	a, c := service("a", 1), service("c", 3)
	p.onResults([]Result{a}, []Change{Added(a), Added(c), Removed(c)})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ServiceChanges.WithLabelValues("added")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ServiceChanges.WithLabelValues("removed")))
}
