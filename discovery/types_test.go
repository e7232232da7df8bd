package discovery

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagsFromNative(t *testing.T) {
	tests := []struct {
		name   string
		native NativeFlags
		want   Flags
	}{
		{"identical", NativeIdentical, FlagIdentical},
		{"none", 0, FlagIdentical},
		{"interface added", NativeInterfaceAdded, FlagInterfaceAdded},
		{"interface removed", NativeInterfaceRemoved, FlagInterfaceRemoved},
		{"metadata", NativeMetadataChanged, FlagMetadataChanged},
		{"metadata wins", NativeMetadataChanged | NativeInterfaceAdded | NativeInterfaceRemoved, FlagMetadataChanged},
		{"added beats removed", NativeInterfaceAdded | NativeInterfaceRemoved, FlagInterfaceAdded},
		{"unknown bits", 1 << 9, FlagIdentical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlagsFromNative(tt.native))
		})
	}
}

func TestResult_Key(t *testing.T) {
	r := Result{Name: "printer", Type: "_ipp._tcp", Domain: "local."}
	assert.Equal(t, "printer._ipp._tcp.local", r.Key())
	assert.Equal(t, r.Key(), Result{Name: "printer", Type: "_ipp._tcp", Domain: "local"}.Key())
}

func TestResult_Equal(t *testing.T) {
	a := Result{Name: "a", Type: "_x._tcp", Domain: "local", Port: 1, Text: []string{"k=v"}, Addrs: []net.IP{net.IPv4(10, 0, 0, 1)}}
	b := a
	b.Addrs = []net.IP{net.ParseIP("10.0.0.1")}
	assert.True(t, a.Equal(b))

	b.Text = []string{"k=w"}
	assert.False(t, a.Equal(b))
}

func TestSnapshot(t *testing.T) {
	a := Result{Name: "a", Type: "_x._tcp", Domain: "local"}
	b := Result{Name: "b", Type: "_x._tcp", Domain: "local"}
	s := NewSnapshot([]Result{b, a, b})

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(a.Key()))
	got, ok := s.Get(b.Key())
	assert.True(t, ok)
	assert.Equal(t, b, got)
	assert.Equal(t, []Result{a, b}, s.Results())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestState_Equal(t *testing.T) {
	assert.True(t, StateOf(Ready).Equal(StateOf(Ready)))
	assert.False(t, StateOf(Ready).Equal(StateOf(Setup)))
	assert.True(t, State{Kind: Failed, Err: errors.New("x")}.Equal(State{Kind: Failed, Err: errors.New("x")}))
	assert.False(t, State{Kind: Failed, Err: errors.New("x")}.Equal(StateOf(Failed)))
	assert.Equal(t, "failed(x)", State{Kind: Failed, Err: errors.New("x")}.String())
}
