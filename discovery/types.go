package discovery

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
)

// Result is one service instance reported by a browse primitive.
type Result struct {
	Name   string // Instance name, e.g. "Living Room"
	Type   string // Service type, e.g. "_http._tcp"
	Domain string
	Host   string
	Port   int
	Text   []string
	Addrs  []net.IP
}

// Key identifies the service instance independently of its metadata.
func (r Result) Key() string {
	return strings.Join([]string{r.Name, r.Type, strings.TrimSuffix(r.Domain, ".")}, ".")
}

// Equal reports whether r and o carry the same key and metadata.
func (r Result) Equal(o Result) bool {
	return r.Key() == o.Key() &&
		r.Host == o.Host &&
		r.Port == o.Port &&
		slices.Equal(r.Text, o.Text) &&
		slices.EqualFunc(r.Addrs, o.Addrs, net.IP.Equal)
}

// Snapshot is an immutable set of results keyed by Result.Key.
type Snapshot struct {
	results map[string]Result
}

// NewSnapshot builds a Snapshot. Later results replace earlier ones with the
// same key.
func NewSnapshot(results []Result) Snapshot {
	m := make(map[string]Result, len(results))
	for _, r := range results {
		m[r.Key()] = r
	}

	return Snapshot{results: m}
}

// Len returns the number of services in the snapshot.
func (s Snapshot) Len() int { return len(s.results) }

// Contains reports whether a service with key is present.
func (s Snapshot) Contains(key string) bool {
	_, ok := s.results[key]
	return ok
}

// Get returns the service with key.
func (s Snapshot) Get(key string) (Result, bool) {
	r, ok := s.results[key]
	return r, ok
}

// Results returns the services ordered by key.
func (s Snapshot) Results() []Result {
	out := make([]Result, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}

	slices.SortFunc(out, func(a, b Result) int { return strings.Compare(a.Key(), b.Key()) })
	return out
}

// NativeFlags is the bit encoding browse primitives use to describe what
// changed about a service.
type NativeFlags uint32

const (
	NativeIdentical        NativeFlags = 1 << 0
	NativeInterfaceAdded   NativeFlags = 1 << 1
	NativeInterfaceRemoved NativeFlags = 1 << 2
	NativeMetadataChanged  NativeFlags = 1 << 3
)

// Flags is the closed set of change reasons exposed to consumers.
type Flags int

const (
	FlagIdentical Flags = iota
	FlagInterfaceAdded
	FlagInterfaceRemoved
	FlagMetadataChanged
)

// String returns a human-readable name for the flag.
func (f Flags) String() string {
	switch f {
	case FlagInterfaceAdded:
		return "interface-added"
	case FlagInterfaceRemoved:
		return "interface-removed"
	case FlagMetadataChanged:
		return "metadata-changed"
	default:
		return "identical"
	}
}

// FlagsFromNative maps native bits onto Flags. When several bits are set the
// most significant reason wins: metadata, then interface added, then interface
// removed. Anything else, including bits not known today, maps to
// FlagIdentical.
func FlagsFromNative(n NativeFlags) Flags {
	switch {
	case n&NativeMetadataChanged != 0:
		return FlagMetadataChanged
	case n&NativeInterfaceAdded != 0:
		return FlagInterfaceAdded
	case n&NativeInterfaceRemoved != 0:
		return FlagInterfaceRemoved
	default:
		return FlagIdentical
	}
}

// ChangeKind tells what a Change describes.
type ChangeKind int

const (
	ChangeIdentical ChangeKind = iota
	ChangeAdded
	ChangeRemoved
	ChangeChanged
)

// String returns a human-readable name for the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeChanged:
		return "changed"
	default:
		return "identical"
	}
}

// Change is one element of the change set a primitive reports with new
// results. Result is set for added, removed and identical changes; Old, New
// and Flags for changed ones.
type Change struct {
	Kind   ChangeKind
	Result Result
	Old    Result
	New    Result
	Flags  NativeFlags
}

// Added returns the change for a newly found service.
func Added(r Result) Change { return Change{Kind: ChangeAdded, Result: r} }

// Removed returns the change for a service that went away.
func Removed(r Result) Change { return Change{Kind: ChangeRemoved, Result: r} }

// Identical returns the change for a service reported again unchanged.
func Identical(r Result) Change { return Change{Kind: ChangeIdentical, Result: r} }

// Changed returns the change for a service whose metadata or interfaces
// changed.
func Changed(from, to Result, flags NativeFlags) Change {
	return Change{Kind: ChangeChanged, Old: from, New: to, Flags: flags}
}

// ChangeEvent is what DidChange delivers.
type ChangeEvent struct {
	Old   Result
	New   Result
	Flags Flags
}

// StateKind enumerates the lifecycle phases of a browse.
type StateKind int

const (
	Setup StateKind = iota
	Ready
	Waiting
	Failed
	Cancelled
)

// String returns a human-readable name for the state kind.
func (k StateKind) String() string {
	switch k {
	case Setup:
		return "setup"
	case Ready:
		return "ready"
	case Waiting:
		return "waiting"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// State is a browse lifecycle state. Err is set for Waiting and Failed.
type State struct {
	Kind StateKind
	Err  error
}

// StateOf returns the error-less state of the given kind.
func StateOf(kind StateKind) State { return State{Kind: kind} }

// Equal reports whether s and o are the same state. Errors match when they
// are identical or carry the same message.
func (s State) Equal(o State) bool {
	if s.Kind != o.Kind {
		return false
	}

	switch {
	case s.Err == nil || o.Err == nil:
		return s.Err == nil && o.Err == nil
	case errors.Is(s.Err, o.Err):
		return true
	default:
		return s.Err.Error() == o.Err.Error()
	}
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s(%v)", s.Kind, s.Err)
	}

	return s.Kind.String()
}
