package mdnsbrowse

import (
	"net"
	"slices"
	"time"

	"github.com/libp2p/zeroconf/v2"

	"github.com/cyberinferno/netstream/discovery"
)

type tracked struct {
	result discovery.Result
	expiry time.Time
}

// tracker turns the stream of zeroconf entries into result sets and change
// sets. It is not safe for concurrent use.
type tracker struct {
	services map[string]tracked
}

func newTracker() *tracker {
	return &tracker{services: make(map[string]tracked)}
}

func resultFromEntry(e *zeroconf.ServiceEntry) discovery.Result {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)

	return discovery.Result{
		Name:   e.Instance,
		Type:   e.Service,
		Domain: e.Domain,
		Host:   e.HostName,
		Port:   e.Port,
		Text:   slices.Clone(e.Text),
		Addrs:  addrs,
	}
}

// observe records one announcement. A zero or past expiry is a goodbye.
func (t *tracker) observe(r discovery.Result, expiry time.Time, now time.Time) []discovery.Change {
	key := r.Key()
	old, known := t.services[key]

	if expiry.IsZero() || !expiry.After(now) {
		if !known {
			return nil
		}

		delete(t.services, key)
		return []discovery.Change{discovery.Removed(old.result)}
	}

	t.services[key] = tracked{result: r, expiry: expiry}

	if !known {
		return []discovery.Change{discovery.Added(r)}
	}

	flags := diffFlags(old.result, r)
	if flags == discovery.NativeIdentical {
		return []discovery.Change{discovery.Identical(r)}
	}

	return []discovery.Change{discovery.Changed(old.result, r, flags)}
}

// expire drops services whose records ran out before now.
func (t *tracker) expire(now time.Time) []discovery.Change {
	var changes []discovery.Change
	for key, s := range t.services {
		if s.expiry.After(now) {
			continue
		}

		delete(t.services, key)
		changes = append(changes, discovery.Removed(s.result))
	}

	slices.SortFunc(changes, func(a, b discovery.Change) int {
		return compareKeys(a.Result, b.Result)
	})

	return changes
}

func (t *tracker) results() []discovery.Result {
	out := make([]discovery.Result, 0, len(t.services))
	for _, s := range t.services {
		out = append(out, s.result)
	}

	slices.SortFunc(out, compareKeys)
	return out
}

func compareKeys(a, b discovery.Result) int {
	switch ka, kb := a.Key(), b.Key(); {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	default:
		return 0
	}
}

// diffFlags encodes what changed between two announcements of one service.
func diffFlags(old, new discovery.Result) discovery.NativeFlags {
	var flags discovery.NativeFlags

	if old.Host != new.Host || old.Port != new.Port || !slices.Equal(old.Text, new.Text) {
		flags |= discovery.NativeMetadataChanged
	}

	if slices.ContainsFunc(new.Addrs, func(ip net.IP) bool { return !containsIP(old.Addrs, ip) }) {
		flags |= discovery.NativeInterfaceAdded
	}

	if slices.ContainsFunc(old.Addrs, func(ip net.IP) bool { return !containsIP(new.Addrs, ip) }) {
		flags |= discovery.NativeInterfaceRemoved
	}

	if flags == 0 {
		return discovery.NativeIdentical
	}

	return flags
}

func containsIP(ips []net.IP, ip net.IP) bool {
	return slices.ContainsFunc(ips, ip.Equal)
}
