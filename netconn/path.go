package netconn

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/cyberinferno/netstream/connection"
)

const maxUDPPayload = 65507

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.IP
	case *net.UDPAddr:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

// interfaceFor returns the interface that owns ip, or nil.
func interfaceFor(ip net.IP) *net.Interface {
	if ip == nil {
		return nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && n.IP.Equal(ip) {
				return &ifaces[i]
			}
		}
	}

	return nil
}

// pathFor describes the route conn uses and returns the MTU of its
// interface, or 0 when unknown.
func pathFor(conn net.Conn) (connection.Path, int) {
	p := connection.Path{
		Status:     connection.PathSatisfied,
		LocalAddr:  conn.LocalAddr(),
		RemoteAddr: conn.RemoteAddr(),
	}

	ifi := interfaceFor(addrIP(conn.LocalAddr()))
	if ifi == nil {
		return p, 0
	}

	p.Interface = ifi.Name
	return p, ifi.MTU
}

// datagramSize is the largest UDP payload that fits in one packet on an
// interface with the given MTU.
func datagramSize(local net.IP, mtu int) int {
	if mtu <= 0 {
		return DefaultUDPDatagramSize
	}

	overhead := 20 + 8
	if local != nil && local.To4() == nil {
		overhead = 40 + 8
	}

	return min(mtu-overhead, maxUDPPayload)
}

// applyIPOptions sets the IPv4 type-of-service and TTL requested in p. IPv6
// connections are left untouched.
func applyIPOptions(conn net.Conn, p connection.Parameters) error {
	if p.TOS == 0 && p.TTL == 0 {
		return nil
	}

	if ip := addrIP(conn.RemoteAddr()); ip == nil || ip.To4() == nil {
		return nil
	}

	pc := ipv4.NewConn(conn)
	if p.TOS != 0 {
		if err := pc.SetTOS(p.TOS); err != nil {
			return fmt.Errorf("set tos %d: %w", p.TOS, err)
		}
	}

	if p.TTL != 0 {
		if err := pc.SetTTL(p.TTL); err != nil {
			return fmt.Errorf("set ttl %d: %w", p.TTL, err)
		}
	}

	return nil
}
