// File: outlet/multicast.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multicast discovery-group binding with explicit TTL/hop-limit control
// (spec §4.8: "create C7 multicast responders on each configured
// multicast group with the multicast TTL"). net.ListenMulticastUDP joins
// the group but exposes no TTL knob, so the send side is wrapped with
// golang.org/x/net/ipv4 / ipv6, the same package facebook-time's go.mod
// pulls in for its own multicast-adjacent PTP transport.
package outlet

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// multicastGroup is a bound multicast discovery socket plus the interface
// it TTL/hop-limits sends on.
type multicastGroup struct {
	conn *net.UDPConn
	ttl  int
	isV6 bool
}

// joinMulticast binds addr (e.g. "239.0.0.183:16571" or an IPv6 group) on
// iface, restricts outgoing TTL/hop-limit to ttl, and returns the bound
// socket. The caller wraps it in transport/udp.NewServer(conn, ..., false)
// to run a discovery-only responder.
func joinMulticast(group *net.UDPAddr, iface *net.Interface, ttl int) (*multicastGroup, error) {
	conn, err := net.ListenMulticastUDP("udp", iface, group)
	if err != nil {
		return nil, fmt.Errorf("outlet: join multicast %s: %w", group, err)
	}

	isV6 := group.IP.To4() == nil
	if isV6 {
		pc := ipv6.NewPacketConn(conn)
		if err := pc.SetMulticastHopLimit(ttl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("outlet: set hop limit: %w", err)
		}
	} else {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastTTL(ttl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("outlet: set multicast ttl: %w", err)
		}
	}

	return &multicastGroup{conn: conn, ttl: ttl, isV6: isV6}, nil
}

func (g *multicastGroup) Close() error { return g.conn.Close() }
