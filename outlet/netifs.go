// File: outlet/netifs.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Local interface enumeration feeding the outlet orchestrator's bind set
// and the resolver's multicast send sockets (spec §4.8/§4.9), grounded on
// original_source/src/netinterfaces.cpp's get_local_interfaces: walk every
// up, multicast-capable interface and report its unicast addresses,
// generalized here from asio's platform-specific ifaddrs/GetAdaptersAddresses
// split to net.Interfaces, which the Go standard library already makes
// portable.
package outlet

import (
	"net"
	"strings"

	"github.com/momentics/labstream/config"
)

// netif names one up, multicast-capable local interface address.
type netif struct {
	Name  string
	Index int
	IP    net.IP
}

// localInterfaces enumerates up, multicast-capable interfaces' unicast
// addresses, skipping loopback and link-local-only interfaces the way
// netinterfaces.cpp skips interfaces that are down or !IFF_MULTICAST.
func localInterfaces() ([]netif, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []netif
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip := addrOf(a)
			if ip == nil || ip.IsLoopback() {
				continue
			}
			out = append(out, netif{Name: iface.Name, Index: iface.Index, IP: ip})
		}
	}
	return out, nil
}

func addrOf(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

// filterByStack returns only the v4 (wantV4) or v6 (!wantV4) addresses.
func filterByStack(ifs []netif, wantV4 bool) []netif {
	var out []netif
	for _, f := range ifs {
		is4 := f.IP.To4() != nil
		if is4 == wantV4 {
			out = append(out, f)
		}
	}
	return out
}

// multicastTTLFor maps a config.Multicast.ResolveScope token to a TTL/hop
// limit, matching original_source/src/api_config.cpp's update_multicast_groups
// table `{machine:0, link:1, site:24, organization:32, global:255}`; unknown
// scopes fall back to site.
func multicastTTLFor(scope string) int {
	switch scope {
	case "machine":
		return 0
	case "link":
		return 1
	case "site":
		return 24
	case "organization":
		return 32
	case "global":
		return 255
	default:
		return 24
	}
}

// defaultMulticastGroupsV4 and defaultMulticastGroupsV6 are liblsl's
// well-known discovery groups for scopes at or below "site" (the default
// ResolveScope). api_config.cpp's real per-deployment defaults are not
// present in the filtered original_source tree; these are the addresses
// liblsl ships with and are what interoperating peers actually listen on.
var defaultMulticastGroupsV4 = []string{"224.0.0.183", "239.255.172.215"}

// defaultMulticastGroupsV6 mirrors the IPv6 multicast scope letters
// api_config.cpp substitutes into "FF0?<group>" for machine(1)/link(2)/
// site(5)/organization(8)/global(E).
var defaultMulticastGroupsV6 = []string{"FF05::183", "FF08::183"}

// scopeAddresses returns cfg's explicit ports.*Addresses override for scope,
// if one was configured, matching api_config.cpp's per-scope address lists
// (machine/link/site/organization/global) that a deployment can set instead
// of relying on the built-in liblsl discovery groups.
func scopeAddresses(cfg *config.Config, scope string) []string {
	switch strings.ToLower(scope) {
	case "machine":
		return cfg.Ports.MachineAddresses
	case "link":
		return cfg.Ports.LinkAddresses
	case "site":
		return cfg.Ports.SiteAddresses
	case "organization":
		return cfg.Ports.OrgAddresses
	case "global":
		return cfg.Ports.GlobalAddresses
	default:
		return nil
	}
}

// multicastGroupsForScope resolves the multicast groups an outlet should
// bind (or a resolver should send waves to) for cfg.Multicast.ResolveScope,
// preferring an explicit ports.*Addresses override over the built-in liblsl
// defaults (spec §4.8/§4.9: "resolution is bounded by a configured scope").
// v4 selects the IPv4 family; otherwise the IPv6 family is returned.
func multicastGroupsForScope(cfg *config.Config, v4 bool) []string {
	scope := strings.ToLower(cfg.Multicast.ResolveScope)
	if scope == "" {
		scope = "site"
	}
	if explicit := scopeAddresses(cfg, scope); len(explicit) > 0 {
		return filterAddressesByStack(explicit, v4)
	}
	if v4 {
		return defaultMulticastGroupsV4
	}
	return defaultMulticastGroupsV6
}

// filterAddressesByStack keeps only the addresses matching the requested IP
// family, so a mixed ports.*Addresses list can feed both the v4 and v6 join
// loops without misparsing the other family's literal.
func filterAddressesByStack(addrs []string, wantV4 bool) []string {
	var out []string
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		is4 := ip.To4() != nil
		if is4 == wantV4 {
			out = append(out, a)
		}
	}
	return out
}

// interfaceForListenAddress resolves cfg.Multicast.ListenAddress (if set) to
// the local interface owning that address, so multicast joins and sends can
// bind to the operator-chosen NIC instead of the OS default route, matching
// api_config.cpp's ListenAddress override of the multicast send/receive
// interface. Returns (nil, nil) when unset, meaning "let the OS pick".
func interfaceForListenAddress(cfg *config.Config) (*net.Interface, error) {
	addr := cfg.Multicast.ListenAddress
	if addr == "" {
		return nil, nil
	}
	want := net.ParseIP(addr)
	if want == nil {
		return nil, nil
	}
	ifs, err := localInterfaces()
	if err != nil {
		return nil, err
	}
	for _, f := range ifs {
		if f.IP.Equal(want) {
			return net.InterfaceByIndex(f.Index)
		}
	}
	return nil, nil
}
