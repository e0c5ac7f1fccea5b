// File: resolve/groups.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The multicast groups a wave's discovery phase targets. Mirrors
// outlet/netifs.go's defaults (both are grounded on the same
// original_source/src/api_config.cpp scope table); kept as a separate
// copy rather than a shared import since resolve must not depend on
// outlet (a resolver runs standalone, with no outlet in the process).
package resolve

import (
	"net"
	"strings"

	"github.com/momentics/labstream/config"
)

var defaultMulticastGroupsV4 = []string{"224.0.0.183", "239.255.172.215"}

var defaultMulticastGroupsV6 = []string{"FF05::183", "FF08::183"}

// scopeAddresses returns cfg's explicit ports.*Addresses override for scope,
// mirroring outlet/netifs.go's scopeAddresses.
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

// multicastGroupsForScope resolves the groups a resolver's discovery wave
// should target for cfg.Multicast.ResolveScope, preferring an explicit
// ports.*Addresses override over the built-in liblsl defaults. Mirrors
// outlet/netifs.go's multicastGroupsForScope.
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
