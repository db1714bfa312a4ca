// Package netinfo finds the addresses a viewer on the LAN can reach the
// host on.
package netinfo

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"

	psnet "github.com/shirou/gopsutil/v4/net"
)

type Address struct {
	Interface string
	IP        netip.Addr
}

// Private reports RFC 1918 and unique local addresses.
func (a Address) Private() bool { return a.IP.IsPrivate() }

// LANAddresses lists the unicast addresses of every interface that is up,
// excluding loopback and link-local. Private IPv4 addresses sort first.
func LANAddresses() ([]Address, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	return fromInterfaces(ifaces), nil
}

func fromInterfaces(ifaces []psnet.InterfaceStat) []Address {
	var out []Address
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, ok := parseAddr(a.Addr)
			if !ok || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
				continue
			}
			out = append(out, Address{Interface: iface.Name, IP: ip})
		}
	}
	slices.SortStableFunc(out, func(a, b Address) int { return cmp.Compare(rank(a), rank(b)) })
	return out
}

func rank(a Address) int {
	switch {
	case a.IP.Is4() && a.Private():
		return 0
	case a.IP.Is4():
		return 1
	case a.Private():
		return 2
	}
	return 3
}

// parseAddr accepts CIDR or bare forms.
func parseAddr(s string) (netip.Addr, bool) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Addr().Unmap(), true
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}
