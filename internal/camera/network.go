package camera

import (
	"fmt"
	"net"
	"strings"
)

// FindSubnetPrefix derives the first three octets of the host's primary
// private IPv4 network, used when no subnet prefix is configured.
// Loopback, down and VPN interfaces are skipped.
func FindSubnetPrefix() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if isTunnelInterface(iface.Name) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || !isPrivateIPv4(ip) {
				continue
			}
			return fmt.Sprintf("%d.%d.%d", ip[0], ip[1], ip[2]), nil
		}
	}

	return "", fmt.Errorf("no suitable network interface found")
}

// isTunnelInterface reports whether the interface name looks like a VPN
// or tunnel device. Cameras are never reachable through those.
func isTunnelInterface(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"tun", "tap", "vpn", "wg"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// isPrivateIPv4 reports whether a 4-byte address falls into the RFC 1918
// ranges 10/8, 172.16/12 or 192.168/16.
func isPrivateIPv4(ip net.IP) bool {
	switch {
	case ip[0] == 10:
		return true
	case ip[0] == 172 && ip[1] >= 16 && ip[1] <= 31:
		return true
	case ip[0] == 192 && ip[1] == 168:
		return true
	}
	return false
}
