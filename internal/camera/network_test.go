package camera

import (
	"net"
	"strings"
	"testing"
)

func TestIsPrivateIPv4(t *testing.T) {
	cases := []struct {
		ip      string
		private bool
	}{
		{"10.0.0.1", true},
		{"10.255.255.254", true},
		{"172.16.0.1", true},
		{"172.31.99.1", true},
		{"172.15.0.1", false},
		{"172.32.0.1", false},
		{"192.168.100.42", true},
		{"192.169.0.1", false},
		{"8.8.8.8", false},
	}

	for _, tc := range cases {
		ip := net.ParseIP(tc.ip).To4()
		if ip == nil {
			t.Fatalf("bad test address %s", tc.ip)
		}
		if got := isPrivateIPv4(ip); got != tc.private {
			t.Errorf("isPrivateIPv4(%s) = %v, expected %v", tc.ip, got, tc.private)
		}
	}
}

func TestIsTunnelInterface(t *testing.T) {
	for _, name := range []string{"tun0", "tap1", "wg0", "MyVPN", "utun3"} {
		if !isTunnelInterface(name) {
			t.Errorf("%s should count as a tunnel interface", name)
		}
	}
	for _, name := range []string{"eth0", "enp3s0", "wlan0", "lo"} {
		if isTunnelInterface(name) {
			t.Errorf("%s should not count as a tunnel interface", name)
		}
	}
}

func TestFindSubnetPrefix_Shape(t *testing.T) {
	prefix, err := FindSubnetPrefix()
	if err != nil {
		// Hosts without a private IPv4 interface are a legitimate outcome.
		t.Skipf("no private interface on this host: %v", err)
	}
	if strings.Count(prefix, ".") != 2 {
		t.Errorf("expected a three-octet prefix, got %q", prefix)
	}
}
