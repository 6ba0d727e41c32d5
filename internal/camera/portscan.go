package camera

import (
	"net"
	"strconv"
	"time"
)

// ProbePort reports whether a TCP connect to host:port succeeds within
// timeout. Any error counts as closed; a successful connection is closed
// immediately so the scan never leaks sockets.
func ProbePort(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
