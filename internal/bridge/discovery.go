package bridge

import (
	"fmt"
	"net"
	"strconv"
)

// Port range scanned when no explicit port is configured.
const (
	DiscoveryBasePort  = 9223
	DiscoveryPortCount = 100
)

// Listen binds the bridge listener. An explicit port is strict: if it is
// taken Listen fails. Otherwise the first free port of the discovery range is
// used, falling back to an OS-assigned port when the whole range is busy.
func Listen(bindAddress string, port int) (net.Listener, error) {
	if port > 0 {
		l, err := net.Listen("tcp", net.JoinHostPort(bindAddress, strconv.Itoa(port)))
		if err != nil {
			return nil, fmt.Errorf("port %d is not available: %w", port, err)
		}
		return l, nil
	}

	for p := DiscoveryBasePort; p < DiscoveryBasePort+DiscoveryPortCount; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(bindAddress, strconv.Itoa(p)))
		if err == nil {
			return l, nil
		}
	}

	l, err := net.Listen("tcp", net.JoinHostPort(bindAddress, "0"))
	if err != nil {
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}
	return l, nil
}

// ListenerPort returns the TCP port l is bound to.
func ListenerPort(l net.Listener) int {
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
