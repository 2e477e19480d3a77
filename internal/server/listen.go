package server

import (
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
)

const (
	// PortRangeStart and PortRangeSize bound the ports tried when none is
	// configured.
	PortRangeStart = 10000
	PortRangeSize  = 1000

	maxBindAttempts = 100
)

func randomPort() int {
	return PortRangeStart + rand.IntN(PortRangeSize)
}

// listen binds host:port. Port 0 picks ports from the random range until
// one binds.
func listen(host string, port int, pick func() int) (net.Listener, error) {
	if port != 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return nil, fmt.Errorf("listen on port %d: %w", port, err)
		}
		return ln, nil
	}

	var lastErr error
	for i := 0; i < maxBindAttempts; i++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(pick())))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in [%d, %d) after %d attempts: %w",
		PortRangeStart, PortRangeStart+PortRangeSize, maxBindAttempts, lastErr)
}
