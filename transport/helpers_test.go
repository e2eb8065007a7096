package transport

import (
	"net"
	"strconv"
	"testing"
)

const testHost = "127.0.0.1"

// reservePorts finds n consecutive loopback ports and keeps them bound.
// The caller owns the returned listeners.
func reservePorts(t *testing.T, n int) (uint16, []net.Listener) {
	t.Helper()

	for attempt := 0; attempt < 20; attempt++ {
		first, err := net.Listen("tcp", net.JoinHostPort(testHost, "0"))
		if err != nil {
			t.Fatalf("Failed to bind ephemeral port: %v", err)
		}
		start := first.Addr().(*net.TCPAddr).Port
		if start+n-1 > int(MaxValidPort) {
			first.Close()
			continue
		}

		held := []net.Listener{first}
		ok := true
		for p := start + 1; p < start+n; p++ {
			ln, err := net.Listen("tcp", net.JoinHostPort(testHost, strconv.Itoa(p)))
			if err != nil {
				ok = false
				break
			}
			held = append(held, ln)
		}
		if ok {
			return uint16(start), held
		}
		closeAll(held)
	}

	t.Skip("could not reserve a block of consecutive ports")
	return 0, nil
}

func closeAll(listeners []net.Listener) {
	for _, ln := range listeners {
		ln.Close()
	}
}

// freePort returns a loopback port that was free a moment ago and now
// refuses connections.
func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort(testHost, "0"))
	if err != nil {
		t.Fatalf("Failed to bind ephemeral port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return uint16(port)
}
