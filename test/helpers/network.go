package helpers

import (
	"context"
	"net"
	"slices"
	"testing"
	"time"
)

// StartListeners opens n TCP listeners on 127.0.0.1 that accept and
// immediately close connections. The ports are returned ascending and the
// listeners close when the test ends.
func StartListeners(t testing.TB, n int) []uint16 {
	t.Helper()

	ports := make([]uint16, 0, n)
	for range n {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		t.Cleanup(func() { _ = listener.Close() })

		go func() {
			for {
				conn, err := listener.Accept()
				if err != nil {
					return
				}
				_ = conn.Close()
			}
		}()

		ports = append(ports, uint16(listener.Addr().(*net.TCPAddr).Port)) //nolint:gosec // TCP ports fit in uint16
	}

	slices.Sort(ports)
	return ports
}

// TestContext returns a context with timeout for tests.
func TestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// SkipIfShort skips the test in -short mode.
func SkipIfShort(t *testing.T, reason string) {
	t.Helper()
	if testing.Short() {
		t.Skipf("Skipping in short mode: %s", reason)
	}
}
