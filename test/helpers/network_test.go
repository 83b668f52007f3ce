package helpers

import (
	"net"
	"strconv"
	"testing"
	"time"
)

func TestStartListeners(t *testing.T) {
	ports := StartListeners(t, 3)
	if len(ports) != 3 {
		t.Fatalf("expected 3 ports, got %d", len(ports))
	}

	for i, port := range ports {
		if i > 0 && ports[i-1] >= port {
			t.Errorf("ports not ascending: %v", ports)
		}
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))), time.Second)
		if err != nil {
			t.Errorf("port %d not accepting: %v", port, err)
			continue
		}
		_ = conn.Close()
	}
}

func TestTestDatabaseConfig(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "db.internal")
	t.Setenv("TEST_DB_PORT", "6543")
	t.Setenv("TEST_DB_NAME", "")

	cfg := TestDatabaseConfig()
	if cfg.Host != "db.internal" || cfg.Port != 6543 {
		t.Errorf("environment not applied: %+v", cfg)
	}
	if cfg.Database != "stridescan_test" {
		t.Errorf("expected default database name, got %q", cfg.Database)
	}
	if !cfg.Enabled() {
		t.Error("test database config should be enabled")
	}
}

func TestGetEnvIntOrDefault(t *testing.T) {
	t.Setenv("HELPERS_INT", "nope")
	if got := getEnvIntOrDefault("HELPERS_INT", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
}
