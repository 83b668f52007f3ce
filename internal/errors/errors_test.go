package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestScanError(t *testing.T) {
	t.Run("basic error creation", func(t *testing.T) {
		err := NewScanError(CodeScanFailed, "scan failed")
		if err.Code != CodeScanFailed {
			t.Errorf("Expected code %s, got %s", CodeScanFailed, err.Code)
		}
		if err.Context == nil {
			t.Error("Context should be initialized")
		}
	})

	t.Run("error with target", func(t *testing.T) {
		err := NewScanErrorWithTarget(CodeTargetInvalid, "bad target", "10.0.0.256")
		expected := "[TARGET_INVALID] bad target (target: 10.0.0.256)"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("error without target", func(t *testing.T) {
		err := NewScanError(CodeValidation, "validation failed")
		expected := "[VALIDATION] validation failed"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("wrapped error", func(t *testing.T) {
		cause := fmt.Errorf("dial failed")
		err := WrapScanError(CodeScanFailed, "scan issue", cause)
		if !errors.Is(err, cause) {
			t.Error("Wrapped error should be unwrappable")
		}
	})

	t.Run("with context", func(t *testing.T) {
		err := NewScanError(CodeWorkersInvalid, "bad workers")
		err.WithContext("workers", 0).WithContext("max", 65535)

		if err.Context["workers"] != 0 {
			t.Errorf("Expected workers 0, got %v", err.Context["workers"])
		}
		if err.Context["max"] != 65535 {
			t.Errorf("Expected max 65535, got %v", err.Context["max"])
		}
	})
}

func TestDatabaseError(t *testing.T) {
	err := NewDatabaseError(CodeDatabaseQuery, "query failed")
	err.Operation = "insert scan"
	err.WithQuery("INSERT INTO scans")

	expected := "[DATABASE_QUERY] query failed (operation: insert scan)"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}
	if err.Query != "INSERT INTO scans" {
		t.Errorf("Expected query to be recorded, got '%s'", err.Query)
	}

	cause := fmt.Errorf("connection reset")
	wrapped := ErrDatabaseConnection(cause)
	if !errors.Is(wrapped, cause) {
		t.Error("Database error should unwrap to its cause")
	}
}

func TestConfigError(t *testing.T) {
	err := ErrConfigInvalid("scanning.workers", 0)
	expected := "[VALIDATION] Invalid configuration value (field: scanning.workers)"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}
	if err.Value != 0 {
		t.Errorf("Expected value 0, got %v", err.Value)
	}

	plain := &ConfigError{Code: CodeConfiguration, Message: "missing"}
	if plain.Error() != "[CONFIGURATION] missing" {
		t.Errorf("Unexpected message: %s", plain.Error())
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"scan error", NewScanError(CodeScanFailed, "x"), CodeScanFailed},
		{"database error", NewDatabaseError(CodeDatabaseQuery, "x"), CodeDatabaseQuery},
		{"config error", ErrConfigInvalid("f", 1), CodeValidation},
		{"wrapped scan error", fmt.Errorf("outer: %w", ErrInvalidTarget("x")), CodeTargetInvalid},
		{"plain error", fmt.Errorf("plain"), CodeUnknown},
		{"nil error", nil, CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := ErrInvalidWorkers(0)
	if !IsCode(err, CodeWorkersInvalid) {
		t.Error("Expected IsCode to match CodeWorkersInvalid")
	}
	if IsCode(err, CodeTargetInvalid) {
		t.Error("Expected IsCode not to match CodeTargetInvalid")
	}
	if IsCode(nil, CodeUnknown) {
		t.Error("nil error should never match a code")
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(WrapConfigError(CodeConfiguration, "bad", nil)) {
		t.Error("configuration errors should be fatal")
	}
	if !IsFatal(WrapDatabaseError(CodeDatabaseMigration, "migrate", nil)) {
		t.Error("migration errors should be fatal")
	}
	if IsFatal(NewScanError(CodeScanFailed, "scan")) {
		t.Error("scan failures should not be fatal")
	}
}

func TestHelperMessages(t *testing.T) {
	if msg := ErrInvalidTarget("nope").Error(); msg != "[TARGET_INVALID] not a valid IPADDR: must be IPv4 or IPv6 (target: nope)" {
		t.Errorf("unexpected message: %s", msg)
	}
	if msg := ErrInvalidWorkers(70000).Error(); msg != "[WORKERS_INVALID] invalid thread number" {
		t.Errorf("unexpected message: %s", msg)
	}
	if !IsCode(ErrNotFound("scan"), CodeNotFound) {
		t.Error("ErrNotFound should carry CodeNotFound")
	}
}
