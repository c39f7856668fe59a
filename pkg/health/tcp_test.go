package health

import (
	"context"
	"net"
	"testing"
)

func TestTCPCheckerHealthyEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	checker := NewTCPChecker(ln.Addr().String())
	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("expected healthy, got unhealthy: %s", result.Message)
	}
}

func TestTCPCheckerUnreachable(t *testing.T) {
	checker := NewTCPChecker("127.0.0.1:1").WithTimeout(0)
	result := checker.Check(context.Background())

	if result.Healthy {
		t.Errorf("expected unhealthy for unreachable address, got healthy")
	}
}

func TestTCPCheckerType(t *testing.T) {
	checker := NewTCPChecker("127.0.0.1:9999")
	if checker.Type() != CheckTypeTCP {
		t.Errorf("expected type %s, got %s", CheckTypeTCP, checker.Type())
	}
}
