package redisconn

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenHealthCheckClose(t *testing.T) {
	mr := miniredis.RunT(t)

	conn, err := Open(context.Background(), Settings{Addr: mr.Addr()}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := conn.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if err := conn.Client().Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail after Close")
	}
}

func TestOpenFailsWhenUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := Open(context.Background(), Settings{Addr: addr}, nil); err == nil {
		t.Fatal("expected Open to fail against a stopped server")
	}
}
