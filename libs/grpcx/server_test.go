package grpcx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/md-rashed-zaman/glowslot/libs/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func startServer(t *testing.T, checks ...runtime.ReadyCheck) (string, func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv, hs := NewServer(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go WatchReadiness(ctx, hs, "availability", time.Hour, logger, checks...)
	go func() {
		_ = srv.Serve(lis)
	}()
	return lis.Addr().String(), func() {
		cancel()
		srv.Stop()
	}
}

func checkStatus(t *testing.T, addr string) (healthpb.HealthCheckResponse_ServingStatus, string) {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	outgoing := metadata.AppendToOutgoingContext(context.Background(), RequestIDMetadataKey, "req-abc")
	ctx, cancel := context.WithTimeout(outgoing, 2*time.Second)
	defer cancel()

	var header metadata.MD
	var resp *healthpb.HealthCheckResponse
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "availability"}, grpc.Header(&header))
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	id := ""
	if vals := header.Get(RequestIDMetadataKey); len(vals) > 0 {
		id = vals[0]
	}
	return resp.GetStatus(), id
}

func TestHealthServing(t *testing.T) {
	addr, stop := startServer(t, runtime.ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }})
	defer stop()

	status, id := checkStatus(t, addr)
	if status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", status)
	}
	if id != "req-abc" {
		t.Fatalf("request id not echoed, got %q", id)
	}
}

func TestHealthNotServing(t *testing.T) {
	addr, stop := startServer(t, runtime.ReadyCheck{Name: "db", Check: func(context.Context) error { return errors.New("down") }})
	defer stop()

	status, _ := checkStatus(t, addr)
	if status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", status)
	}
}
