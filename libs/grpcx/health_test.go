package grpcx

import (
	"context"
	"net"
	"testing"

	"github.com/md-rashed-zaman/storefront/libs/httpx"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func startHealthServer(t *testing.T, services ...string) (*grpc.ClientConn, func(string, healthpb.HealthCheckResponse_ServingStatus)) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv, hs := NewServer(services...)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := NewClient(lis.Addr().String(), DialOptions{})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, hs.SetServingStatus
}

func TestHealthCheck(t *testing.T) {
	conn, setStatus := startHealthServer(t, "scheduling")

	check := HealthCheck(conn, "scheduling")
	if err := check(context.Background()); err != nil {
		t.Fatalf("expected serving, got %v", err)
	}

	setStatus("scheduling", healthpb.HealthCheckResponse_NOT_SERVING)
	if err := check(context.Background()); err == nil {
		t.Fatal("expected error when not serving")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	conn, _ := startHealthServer(t)
	client := healthpb.NewHealthClient(conn)

	var header metadata.MD
	ctx := httpx.ContextWithRequestID(context.Background(), "req-42")
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{}, grpc.Header(&header)); err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := header.Get(RequestIDMetadataKey); len(got) != 1 || got[0] != "req-42" {
		t.Fatalf("expected echoed request id, got %v", got)
	}

	header = nil
	if _, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{}, grpc.Header(&header)); err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := header.Get(RequestIDMetadataKey); len(got) != 1 || got[0] == "" {
		t.Fatalf("expected minted request id, got %v", got)
	}
}
