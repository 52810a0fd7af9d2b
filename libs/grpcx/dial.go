package grpcx

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// If nil, defaults to insecure credentials (suitable for local dev / inside a cluster with mTLS at mesh layer).
	TransportCredentials grpc.DialOption
}

// NewClient creates a traced client connection. It does not block; the
// connection is established on the first call.
func NewClient(addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := opts.TransportCredentials
	if creds == nil {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	dialOpts := []grpc.DialOption{
		creds,
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
	}
	return grpc.NewClient(addr, append(dialOpts, extra...)...)
}
