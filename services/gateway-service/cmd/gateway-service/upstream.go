package main

import (
	"context"

	"github.com/md-rashed-zaman/storefront/libs/grpcx"
	"google.golang.org/grpc"
)

// upstreamHealth asks the scheduling service's gRPC health endpoint whether it
// is serving.
type upstreamHealth struct {
	conn  *grpc.ClientConn
	check func(context.Context) error
}

func newUpstreamHealth(addr, service string) (*upstreamHealth, error) {
	conn, err := grpcx.NewClient(addr, grpcx.DialOptions{})
	if err != nil {
		return nil, err
	}
	return &upstreamHealth{conn: conn, check: grpcx.HealthCheck(conn, service)}, nil
}

func (p *upstreamHealth) Check(ctx context.Context) error {
	return p.check(ctx)
}

func (p *upstreamHealth) Close() {
	_ = p.conn.Close()
}
