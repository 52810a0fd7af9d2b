package grpcx

import (
	"context"

	"github.com/md-rashed-zaman/storefront/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDMetadataKey carries the request id over gRPC metadata. The id
// lives in the same context slot as for HTTP, so HTTP -> gRPC -> gRPC hops
// keep one id.
const RequestIDMetadataKey = "x-request-id"

func UnaryClientRequestIDInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if id := httpx.RequestIDFromContext(ctx); id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, id)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerRequestIDInterceptor adopts the caller's request id, or mints
// one, and echoes it in the response header.
func UnaryServerRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = incomingRequestID(ctx)
		return handler(ctx, req)
	}
}

func StreamServerRequestIDInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return handler(srv, &requestIDStream{ServerStream: ss, ctx: incomingRequestID(ss.Context())})
	}
}

type requestIDStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *requestIDStream) Context() context.Context { return s.ctx }

func incomingRequestID(ctx context.Context) context.Context {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
			id = vals[0]
		}
	}
	if !httpx.ValidRequestID(id) {
		id = httpx.NewRequestID()
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, id))
	return httpx.ContextWithRequestID(ctx, id)
}
