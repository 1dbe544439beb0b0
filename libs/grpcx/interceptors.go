package grpcx

import (
	"context"

	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryClientRequestIDInterceptor forwards the HTTP request id, or an id
// already carried from an inbound gRPC call, as outgoing metadata.
func UnaryClientRequestIDInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		id := httpx.RequestIDFromContext(ctx)
		if id == "" {
			id = RequestIDFromContext(ctx)
		}
		if id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, id)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func UnaryServerRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = incomingRequestID(ctx, func(md metadata.MD) error { return grpc.SetHeader(ctx, md) })
		return handler(ctx, req)
	}
}

// StreamServerRequestIDInterceptor does the same for streaming calls such as
// health Watch.
func StreamServerRequestIDInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := incomingRequestID(ss.Context(), ss.SetHeader)
		return handler(srv, &requestIDStream{ServerStream: ss, ctx: ctx})
	}
}
