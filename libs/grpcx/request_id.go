package grpcx

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type ctxKey int

const ctxKeyRequestID ctxKey = iota

// RequestIDMetadataKey is the lowercase metadata form of the HTTP X-Request-Id header.
const RequestIDMetadataKey = "x-request-id"

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func NewRequestID() string {
	return uuid.NewString()
}

// incomingRequestID returns the caller's id or a fresh one, and echoes it in
// the response header.
func incomingRequestID(ctx context.Context, setHeader func(metadata.MD) error) context.Context {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
			id = vals[0]
		}
	}
	if id == "" {
		id = NewRequestID()
	}
	_ = setHeader(metadata.Pairs(RequestIDMetadataKey, id))
	return WithRequestID(ctx, id)
}

type requestIDStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *requestIDStream) Context() context.Context { return s.ctx }
