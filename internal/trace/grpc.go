package trace

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryClientInterceptor propagates trace and run ids on helper-process calls.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(outgoing(ctx), method, req, reply, cc, opts...)
	}
}

func outgoing(ctx context.Context) context.Context {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
		ctx = WithContext(ctx, tc)
	}
	pairs := []string{TraceIDKey, tc.TraceID, SpanIDKey, tc.SpanID}
	if tc.RunID != "" {
		pairs = append(pairs, RunIDKey, tc.RunID)
	}
	if tc.ContextID != "" {
		pairs = append(pairs, ContextIDKey, tc.ContextID)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}
