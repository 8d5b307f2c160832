package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/observe"
	"github.com/koizumiiiii/Baketa-sub009/internal/resilience"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the helper connection. Each RPC has its own circuit breaker.
type Client struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	metrics *observe.Metrics

	detectBreaker    *resilience.Breaker
	recognizeBreaker *resilience.Breaker
	translateBreaker *resilience.Breaker

	serving atomic.Bool
}

// New creates a helper client for addr. Extra dial options are appended
// after the defaults; tests use them to dial a bufconn listener.
func New(addr string, metrics *observe.Metrics, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}

	logState := func(name string, from, to resilience.State) {
		slog.Info("helper breaker state", "breaker", name, "from", from, "to", to)
	}
	return &Client{
		conn:             conn,
		health:           healthpb.NewHealthClient(conn),
		metrics:          metrics,
		detectBreaker:    resilience.New("ocr.detect", resilience.FastConfig()).WithHook(logState),
		recognizeBreaker: resilience.New("ocr.recognize", resilience.DefaultConfig()).WithHook(logState),
		translateBreaker: resilience.New("translation.translate", resilience.SlowConfig()).WithHook(logState),
	}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Check asks the helper's health service whether it is serving.
func (c *Client) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		c.serving.Store(false)
		return apperrors.FromGRPCError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		c.serving.Store(false)
		return apperrors.Newf(apperrors.Unavailable, "helper status %s", resp.GetStatus())
	}
	c.serving.Store(true)
	return nil
}

// WatchHealth polls Check until ctx ends, logging transitions.
func (c *Client) WatchHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	was := c.serving.Load()
	for {
		err := c.Check(ctx)
		if now := err == nil; now != was {
			if now {
				slog.Info("helper serving")
			} else {
				slog.Warn("helper not serving", "error", err)
			}
			was = now
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Serving reports the outcome of the last health check.
func (c *Client) Serving() bool { return c.serving.Load() }

// Breakers reports the state of every per-RPC breaker.
func (c *Client) Breakers() []resilience.Snapshot {
	return []resilience.Snapshot{
		c.detectBreaker.Snapshot(),
		c.recognizeBreaker.Snapshot(),
		c.translateBreaker.Snapshot(),
	}
}

// invoke sends req to method under breaker b with retries, each attempt
// bounded by timeout.
func (c *Client) invoke(ctx context.Context, method string, b *resilience.Breaker, retry resilience.RetryConfig, timeout time.Duration, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "encode request")
	}

	retry.OnRetry = func(int, time.Duration, error) {
		c.metrics.RecordHelperRequest(ctx, method, "retry")
	}
	out, err := resilience.Call(ctx, b, retry, func(ctx context.Context) (*structpb.Struct, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		out := &structpb.Struct{}
		if err := c.conn.Invoke(ctx, method, in, out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		c.metrics.RecordHelperRequest(ctx, method, "error")
		return nil, c.convert(ctx, method, err)
	}
	c.metrics.RecordHelperRequest(ctx, method, "ok")
	return out, nil
}

func (c *Client) convert(ctx context.Context, method string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, resilience.ErrOpen) {
		return apperrors.Wrap(err, apperrors.Unavailable, "helper circuit open").WithMetadata("method", method)
	}
	return apperrors.FromGRPCError(err).WithMetadata("method", method)
}
