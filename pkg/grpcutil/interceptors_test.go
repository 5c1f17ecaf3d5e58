package grpcutil

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestLoggingUnaryInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	interceptor := LoggingUnaryInterceptor(logger)

	t.Run("successful call", func(t *testing.T) {
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return "response", nil
		}

		info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
		resp, err := interceptor(context.Background(), "request", info, handler)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if resp != "response" {
			t.Errorf("response = %v, want %v", resp, "response")
		}
	})

	t.Run("failed call", func(t *testing.T) {
		expectedErr := status.Error(codes.NotFound, "not found")
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, expectedErr
		}

		info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
		resp, err := interceptor(context.Background(), "request", info, handler)

		if err != expectedErr {
			t.Errorf("error = %v, want %v", err, expectedErr)
		}
		if resp != nil {
			t.Errorf("response = %v, want nil", resp)
		}
		if !strings.Contains(buf.String(), "level=WARN") {
			t.Errorf("client error not logged at warn level: %q", buf.String())
		}
	})

	t.Run("server fault", func(t *testing.T) {
		buf.Reset()
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, status.Error(codes.Internal, "boom")
		}

		info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
		interceptor(context.Background(), "request", info, handler)

		if !strings.Contains(buf.String(), "level=ERROR") {
			t.Errorf("server fault not logged at error level: %q", buf.String())
		}
	})

	t.Run("logs session", func(t *testing.T) {
		buf.Reset()
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return "response", nil
		}

		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(SessionMetadataKey, "sess-1"))
		info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
		interceptor(ctx, "request", info, handler)

		if !strings.Contains(buf.String(), "session=sess-1") {
			t.Errorf("log output = %q, want session=sess-1", buf.String())
		}
	})
}

func TestTracingUnaryInterceptor(t *testing.T) {
	interceptor := TracingUnaryInterceptor("test")
	wantErr := errors.New("failed")

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, wantErr
	}

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
	if _, err := interceptor(context.Background(), "request", info, handler); err != wantErr {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	logger := slog.Default()
	interceptor := RecoveryUnaryInterceptor(logger)

	t.Run("no panic", func(t *testing.T) {
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return "response", nil
		}

		info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
		resp, err := interceptor(context.Background(), "request", info, handler)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if resp != "response" {
			t.Errorf("response = %v, want %v", resp, "response")
		}
	})

	t.Run("panic recovery", func(t *testing.T) {
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			panic("test panic")
		}

		info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
		resp, err := interceptor(context.Background(), "request", info, handler)

		if resp != nil {
			t.Errorf("response = %v, want nil", resp)
		}
		if err == nil {
			t.Fatal("expected error after panic")
		}

		s, ok := status.FromError(err)
		if !ok {
			t.Fatal("expected gRPC status error")
		}
		if s.Code() != codes.Internal {
			t.Errorf("Code() = %v, want %v", s.Code(), codes.Internal)
		}
	})

	t.Run("handler returns error", func(t *testing.T) {
		expectedErr := errors.New("handler error")
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, expectedErr
		}

		info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
		resp, err := interceptor(context.Background(), "request", info, handler)

		if resp != nil {
			t.Errorf("response = %v, want nil", resp)
		}
		if err != expectedErr {
			t.Errorf("error = %v, want %v", err, expectedErr)
		}
	})
}

func TestTimeoutUnaryInterceptor(t *testing.T) {
	t.Run("completes before timeout", func(t *testing.T) {
		interceptor := TimeoutUnaryInterceptor(5 * time.Second)
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return "response", nil
		}

		info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
		resp, err := interceptor(context.Background(), "request", info, handler)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if resp != "response" {
			t.Errorf("response = %v, want %v", resp, "response")
		}
	})

	t.Run("context has deadline", func(t *testing.T) {
		interceptor := TimeoutUnaryInterceptor(100 * time.Millisecond)
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			deadline, ok := ctx.Deadline()
			if !ok {
				return nil, errors.New("expected deadline to be set")
			}
			if time.Until(deadline) > 100*time.Millisecond {
				return nil, errors.New("deadline too far in future")
			}
			return "response", nil
		}

		info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
		resp, err := interceptor(context.Background(), "request", info, handler)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if resp != "response" {
			t.Errorf("response = %v, want %v", resp, "response")
		}
	})

	t.Run("times out", func(t *testing.T) {
		interceptor := TimeoutUnaryInterceptor(10 * time.Millisecond)
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
				return "response", nil
			}
		}

		info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}
		_, err := interceptor(context.Background(), "request", info, handler)

		if err != context.DeadlineExceeded {
			t.Errorf("error = %v, want %v", err, context.DeadlineExceeded)
		}
	})
}
