package grpcutil_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/instantcocoa/evalbench/pkg/grpcutil"
	"github.com/instantcocoa/evalbench/pkg/testutil"
)

const echoService = "evalbench.test.v1.EchoService"

var errEmpty = errors.New("text is empty")

type echoRequest struct {
	Text  string            `json:"text"`
	Times int               `json:"times"`
	Tags  map[string]string `json:"tags,omitempty"`
}

type echoResponse struct {
	Text    string    `json:"text"`
	Session string    `json:"session"`
	At      time.Time `json:"at"`
}

func newEchoService() *grpcutil.Service {
	return grpcutil.NewService(echoService, grpcutil.ErrorCodes{errEmpty: codes.InvalidArgument}).
		Handle("Echo", grpcutil.Unary(func(ctx context.Context, req *echoRequest) (*echoResponse, error) {
			if req.Text == "" {
				return nil, fmt.Errorf("echo: %w", errEmpty)
			}
			out := ""
			for i := 0; i < req.Times; i++ {
				out += req.Text
			}
			return &echoResponse{
				Text:    out,
				Session: grpcutil.SessionFromContext(ctx),
				At:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			}, nil
		})).
		Handle("Panic", grpcutil.Unary(func(ctx context.Context, req *echoRequest) (*echoResponse, error) {
			panic("boom")
		}))
}

func startEcho(t *testing.T) *grpc.ClientConn {
	t.Helper()

	logger := testutil.DiscardLogger()
	ts := testutil.NewTestServer(grpc.ChainUnaryInterceptor(
		grpcutil.LoggingUnaryInterceptor(logger),
		grpcutil.RecoveryUnaryInterceptor(logger),
	))
	newEchoService().Register(ts.Server)
	ts.Start(t)
	return ts.Dial(t)
}

func TestService_Methods(t *testing.T) {
	svc := newEchoService()
	if svc.Name() != echoService {
		t.Errorf("Name() = %v, want %v", svc.Name(), echoService)
	}
	methods := svc.Methods()
	if len(methods) != 2 || methods[0] != "Echo" || methods[1] != "Panic" {
		t.Errorf("Methods() = %v, want [Echo Panic]", methods)
	}
}

func TestService_InvokeRoundTrip(t *testing.T) {
	conn := startEcho(t)
	ctx := grpcutil.WithSession(testutil.TestContext(t), "sess-42")

	var resp echoResponse
	err := grpcutil.Invoke(ctx, conn, echoService, "Echo", echoRequest{Text: "ab", Times: 3}, &resp)
	testutil.RequireNoError(t, err)

	if resp.Text != "ababab" {
		t.Errorf("Text = %v, want %v", resp.Text, "ababab")
	}
	if resp.Session != "sess-42" {
		t.Errorf("Session = %v, want %v", resp.Session, "sess-42")
	}
	if !resp.At.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("At = %v, want 2024-05-01", resp.At)
	}
}

func TestService_DomainErrorMapped(t *testing.T) {
	conn := startEcho(t)

	err := grpcutil.Invoke(testutil.TestContext(t), conn, echoService, "Echo", echoRequest{}, nil)
	s, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected status error, got %v", err)
	}
	if s.Code() != codes.InvalidArgument {
		t.Errorf("Code() = %v, want %v", s.Code(), codes.InvalidArgument)
	}
	if s.Message() != "echo: text is empty" {
		t.Errorf("Message() = %q, want %q", s.Message(), "echo: text is empty")
	}
}

func TestService_BadRequestShape(t *testing.T) {
	conn := startEcho(t)

	// times must be a number
	req := map[string]any{"text": "a", "times": "three"}
	err := grpcutil.Invoke(testutil.TestContext(t), conn, echoService, "Echo", req, nil)
	if !grpcutil.IsInvalidArgument(err) {
		t.Errorf("error = %v, want InvalidArgument", err)
	}
}

func TestService_PanicRecovered(t *testing.T) {
	conn := startEcho(t)

	err := grpcutil.Invoke(testutil.TestContext(t), conn, echoService, "Panic", echoRequest{Text: "x"}, nil)
	if status.Code(err) != codes.Internal {
		t.Errorf("Code() = %v, want %v", status.Code(err), codes.Internal)
	}
}

func TestService_UnknownMethod(t *testing.T) {
	conn := startEcho(t)

	err := grpcutil.Invoke(testutil.TestContext(t), conn, echoService, "Missing", echoRequest{}, nil)
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("Code() = %v, want %v", status.Code(err), codes.Unimplemented)
	}
}

func TestRequireSession(t *testing.T) {
	if _, err := grpcutil.RequireSession(context.Background()); !grpcutil.IsInvalidArgument(err) {
		t.Errorf("RequireSession() error = %v, want InvalidArgument", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	in := echoRequest{Text: "hi", Times: 2, Tags: map[string]string{"k": "v"}}

	s, err := grpcutil.Encode(in)
	testutil.RequireNoError(t, err)
	if s.Fields["text"].GetStringValue() != "hi" {
		t.Errorf("text field = %v, want hi", s.Fields["text"])
	}

	var out echoRequest
	testutil.RequireNoError(t, grpcutil.Decode(s, &out))
	if out.Text != "hi" || out.Times != 2 || out.Tags["k"] != "v" {
		t.Errorf("Decode() = %+v, want %+v", out, in)
	}

	empty, err := grpcutil.Encode(nil)
	testutil.RequireNoError(t, err)
	if len(empty.Fields) != 0 {
		t.Errorf("Encode(nil) fields = %v, want none", empty.Fields)
	}

	if _, err := grpcutil.Encode([]string{"not", "an", "object"}); err == nil {
		t.Error("Encode(slice) error = nil, want error")
	}
}
