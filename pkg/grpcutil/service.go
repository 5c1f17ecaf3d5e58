package grpcutil

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// SessionMetadataKey carries the session ID on every call.
const SessionMetadataKey = "x-session-id"

// UnaryFunc handles a single call whose request and response are
// google.protobuf.Struct messages.
type UnaryFunc func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

type method struct {
	name string
	fn   UnaryFunc
}

// Service is a unary gRPC service whose methods exchange Struct messages, so
// it can be registered without generated stubs.
type Service struct {
	name     string
	methods  []method
	errCodes ErrorCodes
}

// NewService creates a service with the fully qualified name, for example
// "evalbench.datasets.v1.DatasetsService". errCodes maps the service's
// domain errors to status codes.
func NewService(name string, errCodes ErrorCodes) *Service {
	return &Service{name: name, errCodes: errCodes}
}

// Name returns the fully qualified service name.
func (s *Service) Name() string {
	return s.name
}

// Handle adds a method.
func (s *Service) Handle(name string, fn UnaryFunc) *Service {
	s.methods = append(s.methods, method{name: name, fn: fn})
	return s
}

// Methods returns the method names in registration order.
func (s *Service) Methods() []string {
	names := make([]string, len(s.methods))
	for i, m := range s.methods {
		names[i] = m.name
	}
	return names
}

// Register adds the service to a gRPC server.
func (s *Service) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(s.desc(), s)
}

func (s *Service) desc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: s.name,
		HandlerType: (*interface{})(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "google/protobuf/struct.proto",
	}
	for _, m := range s.methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler:    s.methodHandler(m),
		})
	}
	return desc
}

func (s *Service) methodHandler(m method) grpc.MethodHandler {
	fullMethod := "/" + s.name + "/" + m.name

	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		call := func(ctx context.Context, req interface{}) (interface{}, error) {
			out, err := m.fn(ctx, req.(*structpb.Struct))
			if err != nil {
				return nil, ToStatus(err, s.errCodes)
			}
			return out, nil
		}

		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, call)
	}
}

// Unary adapts a typed handler to a UnaryFunc. Requests and responses are
// converted through their JSON form.
func Unary[Req, Resp any](fn func(ctx context.Context, req *Req) (*Resp, error)) UnaryFunc {
	return func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		req := new(Req)
		if err := Decode(in, req); err != nil {
			return nil, InvalidArgumentError("request", err.Error())
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}

		out, err := Encode(resp)
		if err != nil {
			return nil, InternalError(err)
		}
		return out, nil
	}
}

// Encode converts a value whose JSON form is an object into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	out := new(structpb.Struct)
	if string(data) == "null" {
		return out, nil
	}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to convert message: %w", err)
	}
	return out, nil
}

// Decode fills v from a Struct.
func Decode(in *structpb.Struct, v any) error {
	if in == nil {
		in = new(structpb.Struct)
	}

	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to convert message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}

// Invoke calls service/method on conn, encoding req and decoding the reply into resp.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, service, method string, req, resp any) error {
	in, err := Encode(req)
	if err != nil {
		return err
	}

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return err
	}

	if resp == nil {
		return nil
	}
	return Decode(out, resp)
}

// WithSession attaches a session ID to outgoing calls.
func WithSession(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, SessionMetadataKey, sessionID)
}

// SessionFromContext returns the session ID of an incoming call.
func SessionFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(SessionMetadataKey); len(values) > 0 {
		return values[0]
	}
	return ""
}

// RequireSession returns the incoming session ID or an InvalidArgument error.
func RequireSession(ctx context.Context) (string, error) {
	sid := SessionFromContext(ctx)
	if sid == "" {
		return "", InvalidArgumentError(SessionMetadataKey, "session id metadata is required")
	}
	return sid, nil
}
