package providers

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"

	"github.com/instantcocoa/evalbench/pkg/grpcutil"
	"github.com/instantcocoa/evalbench/pkg/session"
)

// ServiceName is the gRPC name of the providers service.
const ServiceName = "evalbench.providers.v1.ProvidersService"

// ErrorCodes maps the package's errors to gRPC codes.
var ErrorCodes = grpcutil.ErrorCodes{
	ErrUnknownProvider:   codes.NotFound,
	ErrUnknownModel:      codes.InvalidArgument,
	ErrAPIKeyRequired:    codes.FailedPrecondition,
	session.ErrNoSession: codes.InvalidArgument,
}

// CatalogResponse lists the supported providers.
type CatalogResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

// ConfigureRequest updates provider Name.
type ConfigureRequest struct {
	Name string `json:"name"`
	ConfigInput
}

// NameRequest names one provider.
type NameRequest struct {
	Name string `json:"name"`
}

// Empty is used for calls without a payload.
type Empty struct{}

// Handler exposes ProvidersService over gRPC.
type Handler struct {
	service *ProvidersService
	logger  *slog.Logger
}

// NewHandler creates a new providers service handler.
func NewHandler(logger *slog.Logger, svc *ProvidersService) *Handler {
	return &Handler{
		service: svc,
		logger:  logger.With("component", "providers-handler"),
	}
}

// Service describes the handler's methods for registration.
func (h *Handler) Service() *grpcutil.Service {
	return grpcutil.NewService(ServiceName, ErrorCodes).
		Handle("Catalog", grpcutil.Unary(h.Catalog)).
		Handle("Get", grpcutil.Unary(h.Get)).
		Handle("Configure", grpcutil.Unary(h.Configure)).
		Handle("SetJudge", grpcutil.Unary(h.SetJudge)).
		Handle("TestConnection", grpcutil.Unary(h.TestConnection))
}

// Catalog lists the supported providers. No session is needed.
func (h *Handler) Catalog(ctx context.Context, _ *Empty) (*CatalogResponse, error) {
	return &CatalogResponse{Providers: Catalog()}, nil
}

// Get returns the session's settings with keys masked.
func (h *Handler) Get(ctx context.Context, _ *Empty) (*Settings, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.Get(ctx, sid)
}

// Configure updates one provider.
func (h *Handler) Configure(ctx context.Context, req *ConfigureRequest) (*Config, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.Configure(ctx, sid, req.Name, req.ConfigInput)
}

// SetJudge selects the judge.
func (h *Handler) SetJudge(ctx context.Context, req *JudgeConfig) (*JudgeConfig, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.SetJudge(ctx, sid, *req)
}

// TestConnection runs the simulated connection test.
func (h *Handler) TestConnection(ctx context.Context, req *NameRequest) (*Config, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.TestConnection(ctx, sid, req.Name)
}
