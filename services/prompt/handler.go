package prompt

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"

	"github.com/instantcocoa/evalbench/pkg/grpcutil"
	"github.com/instantcocoa/evalbench/pkg/session"
)

// ServiceName is the gRPC name of the prompt service.
const ServiceName = "evalbench.prompt.v1.PromptService"

// ErrorCodes maps the package's errors to gRPC codes.
var ErrorCodes = grpcutil.ErrorCodes{
	ErrNameRequired:      codes.InvalidArgument,
	ErrTemplateRequired:  codes.InvalidArgument,
	ErrTemplateInvalid:   codes.InvalidArgument,
	ErrInvalidLibrary:    codes.InvalidArgument,
	ErrUnsupportedFormat: codes.InvalidArgument,
	ErrRowOutOfRange:     codes.OutOfRange,
	ErrNotFound:          codes.NotFound,
	session.ErrNoSession: codes.InvalidArgument,
}

// IDRequest names one template.
type IDRequest struct {
	ID string `json:"id"`
}

// UpdateRequest replaces the fields of template ID.
type UpdateRequest struct {
	ID string `json:"id"`
	TemplateInput
}

// BodyRequest carries a template body to validate.
type BodyRequest struct {
	Template string `json:"template"`
}

// PreviewRequest renders a body against row RowIndex.
type PreviewRequest struct {
	Template string `json:"template"`
	RowIndex int    `json:"row_index"`
}

// ListResponse holds the session's templates.
type ListResponse struct {
	Templates []Template `json:"templates"`
}

// LibraryRequest carries a library file to import.
type LibraryRequest struct {
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// ExportRequest asks for the library in Format.
type ExportRequest struct {
	Format string `json:"format"`
}

// LibraryResponse carries an encoded library.
type LibraryResponse struct {
	Format LibraryFormat `json:"format"`
	Data   []byte        `json:"data"`
}

// Empty is used for calls without a payload.
type Empty struct{}

// Handler exposes PromptService over gRPC.
type Handler struct {
	service *PromptService
	logger  *slog.Logger
}

// NewHandler creates a new prompt service handler.
func NewHandler(logger *slog.Logger, svc *PromptService) *Handler {
	return &Handler{
		service: svc,
		logger:  logger.With("component", "prompt-handler"),
	}
}

// Service describes the handler's methods for registration.
func (h *Handler) Service() *grpcutil.Service {
	return grpcutil.NewService(ServiceName, ErrorCodes).
		Handle("Create", grpcutil.Unary(h.Create)).
		Handle("Update", grpcutil.Unary(h.Update)).
		Handle("Delete", grpcutil.Unary(h.Delete)).
		Handle("Get", grpcutil.Unary(h.Get)).
		Handle("List", grpcutil.Unary(h.List)).
		Handle("Validate", grpcutil.Unary(h.Validate)).
		Handle("Preview", grpcutil.Unary(h.Preview)).
		Handle("Import", grpcutil.Unary(h.Import)).
		Handle("Export", grpcutil.Unary(h.Export))
}

// Create adds a template.
func (h *Handler) Create(ctx context.Context, req *TemplateInput) (*Template, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.Create(ctx, sid, *req)
}

// Update edits a template.
func (h *Handler) Update(ctx context.Context, req *UpdateRequest) (*Template, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, grpcutil.InvalidArgumentError("id", "is required")
	}
	return h.service.Update(ctx, sid, req.ID, req.TemplateInput)
}

// Delete removes a template.
func (h *Handler) Delete(ctx context.Context, req *IDRequest) (*Empty, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.service.Delete(ctx, sid, req.ID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// Get returns a template.
func (h *Handler) Get(ctx context.Context, req *IDRequest) (*Template, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.Get(ctx, sid, req.ID)
}

// List returns every template of the session.
func (h *Handler) List(ctx context.Context, _ *Empty) (*ListResponse, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	templates, err := h.service.List(ctx, sid)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Templates: templates}, nil
}

// Validate checks a body against the session's dataset.
func (h *Handler) Validate(ctx context.Context, req *BodyRequest) (*ValidationResult, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.Validate(ctx, sid, req.Template)
}

// Preview renders a body against a dataset row.
func (h *Handler) Preview(ctx context.Context, req *PreviewRequest) (*PreviewResult, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.Preview(ctx, sid, req.Template, req.RowIndex)
}

// Import appends the templates of a library file.
func (h *Handler) Import(ctx context.Context, req *LibraryRequest) (*ListResponse, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	format, err := ParseLibraryFormat(req.Format)
	if err != nil {
		return nil, err
	}
	templates, err := h.service.ImportLibrary(ctx, sid, req.Data, format)
	if err != nil {
		h.logger.WarnContext(ctx, "library import rejected", "session", sid, "error", err)
		return nil, err
	}
	return &ListResponse{Templates: templates}, nil
}

// Export encodes the session's library.
func (h *Handler) Export(ctx context.Context, req *ExportRequest) (*LibraryResponse, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	format, err := ParseLibraryFormat(req.Format)
	if err != nil {
		return nil, err
	}
	data, err := h.service.ExportLibrary(ctx, sid, format)
	if err != nil {
		return nil, err
	}
	return &LibraryResponse{Format: format, Data: data}, nil
}
