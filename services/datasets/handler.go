package datasets

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"

	"github.com/instantcocoa/evalbench/pkg/grpcutil"
	"github.com/instantcocoa/evalbench/pkg/session"
)

// ServiceName is the gRPC name of the datasets service.
const ServiceName = "evalbench.datasets.v1.DatasetsService"

// ErrorCodes maps the package's errors to gRPC codes.
var ErrorCodes = grpcutil.ErrorCodes{
	ErrInvalidFileType:   codes.InvalidArgument,
	ErrTooFewLines:       codes.InvalidArgument,
	ErrNoColumns:         codes.InvalidArgument,
	ErrNoRows:            codes.InvalidArgument,
	ErrNoSource:          codes.InvalidArgument,
	ErrSourceDisabled:    codes.PermissionDenied,
	ErrUnsupportedFormat: codes.InvalidArgument,
	ErrTooLarge:          codes.ResourceExhausted,
	ErrNoDataset:         codes.NotFound,
	session.ErrNoSession: codes.InvalidArgument,
}

// UploadRequest uploads a file. Data is shorthand for an inline source.
type UploadRequest struct {
	FileName string     `json:"file_name"`
	Data     []byte     `json:"data,omitempty"`
	Source   DataSource `json:"source"`
}

// PreviewRequest asks for the first Limit rows.
type PreviewRequest struct {
	Limit int `json:"limit"`
}

// ExportRequest asks for the dataset in Format. When Destination is set the
// export is written to S3 instead of returned.
type ExportRequest struct {
	Format      string    `json:"format"`
	Destination *S3Source `json:"destination,omitempty"`
}

// ExportResponse carries an encoded dataset.
type ExportResponse struct {
	Format      DataFormat `json:"format"`
	ContentType string     `json:"content_type"`
	Data        []byte     `json:"data,omitempty"`
}

// GetResponse wraps the session's dataset.
type GetResponse struct {
	Dataset *Dataset `json:"dataset"`
}

// Empty is used for calls without a payload.
type Empty struct{}

// Handler exposes DatasetsService over gRPC.
type Handler struct {
	logger  *slog.Logger
	service *DatasetsService
}

// NewHandler creates a new datasets service handler.
func NewHandler(logger *slog.Logger, svc *DatasetsService) *Handler {
	return &Handler{
		logger:  logger.With("component", "datasets-handler"),
		service: svc,
	}
}

// Service describes the handler's methods for registration.
func (h *Handler) Service() *grpcutil.Service {
	return grpcutil.NewService(ServiceName, ErrorCodes).
		Handle("Upload", grpcutil.Unary(h.Upload)).
		Handle("Get", grpcutil.Unary(h.Get)).
		Handle("Preview", grpcutil.Unary(h.Preview)).
		Handle("Clear", grpcutil.Unary(h.Clear)).
		Handle("Export", grpcutil.Unary(h.Export))
}

// Upload replaces the session's dataset.
func (h *Handler) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}

	src := req.Source
	if req.Data != nil {
		src = DataSource{Inline: &InlineSource{Data: req.Data}}
	}

	return h.service.Upload(ctx, UploadInput{SessionID: sid, FileName: req.FileName, Source: src})
}

// Get returns the session's dataset.
func (h *Handler) Get(ctx context.Context, _ *Empty) (*GetResponse, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}

	ds, err := h.service.Get(ctx, sid)
	if err != nil {
		return nil, err
	}
	return &GetResponse{Dataset: ds}, nil
}

// Preview returns the first rows of the session's dataset.
func (h *Handler) Preview(ctx context.Context, req *PreviewRequest) (*PreviewResult, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.Preview(ctx, sid, req.Limit)
}

// Clear removes the session's dataset.
func (h *Handler) Clear(ctx context.Context, _ *Empty) (*Empty, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.service.Clear(ctx, sid); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// Export encodes the session's dataset, or writes it to S3.
func (h *Handler) Export(ctx context.Context, req *ExportRequest) (*ExportResponse, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}

	format, err := ParseDataFormat(req.Format)
	if err != nil {
		return nil, err
	}
	resp := &ExportResponse{Format: format, ContentType: format.ContentType()}

	if req.Destination != nil {
		if err := h.service.ExportS3(ctx, sid, format, *req.Destination); err != nil {
			h.logger.ErrorContext(ctx, "S3 export failed", "error", err)
			return nil, err
		}
		return resp, nil
	}

	resp.Data, err = h.service.Export(ctx, sid, format)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
