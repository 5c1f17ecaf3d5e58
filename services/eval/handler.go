package eval

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"

	"github.com/instantcocoa/evalbench/pkg/grpcutil"
	"github.com/instantcocoa/evalbench/pkg/session"
)

// ServiceName is the gRPC name of the eval service.
const ServiceName = "evalbench.eval.v1.EvalService"

// ErrorCodes maps the package's errors to gRPC codes.
var ErrorCodes = grpcutil.ErrorCodes{
	ErrNoDataset:          codes.FailedPrecondition,
	ErrNoPrompts:          codes.FailedPrecondition,
	ErrProviderNotEnabled: codes.FailedPrecondition,
	ErrNotCancellable:     codes.FailedPrecondition,
	ErrUnknownPrompt:      codes.InvalidArgument,
	ErrInvalidScore:       codes.InvalidArgument,
	ErrRunNotFound:        codes.NotFound,
	ErrResultNotFound:     codes.NotFound,
	session.ErrNoSession:  codes.InvalidArgument,
}

// RunRequest names one run.
type RunRequest struct {
	RunID string `json:"run_id"`
}

// ListResponse holds the session's runs.
type ListResponse struct {
	Runs []*Run `json:"runs"`
}

// ResultsRequest asks for a window of a run's results.
type ResultsRequest struct {
	RunID  string `json:"run_id"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ScoresRequest records reviewer scores for one result.
type ScoresRequest struct {
	RunID    string             `json:"run_id"`
	ResultID string             `json:"result_id"`
	Scores   map[string]float64 `json:"scores"`
}

// Empty is used for calls without a payload.
type Empty struct{}

// Handler exposes EvalService over gRPC.
type Handler struct {
	logger  *slog.Logger
	service *EvalService
}

// NewHandler creates a new eval service handler.
func NewHandler(logger *slog.Logger, svc *EvalService) *Handler {
	return &Handler{
		logger:  logger.With("component", "eval-handler"),
		service: svc,
	}
}

// Service describes the handler's methods for registration.
func (h *Handler) Service() *grpcutil.Service {
	return grpcutil.NewService(ServiceName, ErrorCodes).
		Handle("StartRun", grpcutil.Unary(h.StartRun)).
		Handle("GetRun", grpcutil.Unary(h.GetRun)).
		Handle("ListRuns", grpcutil.Unary(h.ListRuns)).
		Handle("CancelRun", grpcutil.Unary(h.CancelRun)).
		Handle("GetResults", grpcutil.Unary(h.GetResults)).
		Handle("RecordScores", grpcutil.Unary(h.RecordScores)).
		Handle("Summarize", grpcutil.Unary(h.Summarize))
}

// StartRun starts a run.
func (h *Handler) StartRun(ctx context.Context, req *StartInput) (*Run, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.StartRun(ctx, sid, *req)
}

// GetRun returns a run.
func (h *Handler) GetRun(ctx context.Context, req *RunRequest) (*Run, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.GetRun(ctx, sid, req.RunID)
}

// ListRuns returns the session's runs.
func (h *Handler) ListRuns(ctx context.Context, _ *Empty) (*ListResponse, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := h.service.ListRuns(ctx, sid)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Runs: runs}, nil
}

// CancelRun stops a run.
func (h *Handler) CancelRun(ctx context.Context, req *RunRequest) (*Run, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.CancelRun(ctx, sid, req.RunID)
}

// GetResults returns a window of results.
func (h *Handler) GetResults(ctx context.Context, req *ResultsRequest) (*ResultPage, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 || req.Offset < 0 {
		return nil, grpcutil.InvalidArgumentError("limit", "limit and offset must not be negative")
	}
	return h.service.GetResults(ctx, sid, req.RunID, req.Limit, req.Offset)
}

// RecordScores stores reviewer scores.
func (h *Handler) RecordScores(ctx context.Context, req *ScoresRequest) (*Result, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.RecordScores(ctx, sid, req.RunID, req.ResultID, req.Scores)
}

// Summarize returns per provider score averages.
func (h *Handler) Summarize(ctx context.Context, req *RunRequest) (*Summary, error) {
	sid, err := grpcutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.service.Summarize(ctx, sid, req.RunID)
}
