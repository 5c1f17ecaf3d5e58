package datasets

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/instantcocoa/evalbench/pkg/session"
)

// DefaultPreviewLimit is the number of rows Preview returns when no limit is given.
const DefaultPreviewLimit = 10

// DatasetsService holds the dataset of each session.
type DatasetsService struct {
	store    session.Store[Dataset]
	sources  *SourceFactory
	maxBytes int64
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewDatasetsService creates a new datasets service. maxBytes limits upload
// size; a non-positive value disables the limit.
func NewDatasetsService(store session.Store[Dataset], sources *SourceFactory, maxBytes int64, logger *slog.Logger) *DatasetsService {
	if sources == nil {
		sources = &SourceFactory{}
	}
	return &DatasetsService{
		store:    store,
		sources:  sources,
		maxBytes: maxBytes,
		logger:   logger.With("component", "datasets"),
		tracer:   otel.Tracer("evalbench/datasets"),
		now:      time.Now,
	}
}

// Upload reads, parses and validates a CSV file and makes it the session's
// dataset, replacing any previous one. A failed upload leaves the previous
// dataset in place.
func (s *DatasetsService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	ctx, span := s.tracer.Start(ctx, "datasets.Upload")
	defer span.End()

	name := input.FileName
	if name == "" {
		name = input.Source.FileName()
	}
	span.SetAttributes(attribute.String("dataset.file_name", name))

	if err := CheckFileName(name); err != nil {
		return nil, err
	}

	src, err := s.sources.NewSource(input.Source)
	if err != nil {
		return nil, err
	}

	data, err := ReadAll(ctx, src, s.maxBytes)
	if err != nil {
		return nil, err
	}

	ds, warnings, err := Ingest(name, data)
	if err != nil {
		s.logger.InfoContext(ctx, "dataset rejected", "session", input.SessionID, "file", name, "error", err)
		return nil, err
	}
	ds.UploadedAt = s.now().UTC()

	if err := s.store.Put(ctx, input.SessionID, *ds); err != nil {
		return nil, fmt.Errorf("failed to store dataset: %w", err)
	}

	span.SetAttributes(
		attribute.Int("dataset.columns", len(ds.Headers)),
		attribute.Int("dataset.rows", ds.RowCount),
	)
	s.logger.InfoContext(ctx, "dataset uploaded",
		"session", input.SessionID,
		"file", name,
		"columns", len(ds.Headers),
		"rows", ds.RowCount,
		"warnings", len(warnings),
	)

	return &UploadResult{Dataset: ds, Warnings: warnings}, nil
}

// Get returns the session's dataset or ErrNoDataset.
func (s *DatasetsService) Get(ctx context.Context, sessionID string) (*Dataset, error) {
	ds, found, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	if !found {
		return nil, ErrNoDataset
	}
	return &ds, nil
}

// Clear removes the session's dataset.
func (s *DatasetsService) Clear(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear dataset: %w", err)
	}
	s.logger.InfoContext(ctx, "dataset cleared", "session", sessionID)
	return nil
}

// Preview returns the first limit rows (DefaultPreviewLimit when limit <= 0)
// and the total row count.
func (s *DatasetsService) Preview(ctx context.Context, sessionID string, limit int) (*PreviewResult, error) {
	ds, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	rows := ds.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}

	return &PreviewResult{
		Headers:  ds.Headers,
		Rows:     rows,
		RowCount: ds.RowCount,
	}, nil
}

// Export encodes the session's dataset in the given format.
func (s *DatasetsService) Export(ctx context.Context, sessionID string, format DataFormat) ([]byte, error) {
	_, span := s.tracer.Start(ctx, "datasets.Export", trace.WithAttributes(attribute.String("dataset.format", string(format))))
	defer span.End()

	ds, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	writer, err := NewWriter(format)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writer.Write(&buf, ds); err != nil {
		return nil, fmt.Errorf("failed to export dataset: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportS3 encodes the session's dataset and uploads it to dst.
func (s *DatasetsService) ExportS3(ctx context.Context, sessionID string, format DataFormat, dst S3Source) error {
	if !s.sources.AllowRemoteSources {
		return fmt.Errorf("%w: S3", ErrSourceDisabled)
	}
	data, err := s.Export(ctx, sessionID, format)
	if err != nil {
		return err
	}
	if err := PutS3(ctx, dst, bytes.NewReader(data), format.ContentType()); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "dataset exported", "session", sessionID, "bucket", dst.Bucket, "key", dst.Key, "format", format)
	return nil
}
