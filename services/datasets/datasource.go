package datasets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source reads upload data from one location.
type Source interface {
	Read(ctx context.Context) (io.ReadCloser, error)
}

// HTTPDoer is the subset of *http.Client used by URL sources.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SourceFactory builds Sources, holding the clients they share.
type SourceFactory struct {
	HTTPClient HTTPDoer
	// AllowLocalFiles enables LocalFile sources, which read the server's disk.
	AllowLocalFiles bool
	// AllowRemoteSources enables URL and S3 sources, which fetch with the
	// server's network position and credentials.
	AllowRemoteSources bool
}

// NewSource creates a Source from a DataSource.
func (f *SourceFactory) NewSource(ds DataSource) (Source, error) {
	switch {
	case ds.Inline != nil:
		return &inlineSource{data: ds.Inline.Data}, nil
	case ds.LocalFile != nil:
		if !f.AllowLocalFiles {
			return nil, fmt.Errorf("%w: local files", ErrSourceDisabled)
		}
		return &localFileSource{path: ds.LocalFile.Path}, nil
	case ds.URL != nil:
		if !f.AllowRemoteSources {
			return nil, fmt.Errorf("%w: URLs", ErrSourceDisabled)
		}
		client := f.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		return &urlSource{url: ds.URL.URL, headers: ds.URL.Headers, client: client}, nil
	case ds.S3 != nil:
		if !f.AllowRemoteSources {
			return nil, fmt.Errorf("%w: S3", ErrSourceDisabled)
		}
		return &s3Source{src: *ds.S3}, nil
	default:
		return nil, ErrNoSource
	}
}

// ReadAll reads at most limit bytes from src, failing with ErrTooLarge when
// there is more. A non-positive limit disables the check.
func ReadAll(ctx context.Context, src Source, limit int64) ([]byte, error) {
	rc, err := src.Read(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, nil
}

type inlineSource struct {
	data []byte
}

func (i *inlineSource) Read(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(i.data)), nil
}

type localFileSource struct {
	path string
}

func (l *localFileSource) Read(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	return f, nil
}

type urlSource struct {
	url     string
	headers map[string]string
	client  HTTPDoer
}

func (u *urlSource) Read(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range u.headers {
		req.Header.Set(k, v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

type s3Source struct {
	src S3Source
}

func (s *s3Source) Read(ctx context.Context) (io.ReadCloser, error) {
	client, err := newS3Client(ctx, s.src)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.src.Bucket),
		Key:    aws.String(s.src.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get S3 object: %w", err)
	}

	return result.Body, nil
}

// PutS3 uploads data to the object named by dst, used to export datasets.
func PutS3(ctx context.Context, dst S3Source, data io.Reader, contentType string) error {
	client, err := newS3Client(ctx, dst)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(dst.Bucket),
		Key:         aws.String(dst.Key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put S3 object: %w", err)
	}
	return nil
}

func newS3Client(ctx context.Context, src S3Source) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, s3LoadOptions(src)...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, s3ClientOptions(src)...), nil
}

func s3LoadOptions(src S3Source) []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if src.Region != "" {
		opts = append(opts, config.WithRegion(src.Region))
	}
	if src.AccessKeyID != "" && src.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(src.AccessKeyID, src.SecretAccessKey, ""),
		))
	}
	return opts
}

func s3ClientOptions(src S3Source) []func(*s3.Options) {
	if src.Endpoint == "" {
		return nil
	}
	return []func(*s3.Options){
		func(o *s3.Options) {
			o.BaseEndpoint = aws.String(src.Endpoint)
			o.UsePathStyle = true // required by most S3-compatible stores
		},
	}
}
