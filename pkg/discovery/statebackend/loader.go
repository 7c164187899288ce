package statebackend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fleetdeck/fleetdeck/pkg/provider"
	"github.com/fleetdeck/fleetdeck/pkg/runner"
)

// ErrStateNotFound is returned when the backend holds no state document.
var ErrStateNotFound = errors.New("state document not found")

// Loader reads the raw state document of a backend. Loaders never write.
type Loader interface {
	Load(ctx context.Context, cfg provider.StateBackendConfig) ([]byte, error)
}

// FileLoader reads a local state file.
type FileLoader struct {
	MaxBytes int64
}

// Load implements Loader.
func (l FileLoader) Load(_ context.Context, cfg provider.StateBackendConfig) ([]byte, error) {
	f, err := os.Open(cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", cfg.Path, ErrStateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	defer f.Close()

	return readCapped(f, l.MaxBytes, cfg.Path)
}

// S3API is the subset of the S3 client used by S3Loader.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads a state object from S3.
type S3Loader struct {
	MaxBytes int64
	Timeout  time.Duration
	// NewClient builds the client for a config; nil uses the default AWS
	// credential chain.
	NewClient func(ctx context.Context, cfg provider.StateBackendConfig) (S3API, error)
}

// Load implements Loader.
func (l S3Loader) Load(ctx context.Context, cfg provider.StateBackendConfig) ([]byte, error) {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	newClient := l.NewClient
	if newClient == nil {
		newClient = defaultS3Client
	}
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(cfg.Key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", cfg.Location(), ErrStateNotFound)
		}
		return nil, fmt.Errorf("failed to read state from %s: %w", cfg.Location(), err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && l.MaxBytes > 0 && *out.ContentLength > l.MaxBytes {
		return nil, fmt.Errorf("%s: %w (%d bytes)", cfg.Location(), runner.ErrOutputTooLarge, l.MaxBytes)
	}
	return readCapped(out.Body, l.MaxBytes, cfg.Location())
}

func defaultS3Client(ctx context.Context, cfg provider.StateBackendConfig) (S3API, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// BackendLoader dispatches on the backend kind.
type BackendLoader struct {
	File Loader
	S3   Loader
}

// NewBackendLoader returns a loader for both backends with shared limits.
func NewBackendLoader(maxBytes int64, timeout time.Duration) *BackendLoader {
	return &BackendLoader{
		File: FileLoader{MaxBytes: maxBytes},
		S3:   S3Loader{MaxBytes: maxBytes, Timeout: timeout},
	}
}

// Load implements Loader.
func (b *BackendLoader) Load(ctx context.Context, cfg provider.StateBackendConfig) ([]byte, error) {
	switch cfg.Backend {
	case provider.BackendLocal:
		return b.File.Load(ctx, cfg)
	case provider.BackendS3:
		return b.S3.Load(ctx, cfg)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", provider.ErrInvalid, cfg.Backend)
}

// readCapped reads at most max bytes and fails if there is more.
func readCapped(r io.Reader, max int64, location string) ([]byte, error) {
	if max <= 0 {
		max = runner.DefaultMaxOutput
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read state from %s: %w", location, err)
	}
	if n > max {
		return nil, fmt.Errorf("%s: %w (%d bytes)", location, runner.ErrOutputTooLarge, max)
	}
	return buf.Bytes(), nil
}
