package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/maauso/clip-worker/internal/fault"
)

// Compile-time check that S3Store implements Store.
var _ Store = (*S3Store)(nil)

const (
	// uploadPartSize is the multipart chunk size.
	uploadPartSize = 5 * 1024 * 1024
	// uploadConcurrency is the number of parts uploaded in parallel.
	uploadConcurrency = 4
)

// ErrBucketRequired is returned when no bucket is configured.
var ErrBucketRequired = errors.New("storage: S3 bucket is required")

// S3Store implements Store on Amazon S3 with multipart uploads.
type S3Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	pathStyle bool
	logger    *slog.Logger
	now       func() time.Time
}

// S3Option configures an S3Store.
type S3Option func(*S3Store)

// WithPathStyle enables path-style addressing, needed by S3-compatible
// endpoints such as LocalStack.
func WithPathStyle(enabled bool) S3Option {
	return func(s *S3Store) {
		s.pathStyle = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) S3Option {
	return func(s *S3Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewS3Store creates an S3Store for bucket.
func NewS3Store(awsCfg aws.Config, bucket string, opts ...S3Option) (*S3Store, error) {
	if bucket == "" {
		return nil, ErrBucketRequired
	}

	s := &S3Store{
		bucket: bucket,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = s.pathStyle
	})
	s.uploader = manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
		u.Concurrency = uploadConcurrency
		u.LeavePartsOnError = false
	})

	s.logger.Info("S3 client initialized",
		slog.String("bucket", bucket),
		slog.String("region", awsCfg.Region),
	)
	return s, nil
}

// Upload streams the file to S3 with server-side encryption.
func (s *S3Store) Upload(ctx context.Context, localPath, key, contentType string) (int64, error) {
	f, err := os.Open(localPath) // #nosec G304 - path comes from the job's scratch directory
	if err != nil {
		return 0, fault.Storage(fmt.Sprintf("Failed to open file for upload: %v", err), err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, fault.Storage(fmt.Sprintf("Failed to stat file for upload: %v", err), err)
	}

	s.logger.Info("uploading file to S3",
		slog.String("key", key),
		slog.Int64("size", info.Size()),
	)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 f,
		ContentType:          aws.String(contentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
		Metadata: map[string]string{
			"uploaded-at":       s.now().UTC().Format(time.RFC3339),
			"original-filename": filepath.Base(localPath),
		},
	})
	if err != nil {
		s.logger.Error("failed to upload file to S3",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return 0, fault.Storage(fmt.Sprintf("Failed to upload to S3: %v", err), err)
	}

	s.logger.Info("uploaded file to S3", slog.String("key", key))
	return info.Size(), nil
}

// Delete removes the object. A missing object is treated as deleted.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fault.Storage(fmt.Sprintf("Failed to delete from S3: %v", err), err)
	}

	s.logger.Debug("deleted object from S3", slog.String("key", key))
	return nil
}

// Exists reports whether the object is present.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fault.Storage(fmt.Sprintf("Failed to check S3 object: %v", err), err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
