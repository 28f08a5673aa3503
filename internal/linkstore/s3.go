package linkstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yuya-takeyama/dedup-ingest/internal/checksum"
)

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps one object per fingerprint under a bucket prefix, for workers
// that do not share a filesystem. The object body is the claimed path relative
// to base. Creation is conditional on the key being absent.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	base   string
}

// NewS3Store wraps an existing client
func NewS3Store(client S3API, bucket, prefix, base string) (*S3Store, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		base:   absBase,
	}, nil
}

// NewS3StoreFromURI loads the default AWS configuration and opens s3://bucket/prefix
func NewS3StoreFromURI(ctx context.Context, uri, base string, optFns ...func(*config.LoadOptions) error) (*S3Store, error) {
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewS3Store(s3.NewFromConfig(cfg), bucket, prefix, base)
}

func (s *S3Store) key(fp checksum.Fingerprint) string {
	return s.prefix + string(fp)
}

// Link implements Store
func (s *S3Store) Link(ctx context.Context, fp checksum.Fingerprint, path string) (bool, error) {
	exists, err := s.Exists(ctx, fp)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	target, err := relativeTarget(s.base, path)
	if err != nil {
		return false, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(fp)),
		Body:        strings.NewReader(target),
		ContentType: aws.String("text/plain"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to put link object: %w", err)
	}
	return true, nil
}

// Unlink implements Store
func (s *S3Store) Unlink(ctx context.Context, fp checksum.Fingerprint) error {
	if err := validate(fp); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fp)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete link object: %w", err)
	}
	return nil
}

// Exists implements Store
func (s *S3Store) Exists(ctx context.Context, fp checksum.Fingerprint) (bool, error) {
	if err := validate(fp); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fp)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head link object: %w", err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode() == http.StatusPreconditionFailed
	}
	return false
}
