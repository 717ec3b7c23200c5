// Package storage reads objects from S3 for components that provision local
// files at startup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the subset of *s3.Client the store uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store downloads objects from S3.
type S3Store struct {
	client ObjectGetter
}

// NewS3Store loads the default AWS credential chain for region, optionally
// using a named shared-config profile.
func NewS3Store(ctx context.Context, region, profile string) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client ObjectGetter) *S3Store {
	return &S3Store{client: client}
}

// Copy streams s3://bucket/key into w and returns the number of bytes written.
func (s *S3Store) Copy(ctx context.Context, bucket, key string, w io.Writer) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return n, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return n, nil
}

// DownloadFile writes s3://bucket/key to path atomically: the object is
// streamed to a temp file in the same directory and renamed into place.
func (s *S3Store) DownloadFile(ctx context.Context, bucket, key, path string) error {
	if bucket == "" || key == "" {
		return errors.New("bucket and key are required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := s.Copy(ctx, bucket, key, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
