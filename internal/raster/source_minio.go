package raster

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// MinioAPI is the subset of *minio.Client used by MinioSource.
type MinioAPI interface {
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// MinioSource reads a Zarr store from a MinIO (or other S3-compatible) bucket.
type MinioSource struct {
	client MinioAPI
	bucket string
	prefix string
}

// NewMinioSource returns a source for bucket/prefix.
func NewMinioSource(client MinioAPI, bucket, prefix string) *MinioSource {
	return &MinioSource{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinioSource) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	full := joinKey(s.prefix, key)
	obj, err := s.client.GetObject(ctx, s.bucket, full, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(s.bucket, full, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the first Read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioError(s.bucket, full, err)
	}
	return obj, nil
}

func (s *MinioSource) Describe() string {
	return "minio://" + joinKey(s.bucket, s.prefix)
}

func mapMinioError(bucket, key string, err error) error {
	errResp := minio.ToErrorResponse(err)
	if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
		return fmt.Errorf("minio://%s/%s: %w", bucket, key, ErrNotFound)
	}
	return fmt.Errorf("minio get %s/%s: %w", bucket, key, err)
}

// MinioPutAPI is the subset of *minio.Client used by MinioSink.
type MinioPutAPI interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioSink writes raster objects to a MinIO bucket.
type MinioSink struct {
	client MinioPutAPI
	bucket string
	prefix string
}

// NewMinioSink returns a sink for bucket/prefix.
func NewMinioSink(client MinioPutAPI, bucket, prefix string) *MinioSink {
	return &MinioSink{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinioSink) PutObject(ctx context.Context, key string, data []byte) error {
	full := joinKey(s.prefix, key)
	_, err := s.client.PutObject(ctx, s.bucket, full, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentTypeFor(key),
	})
	if err != nil {
		return fmt.Errorf("minio put %s/%s: %w", s.bucket, full, err)
	}
	return nil
}
