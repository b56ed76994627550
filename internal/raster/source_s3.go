package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads a Zarr store under s3://bucket/prefix.
type S3Source struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Source returns a source for bucket/prefix.
func NewS3Source(client S3API, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Source) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	full := joinKey(s.prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, full, ErrNotFound)
		}
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, full, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get %s/%s: %w", s.bucket, full, err)
	}
	return out.Body, nil
}

func (s *S3Source) Describe() string {
	return "s3://" + joinKey(s.bucket, s.prefix)
}

// S3PutAPI is the subset of the S3 client used by S3Sink.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes raster objects under s3://bucket/prefix.
type S3Sink struct {
	client S3PutAPI
	bucket string
	prefix string
}

// NewS3Sink returns a sink for bucket/prefix.
func NewS3Sink(client S3PutAPI, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) PutObject(ctx context.Context, key string, data []byte) error {
	full := joinKey(s.prefix, key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", s.bucket, full, err)
	}
	return nil
}
