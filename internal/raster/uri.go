package raster

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"darkspot/internal/types"
)

// URI schemes understood by ParseLocation.
const (
	SchemeFile  = "file"
	SchemeS3    = "s3"
	SchemeMinio = "minio"
)

// Location is a parsed raster URI.
type Location struct {
	Scheme string
	Bucket string
	// Prefix is the key prefix for object stores, or the directory for files.
	Prefix string
}

func (l Location) String() string {
	if l.Scheme == SchemeFile {
		return "file://" + l.Prefix
	}
	return l.Scheme + "://" + joinKey(l.Bucket, l.Prefix)
}

// ParseLocation accepts file:///dir, a bare path, s3://bucket/prefix and
// minio://bucket/prefix.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("raster: empty location")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: SchemeFile, Prefix: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("raster: invalid location %q: %w", raw, err)
	}
	switch u.Scheme {
	case SchemeFile:
		path := u.Path
		if u.Host != "" {
			// file://relative/dir
			path = u.Host + path
		}
		if path == "" {
			return Location{}, fmt.Errorf("raster: file location %q has no path", raw)
		}
		return Location{Scheme: SchemeFile, Prefix: path}, nil
	case SchemeS3, SchemeMinio:
		if u.Host == "" {
			return Location{}, fmt.Errorf("raster: location %q has no bucket", raw)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
	default:
		return Location{}, fmt.Errorf("raster: unsupported scheme %q", u.Scheme)
	}
}

// MinioConfig holds connection settings for minio:// locations.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey types.SecretString
	UseSSL    bool
	Region    string
}

// ConnectConfig carries what is needed to reach remote locations.
type ConnectConfig struct {
	AWSRegion   string
	AWSEndpoint string
	Minio       MinioConfig
	Breaker     BreakerSettings
	Retry       RetryPolicy
	Logger      *slog.Logger
}

// OpenSource returns a ChunkSource for loc. Remote sources are wrapped in a
// BreakerSource.
func OpenSource(ctx context.Context, loc Location, cfg ConnectConfig) (ChunkSource, error) {
	switch loc.Scheme {
	case SchemeFile:
		return NewFileSource(loc.Prefix), nil
	case SchemeS3:
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return wrapRemote(NewS3Source(client, loc.Bucket, loc.Prefix), loc, cfg), nil
	case SchemeMinio:
		client, err := newMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return wrapRemote(NewMinioSource(client, loc.Bucket, loc.Prefix), loc, cfg), nil
	default:
		return nil, fmt.Errorf("raster: unsupported scheme %q", loc.Scheme)
	}
}

// OpenSink returns an ObjectSink for loc.
func OpenSink(ctx context.Context, loc Location, cfg ConnectConfig) (ObjectSink, error) {
	switch loc.Scheme {
	case SchemeFile:
		return NewDirSink(loc.Prefix)
	case SchemeS3:
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Sink(client, loc.Bucket, loc.Prefix), nil
	case SchemeMinio:
		client, err := newMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return NewMinioSink(client, loc.Bucket, loc.Prefix), nil
	default:
		return nil, fmt.Errorf("raster: unsupported scheme %q", loc.Scheme)
	}
}

func wrapRemote(src ChunkSource, loc Location, cfg ConnectConfig) ChunkSource {
	settings := cfg.Breaker
	if settings.Name == "" {
		settings.Name = "raster-" + loc.Scheme
	}
	return NewBreakerSource(src, settings, cfg.Retry, cfg.Logger)
}

func newS3Client(ctx context.Context, cfg ConnectConfig) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("raster: load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func newMinioClient(cfg MinioConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("raster: minio endpoint is not configured")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Unmask(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("raster: minio client: %w", err)
	}
	return client, nil
}
