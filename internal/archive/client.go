// Package archive uploads audit log segments to S3-compatible object
// storage. Archival never rewrites the live logs, and every archival run is
// itself recorded on the access chain so log handling stays auditable.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config holds S3 connection and behavior configuration.
type Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	StorageClass    string
	UsePathStyle    bool
	Timeout         time.Duration
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("archive: region is required")
	}
	if c.Bucket == "" {
		return errors.New("archive: bucket is required")
	}
	return nil
}

func (c *Config) storageClass() types.StorageClass {
	switch strings.ToUpper(c.StorageClass) {
	case "STANDARD":
		return types.StorageClassStandard
	case "STANDARD_IA":
		return types.StorageClassStandardIa
	case "INTELLIGENT_TIERING":
		return types.StorageClassIntelligentTiering
	case "GLACIER":
		return types.StorageClassGlacier
	case "DEEP_ARCHIVE":
		return types.StorageClassDeepArchive
	default:
		return types.StorageClassStandard
	}
}

// Client wraps the S3 API for segment uploads.
type Client struct {
	client *s3.Client
	config Config
	logger *slog.Logger

	objectsUploaded atomic.Int64
	bytesUploaded   atomic.Int64
	uploadErrors    atomic.Int64
}

// NewClient builds an S3 client. Static credentials are used when
// configured; otherwise the default AWS credential chain applies. A custom
// endpoint and path-style addressing support MinIO and similar stores.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	c := &Client{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		logger: logger,
	}

	logger.Info("archive client initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"storage_class", cfg.StorageClass,
	)

	return c, nil
}

// Upload puts one object under the configured prefix.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	fullKey := c.config.Prefix + key

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(c.config.Bucket),
		Key:          aws.String(fullKey),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		StorageClass: c.config.storageClass(),
	})
	if err != nil {
		c.uploadErrors.Add(1)
		return "", fmt.Errorf("archive: failed to upload object %s: %w", fullKey, err)
	}

	c.objectsUploaded.Add(1)
	c.bytesUploaded.Add(int64(len(data)))

	c.logger.Debug("uploaded archive object", "key", fullKey, "bytes", len(data))
	return fullKey, nil
}

// Metrics contains client counters.
type Metrics struct {
	ObjectsUploaded int64
	BytesUploaded   int64
	Errors          int64
}

// Metrics returns a snapshot of the client counters.
func (c *Client) Metrics() Metrics {
	return Metrics{
		ObjectsUploaded: c.objectsUploaded.Load(),
		BytesUploaded:   c.bytesUploaded.Load(),
		Errors:          c.uploadErrors.Load(),
	}
}
