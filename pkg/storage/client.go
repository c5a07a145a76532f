// Package storage mirrors produced artifacts to S3.
package storage

import (
	"context"
	"io"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/Penacillin/knocker/pkg/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
	bucket   string
	prefix   string
}

// NewClient creates a new S3 client using the default credential chain
func NewClient(ctx context.Context, bucket, region, prefix string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region, "prefix", prefix)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

// ObjectKey maps a local artifact path to its key in the bucket
func ObjectKey(prefix, localPath string) string {
	return path.Join(prefix, filepath.Base(localPath))
}

// UploadResult contains upload metadata
type UploadResult struct {
	Bucket string
	Key    string
	Size   int64
}

// Upload stores body under the object key derived from localPath
func (c *Client) Upload(ctx context.Context, localPath string, body io.ReadSeeker, size int64, sha256sum string) (*UploadResult, error) {
	key := ObjectKey(c.prefix, localPath)
	slog.Info("s3_upload_start", "bucket", c.bucket, "s3_key", key, "size", size)

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{"sha256": sha256sum},
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to put object to S3")
	}

	slog.Info("s3_upload_complete", "bucket", c.bucket, "s3_key", key)
	return &UploadResult{Bucket: c.bucket, Key: key, Size: size}, nil
}
