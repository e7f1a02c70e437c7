// Package archive stores processed documents in S3-compatible object
// storage so originals survive local upload-dir cleanup.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/config"
)

// Client wraps a MinIO connection for document archival.
type Client struct {
	mc     *minio.Client
	bucket string
}

// New builds an archive client from config. Returns nil without error
// when no endpoint is configured; archival is optional and the pipeline
// runs without it.
func New(cfg config.ArchiveConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, eris.New("archive: bucket is required when endpoint is set")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "archive: connect")
	}
	return &Client{mc: mc, bucket: cfg.Bucket}, nil
}

// Available reports whether archival is configured.
func (c *Client) Available() bool {
	return c != nil && c.mc != nil
}

// EnsureBucket creates the archive bucket if it does not exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return eris.Wrapf(err, "archive: check bucket %s", c.bucket)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return eris.Wrapf(err, "archive: create bucket %s", c.bucket)
	}
	zap.L().Info("archive bucket created", zap.String("bucket", c.bucket))
	return nil
}

// Upload stores a local file under a date-partitioned key and returns
// the key. Keys look like 2026/01/<doc-id>/<filename>.
func (c *Client) Upload(ctx context.Context, docID, path, contentType string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", eris.Wrapf(err, "archive: stat %s", path)
	}

	key := ObjectKey(docID, filepath.Base(path), time.Now().UTC())
	_, err = c.mc.FPutObject(ctx, c.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", eris.Wrapf(err, "archive: upload %s", key)
	}

	zap.L().Debug("document archived",
		zap.String("document_id", docID),
		zap.String("key", key),
		zap.Int64("size_bytes", info.Size()),
	)
	return key, nil
}

// Presign returns a time-limited download URL for an archived object.
func (c *Client) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := c.mc.PresignedGetObject(ctx, c.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", eris.Wrapf(err, "archive: presign %s", key)
	}
	return u.String(), nil
}

// ObjectKey builds the date-partitioned object key for a document.
func ObjectKey(docID, filename string, at time.Time) string {
	return fmt.Sprintf("%04d/%02d/%s/%s", at.Year(), int(at.Month()), docID, filename)
}
