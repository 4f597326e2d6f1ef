package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/tourlink/booking-backend/internal/config"
)

// DocumentArchive stores generated vouchers and supplier tickets
type DocumentArchive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// S3Archive uploads documents to an S3 bucket
type S3Archive struct {
	uploader *s3manager.Uploader
	bucket   string
	region   string
	endpoint string
}

// LocalArchive writes documents under a directory
type LocalArchive struct {
	dir string
}

// NewDocumentArchive returns an S3 archive when a bucket and credentials are
// configured, otherwise a local one
func NewDocumentArchive(cfg config.StorageConfig, logger *logrus.Logger) (DocumentArchive, error) {
	if cfg.Bucket != "" && cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg := &aws.Config{
			Region:      aws.String(cfg.Region),
			Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		}
		if cfg.Endpoint != "" {
			awsCfg.Endpoint = aws.String(cfg.Endpoint)
			awsCfg.S3ForcePathStyle = aws.Bool(true)
		}

		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}

		logger.WithField("bucket", cfg.Bucket).Info("Document archive: S3")
		return &S3Archive{
			uploader: s3manager.NewUploader(sess),
			bucket:   cfg.Bucket,
			region:   cfg.Region,
			endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		}, nil
	}

	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	logger.WithField("dir", cfg.LocalDir).Warn("S3 not configured, archiving documents locally")
	return &LocalArchive{dir: cfg.LocalDir}, nil
}

// Put uploads body under key and returns its URL
func (a *S3Archive) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	if a.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", a.endpoint, a.bucket, key), nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, key), nil
}

// NewLocalArchive creates an archive rooted at dir
func NewLocalArchive(dir string) *LocalArchive {
	return &LocalArchive{dir: dir}
}

// Put writes body to dir/key and returns the relative path
func (a *LocalArchive) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := filepath.Clean("/" + key)[1:]
	path := filepath.Join(a.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return "", fmt.Errorf("failed to write archive file: %w", err)
	}
	return filepath.ToSlash(clean), nil
}
