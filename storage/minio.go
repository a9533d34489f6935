package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// PresignExpiry bounds how long a claim-time dataset URL stays valid.
const PresignExpiry = 15 * time.Minute

// DatasetStore wraps a MinIO client holding training datasets. Agents never
// receive storage credentials; a successful claim hands them a short-lived
// presigned URL instead.
type DatasetStore struct {
	client *minio.Client
}

// DatasetStoreConfig holds MinIO connection configuration
type DatasetStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewDatasetStore creates a dataset store with explicit configuration
func NewDatasetStore(cfg DatasetStoreConfig) (*DatasetStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	logrus.WithField("endpoint", cfg.Endpoint).Info("Dataset store initialized")
	return &DatasetStore{client: client}, nil
}

// PresignDataset turns a job's dataset path ("s3://bucket/key" or
// "bucket/key") into a presigned download URL.
func (s *DatasetStore) PresignDataset(ctx context.Context, datasetPath string) (string, error) {
	bucket, object, err := SplitDatasetPath(datasetPath)
	if err != nil {
		return "", err
	}

	if _, err := s.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{}); err != nil {
		return "", fmt.Errorf("dataset object %s/%s not accessible: %w", bucket, object, err)
	}

	u, err := s.client.PresignedGetObject(ctx, bucket, object, PresignExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign dataset object: %w", err)
	}
	return u.String(), nil
}

// UploadDataset stores a dataset object, creating the bucket if needed. Used
// by the upstream submission flow.
func (s *DatasetStore) UploadDataset(ctx context.Context, datasetPath string, reader io.Reader, size int64, contentType string) error {
	bucket, object, err := SplitDatasetPath(datasetPath)
	if err != nil {
		return err
	}

	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		logrus.WithField("bucket", bucket).Info("Bucket created")
	}

	if _, err := s.client.PutObject(ctx, bucket, object, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("failed to upload dataset: %w", err)
	}
	return nil
}

// SplitDatasetPath parses a dataset reference into bucket and object key.
// Accepts "s3://bucket/key" and plain "bucket/key".
func SplitDatasetPath(datasetPath string) (bucket, object string, err error) {
	p := strings.TrimPrefix(datasetPath, "s3://")
	parts := strings.SplitN(p, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid dataset path %q: want bucket/key", datasetPath)
	}
	return parts[0], parts[1], nil
}
