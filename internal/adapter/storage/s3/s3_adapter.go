package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

// S3Storage stores uploads in a MinIO/S3 bucket.
type S3Storage struct {
	client *minio.Client
	bucket string
	logger *logger.Logger
}

// NewS3Storage creates the client and makes sure the bucket exists.
func NewS3Storage(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, log *logger.Logger) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client for endpoint %s: %w", endpoint, err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to make bucket %s: %w", bucket, err)
		}
		log.Info("Created object storage bucket", zap.String("bucket", bucket))
	}

	return &S3Storage{client: client, bucket: bucket, logger: log.Named("s3")}, nil
}

// ObjectKey builds <prefix>/<uuid><ext> keeping the original extension.
func ObjectKey(prefix, originalFileName string) string {
	ext := strings.ToLower(filepath.Ext(originalFileName))
	return path.Join(prefix, uuid.NewString()+ext)
}

func (s *S3Storage) Upload(ctx context.Context, prefix, originalFileName, contentType string, data []byte) (string, error) {
	key := ObjectKey(prefix, originalFileName)

	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.logger.Error("PutObject failed", zap.String("bucket", s.bucket), zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	s.logger.Info("Object uploaded", zap.String("key", info.Key), zap.Int64("size", info.Size))

	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucket, key), nil
}
