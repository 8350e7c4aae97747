// Package objstore wraps the object storage backend that holds uploaded
// attachment bytes. Metadata lives in Postgres; only the file content goes
// here.
package objstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/crypto/blake2b"
)

// Storage stores and deletes attachment content. Paths returned by Upload are
// opaque to callers and recorded verbatim in the metadata row.
type Storage interface {
	Upload(ctx context.Context, userID, orderID, objectName string, content []byte, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// MinioStorage implements Storage against a minio/S3 bucket.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

// NewMinioStorage connects to minio and ensures the bucket exists.
func NewMinioStorage(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MinioStorage{client: client, bucket: bucket}, nil
}

// Upload writes content under a path scoped to (user, order) and returns the
// object path.
func (s *MinioStorage) Upload(ctx context.Context, userID, orderID, objectName string, content []byte, contentType string) (string, error) {
	path := ObjectPath(userID, orderID, objectName)
	_, err := s.client.PutObject(ctx, s.bucket, path,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		return "", fmt.Errorf("put object %s (status %d): %w", path, resp.StatusCode, err)
	}
	return path, nil
}

// Delete removes an object by path.
func (s *MinioStorage) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", path, err)
	}
	return nil
}

// ObjectPath builds the storage path for one object. Orderless sessions go
// under a literal "no-order" segment so the path depth stays constant.
func ObjectPath(userID, orderID, objectName string) string {
	order := orderID
	if order == "" {
		order = "no-order"
	}
	return strings.Join([]string{userID, order, objectName}, "/")
}

// ContentHash computes the advisory blake2b-256 digest of content. The hash
// exists for dedup and integrity checks downstream; an empty result is valid
// and must not block an upload.
func ContentHash(content []byte) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		return ""
	}
	_, _ = h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
