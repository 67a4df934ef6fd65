package backup

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// maxSinglePutSize is the largest object S3 accepts in one PUT. Segments up
// to this size are uploaded whole so their ETag stays a plain MD5.
const maxSinglePutSize int64 = 5 * 1024 * 1024 * 1024

// MinioObjectStore implements ObjectStore for S3-compatible endpoints such as
// MinIO and Ceph RGW. Containers are key prefixes inside the configured bucket.
type MinioObjectStore struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinioObjectStore creates a new MinioObjectStore instance
func NewMinioObjectStore(config *MinioConfig) (*MinioObjectStore, error) {
	if config == nil {
		return nil, NewValidationError("MinIO storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid MinIO storage configuration", err)
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, NewStorageError("failed to create MinIO client", err)
	}

	return &MinioObjectStore{
		client: client,
		bucket: config.Bucket,
		region: config.Region,
	}, nil
}

// EnsureContainer creates the bucket when it does not exist
func (ms *MinioObjectStore) EnsureContainer(ctx context.Context, container string) error {
	exists, err := ms.client.BucketExists(ctx, ms.bucket)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to check bucket %s", ms.bucket), err)
	}
	if exists {
		return nil
	}

	if err := ms.client.MakeBucket(ctx, ms.bucket, minio.MakeBucketOptions{Region: ms.region}); err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return NewStorageError(fmt.Sprintf("failed to create bucket %s", ms.bucket), err)
	}
	return nil
}

// PutObject uploads body and returns the ETag from the upload response
func (ms *MinioObjectStore) PutObject(ctx context.Context, container, key string, body io.ReadSeeker, size int64, metadata map[string]string) (string, error) {
	opts := putObjectOptions(size, metadata)

	info, err := ms.client.PutObject(ctx, ms.bucket, objectKey(container, key), body, size, opts)
	if err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to upload %s to MinIO", key), err)
	}
	return normalizeETag(info.ETag), nil
}

// putObjectOptions disables multipart below the single PUT limit so the
// returned ETag is the MD5 of the body.
func putObjectOptions(size int64, metadata map[string]string) minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType:      "application/octet-stream",
		UserMetadata:     metadata,
		DisableMultipart: size < maxSinglePutSize,
	}
}

// GetObject downloads an object
func (ms *MinioObjectStore) GetObject(ctx context.Context, container, key string) (io.ReadCloser, error) {
	obj, err := ms.client.GetObject(ctx, ms.bucket, objectKey(container, key), minio.GetObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download %s from MinIO", key), err)
	}
	return obj, nil
}

// HeadObject returns the user metadata of an object
func (ms *MinioObjectStore) HeadObject(ctx context.Context, container, key string) (map[string]string, error) {
	info, err := ms.client.StatObject(ctx, ms.bucket, objectKey(container, key), minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to stat %s in MinIO", key), err)
	}

	metadata := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		metadata[k] = v
	}
	return metadata, nil
}

// ListObjects lists the keys in container starting with prefix
func (ms *MinioObjectStore) ListObjects(ctx context.Context, container, prefix string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	containerPrefix := container + "/"
	var keys []string

	for obj := range ms.client.ListObjects(ctx, ms.bucket, minio.ListObjectsOptions{
		Prefix:    containerPrefix + prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, NewStorageError("failed to list objects in MinIO", obj.Err)
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, containerPrefix))
	}

	sort.Strings(keys)
	return keys, nil
}

// URL returns the bucket endpoint
func (ms *MinioObjectStore) URL() string {
	return strings.TrimSuffix(ms.client.EndpointURL().String(), "/") + "/" + ms.bucket
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
