package backup

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSObjectStore implements ObjectStore for Google Cloud Storage.
// Containers are object name prefixes inside the configured bucket.
type GCSObjectStore struct {
	client     *storage.Client
	bucketName string
	projectID  string
}

// NewGCSObjectStore creates a new GCSObjectStore instance
func NewGCSObjectStore(ctx context.Context, config *GCSConfig) (*GCSObjectStore, error) {
	if config == nil {
		return nil, NewValidationError("GCS storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid GCS storage configuration", err)
	}

	var client *storage.Client
	var err error

	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		// default credentials from the environment or metadata server
		client, err = storage.NewClient(ctx)
	}

	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSObjectStore{
		client:     client,
		bucketName: config.Bucket,
		projectID:  config.ProjectID,
	}, nil
}

// EnsureContainer creates the bucket when it does not exist
func (gs *GCSObjectStore) EnsureContainer(ctx context.Context, container string) error {
	bucket := gs.client.Bucket(gs.bucketName)

	_, err := bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return NewStorageError(fmt.Sprintf("failed to access bucket %s", gs.bucketName), err)
	}

	if gs.projectID == "" {
		return NewConfigurationError(fmt.Sprintf("bucket %s does not exist and no project id is configured to create it", gs.bucketName), err)
	}
	if err := bucket.Create(ctx, gs.projectID, nil); err != nil {
		return NewStorageError(fmt.Sprintf("failed to create bucket %s", gs.bucketName), err)
	}
	return nil
}

// PutObject uploads body and returns the MD5 GCS computed for it
func (gs *GCSObjectStore) PutObject(ctx context.Context, container, key string, body io.ReadSeeker, size int64, metadata map[string]string) (string, error) {
	obj := gs.client.Bucket(gs.bucketName).Object(objectKey(container, key))

	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	if len(metadata) > 0 {
		writer.Metadata = metadata
	}

	if _, err := io.Copy(writer, body); err != nil {
		writer.Close()
		return "", NewStorageError(fmt.Sprintf("failed to upload %s to GCS", key), err)
	}
	if err := writer.Close(); err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to finalize %s upload to GCS", key), err)
	}

	return hex.EncodeToString(writer.Attrs().MD5), nil
}

// GetObject downloads an object
func (gs *GCSObjectStore) GetObject(ctx context.Context, container, key string) (io.ReadCloser, error) {
	reader, err := gs.client.Bucket(gs.bucketName).Object(objectKey(container, key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download %s from GCS", key), err)
	}
	return reader, nil
}

// HeadObject returns the metadata of an object
func (gs *GCSObjectStore) HeadObject(ctx context.Context, container, key string) (map[string]string, error) {
	attrs, err := gs.client.Bucket(gs.bucketName).Object(objectKey(container, key)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to read %s attributes from GCS", key), err)
	}

	if attrs.Metadata == nil {
		return map[string]string{}, nil
	}
	return attrs.Metadata, nil
}

// ListObjects lists the object names in container starting with prefix
func (gs *GCSObjectStore) ListObjects(ctx context.Context, container, prefix string) ([]string, error) {
	containerPrefix := container + "/"
	var keys []string

	it := gs.client.Bucket(gs.bucketName).Objects(ctx, &storage.Query{Prefix: containerPrefix + prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list objects in GCS", err)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, containerPrefix))
	}

	sort.Strings(keys)
	return keys, nil
}

// URL returns the bucket URL
func (gs *GCSObjectStore) URL() string {
	return "https://storage.googleapis.com/" + gs.bucketName
}

// GetBucketName returns the GCS bucket name
func (gs *GCSObjectStore) GetBucketName() string {
	return gs.bucketName
}

// Close releases the GCS client
func (gs *GCSObjectStore) Close() error {
	return gs.client.Close()
}
