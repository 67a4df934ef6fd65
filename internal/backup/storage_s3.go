package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3ObjectStore implements ObjectStore for Amazon S3 and S3-compatible
// endpoints. Containers are key prefixes inside the configured bucket.
type S3ObjectStore struct {
	client   *s3.S3
	bucket   string
	region   string
	endpoint string
}

// NewS3ObjectStore creates a new S3ObjectStore instance
func NewS3ObjectStore(config *S3Config) (*S3ObjectStore, error) {
	if config == nil {
		return nil, NewValidationError("S3 storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid S3 storage configuration", err)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(config.ForcePathStyle)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return &S3ObjectStore{
		client:   s3.New(sess),
		bucket:   config.Bucket,
		region:   config.Region,
		endpoint: config.Endpoint,
	}, nil
}

// EnsureContainer creates the bucket when it does not exist
func (s3s *S3ObjectStore) EnsureContainer(ctx context.Context, container string) error {
	_, err := s3s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3s.bucket),
	})
	if err == nil {
		return nil
	}
	if !isS3NotFound(err) {
		return NewStorageError(fmt.Sprintf("failed to access bucket %s", s3s.bucket), err)
	}

	_, err = s3s.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s3s.bucket),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou {
			return nil
		}
		return NewStorageError(fmt.Sprintf("failed to create bucket %s", s3s.bucket), err)
	}
	return nil
}

// PutObject uploads body and returns its ETag
func (s3s *S3ObjectStore) PutObject(ctx context.Context, container, key string, body io.ReadSeeker, size int64, metadata map[string]string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s3s.bucket),
		Key:           aws.String(objectKey(container, key)),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if len(metadata) > 0 {
		input.Metadata = aws.StringMap(metadata)
	}

	result, err := s3s.client.PutObjectWithContext(ctx, input)
	if err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to upload %s to S3", key), err)
	}
	return normalizeETag(aws.StringValue(result.ETag)), nil
}

// GetObject downloads an object
func (s3s *S3ObjectStore) GetObject(ctx context.Context, container, key string) (io.ReadCloser, error) {
	result, err := s3s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3s.bucket),
		Key:    aws.String(objectKey(container, key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download %s from S3", key), err)
	}
	return result.Body, nil
}

// HeadObject returns the user metadata of an object
func (s3s *S3ObjectStore) HeadObject(ctx context.Context, container, key string) (map[string]string, error) {
	result, err := s3s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s3s.bucket),
		Key:    aws.String(objectKey(container, key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to read %s metadata from S3", key), err)
	}
	return aws.StringValueMap(result.Metadata), nil
}

// ListObjects lists the keys in container starting with prefix
func (s3s *S3ObjectStore) ListObjects(ctx context.Context, container, prefix string) ([]string, error) {
	containerPrefix := container + "/"
	var keys []string

	err := s3s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s3s.bucket),
		Prefix: aws.String(containerPrefix + prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.StringValue(obj.Key), containerPrefix))
		}
		return true
	})
	if err != nil {
		return nil, NewStorageError("failed to list objects in S3", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// URL returns the bucket endpoint
func (s3s *S3ObjectStore) URL() string {
	if s3s.endpoint != "" {
		return strings.TrimSuffix(s3s.endpoint, "/") + "/" + s3s.bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s3s.bucket, s3s.region)
}

// GetBucket returns the S3 bucket name
func (s3s *S3ObjectStore) GetBucket() string {
	return s3s.bucket
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// objectKey places key under its container prefix
func objectKey(container, key string) string {
	return container + "/" + key
}

// normalizeETag strips the quotes object stores put around ETags
func normalizeETag(etag string) string {
	return strings.ToLower(strings.Trim(etag, `"`))
}
