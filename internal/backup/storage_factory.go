package backup

import (
	"context"
	"fmt"
)

// builtinStorageFactories returns a factory per supported provider. The
// memory factory hands out one store, so a backup and a later restore
// through the same registry see the same objects.
func builtinStorageFactories() map[StorageProviderType]StorageFactory {
	memory := NewMemoryObjectStore("")

	return map[StorageProviderType]StorageFactory{
		StorageProviderLocal: objectStoreFactory(func(ctx context.Context, config StorageConfig) (ObjectStore, error) {
			return NewLocalObjectStore(config.Local)
		}),
		StorageProviderS3: objectStoreFactory(func(ctx context.Context, config StorageConfig) (ObjectStore, error) {
			return NewS3ObjectStore(config.S3)
		}),
		StorageProviderMinio: objectStoreFactory(func(ctx context.Context, config StorageConfig) (ObjectStore, error) {
			return NewMinioObjectStore(config.Minio)
		}),
		StorageProviderAzure: objectStoreFactory(func(ctx context.Context, config StorageConfig) (ObjectStore, error) {
			return NewAzureObjectStore(config.Azure)
		}),
		StorageProviderGCS: objectStoreFactory(func(ctx context.Context, config StorageConfig) (ObjectStore, error) {
			return NewGCSObjectStore(ctx, config.GCS)
		}),
		StorageProviderMemory: NewObjectStoreFactory(memory),
	}
}

// objectStoreFactory adapts an ObjectStore constructor into a StorageFactory
func objectStoreFactory(build func(ctx context.Context, config StorageConfig) (ObjectStore, error)) StorageFactory {
	return func(ctx context.Context, opts StorageOptions) (Storage, error) {
		store, err := build(ctx, opts.Config)
		if err != nil {
			return nil, err
		}
		return NewSegmentedStorage(store, opts), nil
	}
}

// NewObjectStoreFactory returns a StorageFactory that always wraps store
func NewObjectStoreFactory(store ObjectStore) StorageFactory {
	return func(ctx context.Context, opts StorageOptions) (Storage, error) {
		return NewSegmentedStorage(store, opts), nil
	}
}

// GetSupportedProviders returns the built-in storage strategy names
func GetSupportedProviders() []StorageProviderType {
	return []StorageProviderType{
		StorageProviderLocal,
		StorageProviderS3,
		StorageProviderMinio,
		StorageProviderAzure,
		StorageProviderGCS,
		StorageProviderMemory,
	}
}

// ValidateStorageConfig checks the provider section a storage strategy uses
func ValidateStorageConfig(provider StorageProviderType, config StorageConfig) error {
	switch provider {
	case StorageProviderLocal:
		if config.Local == nil {
			return NewValidationError("local storage configuration is required", nil)
		}
		return config.Local.Validate()
	case StorageProviderS3:
		if config.S3 == nil {
			return NewValidationError("S3 storage configuration is required", nil)
		}
		return config.S3.Validate()
	case StorageProviderMinio:
		if config.Minio == nil {
			return NewValidationError("MinIO storage configuration is required", nil)
		}
		return config.Minio.Validate()
	case StorageProviderAzure:
		if config.Azure == nil {
			return NewValidationError("Azure storage configuration is required", nil)
		}
		return config.Azure.Validate()
	case StorageProviderGCS:
		if config.GCS == nil {
			return NewValidationError("GCS storage configuration is required", nil)
		}
		return config.GCS.Validate()
	case StorageProviderMemory:
		return nil
	default:
		// user-registered strategies validate their own configuration
		return nil
	}
}

func (lc *LocalConfig) Validate() error {
	var errors ValidationErrors

	if lc.BasePath == "" {
		errors.Add("storage.local.base_path", "base path is required", nil)
	}
	if lc.Permissions == 0 {
		errors.Add("storage.local.permissions", "permissions must be set", nil)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

func (s3c *S3Config) Validate() error {
	var errors ValidationErrors

	if s3c.Bucket == "" {
		errors.Add("storage.s3.bucket", "bucket is required", nil)
	}
	if s3c.Region == "" {
		errors.Add("storage.s3.region", "region is required", nil)
	}
	if (s3c.AccessKey == "") != (s3c.SecretKey == "") {
		errors.Add("storage.s3.access_key", "access key and secret key must be set together", nil)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

func (mc *MinioConfig) Validate() error {
	var errors ValidationErrors

	if mc.Endpoint == "" {
		errors.Add("storage.minio.endpoint", "endpoint is required", nil)
	}
	if mc.Bucket == "" {
		errors.Add("storage.minio.bucket", "bucket is required", nil)
	}
	if mc.AccessKey == "" || mc.SecretKey == "" {
		errors.Add("storage.minio.access_key", "access key and secret key are required", nil)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

func (ac *AzureConfig) Validate() error {
	var errors ValidationErrors

	if ac.AccountName == "" {
		errors.Add("storage.azure.account_name", "account name is required", nil)
	}
	if ac.AccountKey == "" {
		errors.Add("storage.azure.account_key", "account key is required", nil)
	}
	if ac.ContainerName == "" {
		errors.Add("storage.azure.container_name", "container name is required", nil)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

func (gc *GCSConfig) Validate() error {
	if gc.Bucket == "" {
		var errors ValidationErrors
		errors.Add("storage.gcs.bucket", "bucket is required", nil)
		return errors
	}
	return nil
}

// DescribeStorage names the endpoint a provider section points at
func DescribeStorage(provider StorageProviderType, config StorageConfig) string {
	switch provider {
	case StorageProviderLocal:
		if config.Local != nil {
			return fmt.Sprintf("local:%s", config.Local.BasePath)
		}
	case StorageProviderS3:
		if config.S3 != nil {
			return fmt.Sprintf("s3:%s", config.S3.Bucket)
		}
	case StorageProviderMinio:
		if config.Minio != nil {
			return fmt.Sprintf("minio:%s/%s", config.Minio.Endpoint, config.Minio.Bucket)
		}
	case StorageProviderAzure:
		if config.Azure != nil {
			return fmt.Sprintf("azure:%s/%s", config.Azure.AccountName, config.Azure.ContainerName)
		}
	case StorageProviderGCS:
		if config.GCS != nil {
			return fmt.Sprintf("gcs:%s", config.GCS.Bucket)
		}
	}
	return string(provider)
}
