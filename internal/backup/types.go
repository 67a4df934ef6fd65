package backup

import (
	"fmt"
	"os"
	"time"
)

// BackupRecord is the persisted state of one backup
type BackupRecord struct {
	ID          string      `json:"id"`
	InstanceID  string      `json:"instance_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	State       BackupState `json:"state"`
	BackupType  string      `json:"backup_type,omitempty"`
	Checksum    string      `json:"checksum,omitempty"`
	Location    string      `json:"location,omitempty"`
	Note        string      `json:"note,omitempty"`
	Created     time.Time   `json:"created"`
	Updated     time.Time   `json:"updated"`
}

// BackupState is the lifecycle state of a BackupRecord
type BackupState string

const (
	BackupStateNew       BackupState = "NEW"
	BackupStateBuilding  BackupState = "BUILDING"
	BackupStateCompleted BackupState = "COMPLETED"
	BackupStateFailed    BackupState = "FAILED"
)

// StrategyKey identifies a pluggable strategy
type StrategyKey struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

func (k StrategyKey) String() string {
	return fmt.Sprintf("%s.%s", k.Namespace, k.Name)
}

// Location addresses the manifest of a stored backup
type Location struct {
	Endpoint  string
	Container string
	Manifest  string
}

// SaveResult is the outcome of persisting a backup stream
type SaveResult struct {
	Success  bool
	Note     string
	Checksum string
	Location string
}

// StorageConfig defines storage provider configuration. The storage
// strategy name selects which section is used.
type StorageConfig struct {
	Local *LocalConfig `yaml:"local,omitempty" mapstructure:"local"`
	S3    *S3Config    `yaml:"s3,omitempty" mapstructure:"s3"`
	Minio *MinioConfig `yaml:"minio,omitempty" mapstructure:"minio"`
	Azure *AzureConfig `yaml:"azure,omitempty" mapstructure:"azure"`
	GCS   *GCSConfig   `yaml:"gcs,omitempty" mapstructure:"gcs"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `yaml:"base_path" mapstructure:"base_path"`
	Permissions os.FileMode `yaml:"permissions" mapstructure:"permissions"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket         string `yaml:"bucket" mapstructure:"bucket"`
	Region         string `yaml:"region" mapstructure:"region"`
	AccessKey      string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey      string `yaml:"secret_key" mapstructure:"secret_key"`
	Endpoint       string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style,omitempty" mapstructure:"force_path_style"`
}

// MinioConfig for S3-compatible object stores reached through minio-go
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Region    string `yaml:"region,omitempty" mapstructure:"region"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `yaml:"account_name" mapstructure:"account_name"`
	AccountKey    string `yaml:"account_key" mapstructure:"account_key"`
	ContainerName string `yaml:"container_name" mapstructure:"container_name"`
	// Endpoint overrides the account's public blob endpoint, e.g. for Azurite
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	CredentialsPath string `yaml:"credentials_path" mapstructure:"credentials_path"`
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
}

type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

type StorageProviderType string

const (
	StorageProviderLocal  StorageProviderType = "local"
	StorageProviderS3     StorageProviderType = "s3"
	StorageProviderMinio  StorageProviderType = "minio"
	StorageProviderAzure  StorageProviderType = "azure"
	StorageProviderGCS    StorageProviderType = "gcs"
	StorageProviderMemory StorageProviderType = "memory"
)

// RecordDriver selects the record store implementation
type RecordDriver string

const (
	RecordDriverMemory RecordDriver = "memory"
	RecordDriverMySQL  RecordDriver = "mysql"
	RecordDriverRedis  RecordDriver = "redis"
)
