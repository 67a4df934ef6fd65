package backup

import (
	"os"
	"strconv"
	"strings"

	"dbaas-backup-agent/internal/database"
)

const (
	DefaultChunkSize        int64 = 65536
	DefaultSegmentMaxSize   int64 = 2 * 1024 * 1024 * 1024
	DefaultContainer              = "z_CLOUDDB_BACKUPS"
	DefaultBackupNamespace        = "guestagent.strategies.backup"
	DefaultRestoreNamespace       = "guestagent.strategies.restore"
	DefaultStorageNamespace       = "guestagent.strategies.storage"
	DefaultBackupStrategy         = "innobackupex"
	DefaultStorageStrategy        = "local"
	DefaultRestoreLocation        = "/var/lib/mysql"
)

// AgentConfig is the complete configuration of the backup agent
type AgentConfig struct {
	ChunkSize       int64             `yaml:"chunk_size" mapstructure:"chunk_size"`
	SegmentMaxSize  int64             `yaml:"segment_max_size" mapstructure:"segment_max_size"`
	Container       string            `yaml:"container" mapstructure:"container"`
	RestoreLocation string            `yaml:"restore_location" mapstructure:"restore_location"`
	SpoolDir        string            `yaml:"spool_dir,omitempty" mapstructure:"spool_dir"`
	Strategies      StrategiesConfig  `yaml:"strategies" mapstructure:"strategies"`
	Credentials     CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`
	Storage         StorageConfig     `yaml:"storage" mapstructure:"storage"`
	Records         RecordsConfig     `yaml:"records" mapstructure:"records"`

	// Guest is the administrative connection to the local MySQL server
	Guest *database.DatabaseConfig `yaml:"guest,omitempty" mapstructure:"guest"`
}

// StrategiesConfig selects the active strategies and declares user-defined ones
type StrategiesConfig struct {
	BackupNamespace  string `yaml:"backup_namespace" mapstructure:"backup_namespace"`
	BackupStrategy   string `yaml:"backup_strategy" mapstructure:"backup_strategy"`
	RestoreNamespace string `yaml:"restore_namespace" mapstructure:"restore_namespace"`
	StorageNamespace string `yaml:"storage_namespace" mapstructure:"storage_namespace"`
	StorageStrategy  string `yaml:"storage_strategy" mapstructure:"storage_strategy"`

	Backup  []BackupTypeConfig  `yaml:"backup,omitempty" mapstructure:"backup"`
	Restore []RestoreTypeConfig `yaml:"restore,omitempty" mapstructure:"restore"`
}

// BackupTypeConfig declares a backup type in configuration
type BackupTypeConfig struct {
	Name           string `yaml:"name" mapstructure:"name"`
	Command        string `yaml:"command" mapstructure:"command"`
	ManifestSuffix string `yaml:"manifest_suffix" mapstructure:"manifest_suffix"`
}

// RestoreTypeConfig declares a restore type in configuration
type RestoreTypeConfig struct {
	Name           string          `yaml:"name" mapstructure:"name"`
	Command        string          `yaml:"command" mapstructure:"command"`
	PrepareCommand string          `yaml:"prepare_command,omitempty" mapstructure:"prepare_command"`
	Compression    CompressionType `yaml:"compression" mapstructure:"compression"`
}

// CredentialsConfig holds the parameters substituted into command templates
type CredentialsConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	DataDir  string `yaml:"data_dir" mapstructure:"data_dir"`
}

// RecordsConfig selects the backup record store
type RecordsConfig struct {
	Driver RecordDriver             `yaml:"driver" mapstructure:"driver"`
	MySQL  *database.DatabaseConfig `yaml:"mysql,omitempty" mapstructure:"mysql"`
	Redis  *RedisConfig             `yaml:"redis,omitempty" mapstructure:"redis"`
}

// RedisConfig for the Redis record store
type RedisConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	KeyPrefix string `yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`
}

// Params returns the credentials as command template parameters
func (cc CredentialsConfig) Params() map[string]string {
	return map[string]string{
		"host":     cc.Host,
		"user":     cc.User,
		"password": cc.Password,
		"data_dir": cc.DataDir,
	}
}

// SetDefaults sets default values for the agent configuration
func (ac *AgentConfig) SetDefaults() {
	if ac.ChunkSize == 0 {
		ac.ChunkSize = DefaultChunkSize
	}
	if ac.SegmentMaxSize == 0 {
		ac.SegmentMaxSize = DefaultSegmentMaxSize
	}
	if ac.Container == "" {
		ac.Container = DefaultContainer
	}
	if ac.RestoreLocation == "" {
		ac.RestoreLocation = DefaultRestoreLocation
	}

	ac.Strategies.SetDefaults()
	ac.Credentials.SetDefaults()
	ac.Storage.SetDefaults(StorageProviderType(ac.Strategies.StorageStrategy))
	ac.Records.SetDefaults()
}

// LoadFromEnvironment loads configuration values from environment variables
func (ac *AgentConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_CHUNK_SIZE"); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			ac.ChunkSize = parsed
		}
	}

	if val := os.Getenv("BACKUP_SEGMENT_MAX_SIZE"); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			ac.SegmentMaxSize = parsed
		}
	}

	if val := os.Getenv("BACKUP_CONTAINER"); val != "" {
		ac.Container = val
	}

	if val := os.Getenv("BACKUP_RESTORE_LOCATION"); val != "" {
		ac.RestoreLocation = val
	}

	if val := os.Getenv("BACKUP_SPOOL_DIR"); val != "" {
		ac.SpoolDir = val
	}

	ac.Strategies.LoadFromEnvironment()
	ac.Credentials.LoadFromEnvironment()
	ac.Storage.LoadFromEnvironment(StorageProviderType(ac.Strategies.StorageStrategy))
	ac.Records.LoadFromEnvironment()
}

// Validate validates the AgentConfig
func (ac *AgentConfig) Validate() error {
	var errors ValidationErrors

	if ac.ChunkSize <= 0 {
		errors.Add("chunk_size", "chunk size must be positive", ac.ChunkSize)
	}

	if ac.SegmentMaxSize < ac.ChunkSize {
		errors.Add("segment_max_size", "segment max size must be at least the chunk size", ac.SegmentMaxSize)
	}

	if ac.Container == "" || strings.Contains(ac.Container, "/") {
		errors.Add("container", "container must be a non-empty name without '/'", ac.Container)
	}

	if ac.Strategies.BackupStrategy == "" {
		errors.Add("strategies.backup_strategy", "backup strategy is required", nil)
	}

	if ac.Strategies.StorageStrategy == "" {
		errors.Add("strategies.storage_strategy", "storage strategy is required", nil)
	}

	for i, bt := range ac.Strategies.Backup {
		if bt.Name == "" || bt.Command == "" {
			errors.Add("strategies.backup", "backup types need a name and a command", i)
		}
	}

	for i, rt := range ac.Strategies.Restore {
		if rt.Name == "" || rt.Command == "" {
			errors.Add("strategies.restore", "restore types need a name and a command", i)
		}
		if rt.Compression != "" && !isValidCompressionType(rt.Compression) {
			errors.Add("strategies.restore", "unsupported compression", rt.Compression)
		}
	}

	if err := ValidateStorageConfig(StorageProviderType(ac.Strategies.StorageStrategy), ac.Storage); err != nil {
		if validationErrs, ok := err.(ValidationErrors); ok {
			errors = append(errors, validationErrs...)
		} else {
			errors.Add("storage", err.Error(), nil)
		}
	}

	if err := ac.Records.Validate(); err != nil {
		if validationErrs, ok := err.(ValidationErrors); ok {
			errors = append(errors, validationErrs...)
		} else {
			errors.Add("records", err.Error(), nil)
		}
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// SetDefaults fills in the default namespaces and strategies
func (sc *StrategiesConfig) SetDefaults() {
	if sc.BackupNamespace == "" {
		sc.BackupNamespace = DefaultBackupNamespace
	}
	if sc.BackupStrategy == "" {
		sc.BackupStrategy = DefaultBackupStrategy
	}
	if sc.RestoreNamespace == "" {
		sc.RestoreNamespace = DefaultRestoreNamespace
	}
	if sc.StorageNamespace == "" {
		sc.StorageNamespace = DefaultStorageNamespace
	}
	if sc.StorageStrategy == "" {
		sc.StorageStrategy = DefaultStorageStrategy
	}
}

// LoadFromEnvironment loads strategy selection from environment variables
func (sc *StrategiesConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_STRATEGY"); val != "" {
		sc.BackupStrategy = val
	}

	if val := os.Getenv("BACKUP_STORAGE_STRATEGY"); val != "" {
		sc.StorageStrategy = strings.ToLower(val)
	}
}

// SetDefaults fills the local connection defaults
func (cc *CredentialsConfig) SetDefaults() {
	if cc.Host == "" {
		cc.Host = "localhost"
	}
	if cc.DataDir == "" {
		cc.DataDir = DefaultRestoreLocation
	}
}

// LoadFromEnvironment loads command credentials from environment variables
func (cc *CredentialsConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_DB_HOST"); val != "" {
		cc.Host = val
	}

	if val := os.Getenv("BACKUP_DB_USER"); val != "" {
		cc.User = val
	}

	if val := os.Getenv("BACKUP_DB_PASSWORD"); val != "" {
		cc.Password = val
	}

	if val := os.Getenv("BACKUP_DATA_DIR"); val != "" {
		cc.DataDir = val
	}
}

// SetDefaults selects the in-memory record store when nothing is configured
func (rc *RecordsConfig) SetDefaults() {
	if rc.Driver == "" {
		rc.Driver = RecordDriverMemory
	}

	switch rc.Driver {
	case RecordDriverMySQL:
		if rc.MySQL != nil {
			rc.MySQL.SetDefaults()
		}
	case RecordDriverRedis:
		if rc.Redis == nil {
			rc.Redis = &RedisConfig{}
		}
		if rc.Redis.KeyPrefix == "" {
			rc.Redis.KeyPrefix = "backup"
		}
	}
}

// LoadFromEnvironment loads the record store selection from environment variables
func (rc *RecordsConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_RECORDS_DRIVER"); val != "" {
		rc.Driver = RecordDriver(strings.ToLower(val))
	}

	if val := os.Getenv("BACKUP_RECORDS_REDIS_URL"); val != "" {
		if rc.Redis == nil {
			rc.Redis = &RedisConfig{KeyPrefix: "backup"}
		}
		rc.Redis.URL = val
	}
}

// Validate validates the RecordsConfig
func (rc *RecordsConfig) Validate() error {
	var errors ValidationErrors

	if !isValidRecordDriver(rc.Driver) {
		errors.Add("records.driver", "unsupported record driver", rc.Driver)
	}

	switch rc.Driver {
	case RecordDriverMySQL:
		if rc.MySQL == nil {
			errors.Add("records.mysql", "mysql connection is required for the mysql driver", nil)
		} else if rc.MySQL.Database == "" {
			errors.Add("records.mysql.database", "database name is required", nil)
		}
	case RecordDriverRedis:
		if rc.Redis == nil || rc.Redis.URL == "" {
			errors.Add("records.redis.url", "redis URL is required for the redis driver", nil)
		}
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// SetDefaults sets default values for the provider section the strategy uses
func (sc *StorageConfig) SetDefaults(provider StorageProviderType) {
	switch provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		sc.Local.SetDefaults()
	case StorageProviderS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		sc.S3.SetDefaults()
	case StorageProviderMinio:
		if sc.Minio == nil {
			sc.Minio = &MinioConfig{}
		}
		sc.Minio.SetDefaults()
	case StorageProviderAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
	case StorageProviderGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		sc.GCS.SetDefaults()
	}
}

// LoadFromEnvironment loads storage configuration from environment variables
func (sc *StorageConfig) LoadFromEnvironment(provider StorageProviderType) {
	switch provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		sc.Local.LoadFromEnvironment()
	case StorageProviderS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		sc.S3.LoadFromEnvironment()
	case StorageProviderMinio:
		if sc.Minio == nil {
			sc.Minio = &MinioConfig{}
		}
		sc.Minio.LoadFromEnvironment()
	case StorageProviderAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
		sc.Azure.LoadFromEnvironment()
	case StorageProviderGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		sc.GCS.LoadFromEnvironment()
	}
}

// SetDefaults sets default values for local storage configuration
func (lc *LocalConfig) SetDefaults() {
	if lc.BasePath == "" {
		lc.BasePath = "/var/lib/dbaas-backups"
	}

	if lc.Permissions == 0 {
		lc.Permissions = 0750
	}
}

// LoadFromEnvironment loads local storage configuration from environment variables
func (lc *LocalConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_LOCAL_BASE_PATH"); val != "" {
		lc.BasePath = val
	}

	if val := os.Getenv("BACKUP_LOCAL_PERMISSIONS"); val != "" {
		if parsed, err := strconv.ParseUint(val, 8, 32); err == nil {
			lc.Permissions = os.FileMode(parsed)
		}
	}
}

// SetDefaults sets default values for S3 storage configuration
func (s3c *S3Config) SetDefaults() {
	if s3c.Region == "" {
		s3c.Region = "us-east-1"
	}
}

// LoadFromEnvironment loads S3 storage configuration from environment variables
func (s3c *S3Config) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_S3_BUCKET"); val != "" {
		s3c.Bucket = val
	}

	if val := os.Getenv("BACKUP_S3_REGION"); val != "" {
		s3c.Region = val
	}

	if val := os.Getenv("BACKUP_S3_ACCESS_KEY"); val != "" {
		s3c.AccessKey = val
	}

	if val := os.Getenv("BACKUP_S3_SECRET_KEY"); val != "" {
		s3c.SecretKey = val
	}

	if val := os.Getenv("BACKUP_S3_ENDPOINT"); val != "" {
		s3c.Endpoint = val
	}
}

// SetDefaults sets default values for MinIO storage configuration
func (mc *MinioConfig) SetDefaults() {
	if mc.Region == "" {
		mc.Region = "us-east-1"
	}
}

// LoadFromEnvironment loads MinIO storage configuration from environment variables
func (mc *MinioConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_MINIO_ENDPOINT"); val != "" {
		mc.Endpoint = val
	}

	if val := os.Getenv("BACKUP_MINIO_BUCKET"); val != "" {
		mc.Bucket = val
	}

	if val := os.Getenv("BACKUP_MINIO_ACCESS_KEY"); val != "" {
		mc.AccessKey = val
	}

	if val := os.Getenv("BACKUP_MINIO_SECRET_KEY"); val != "" {
		mc.SecretKey = val
	}

	if val := os.Getenv("BACKUP_MINIO_USE_SSL"); val != "" {
		mc.UseSSL = strings.ToLower(val) == "true"
	}
}

// LoadFromEnvironment loads Azure storage configuration from environment variables
func (ac *AzureConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_AZURE_ACCOUNT_NAME"); val != "" {
		ac.AccountName = val
	}

	if val := os.Getenv("BACKUP_AZURE_ACCOUNT_KEY"); val != "" {
		ac.AccountKey = val
	}

	if val := os.Getenv("BACKUP_AZURE_CONTAINER_NAME"); val != "" {
		ac.ContainerName = val
	}
}

// SetDefaults sets default values for GCS storage configuration
func (gc *GCSConfig) SetDefaults() {
	if gc.CredentialsPath == "" {
		gc.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
}

// LoadFromEnvironment loads GCS storage configuration from environment variables
func (gc *GCSConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_GCS_BUCKET"); val != "" {
		gc.Bucket = val
	}

	if val := os.Getenv("BACKUP_GCS_CREDENTIALS_PATH"); val != "" {
		gc.CredentialsPath = val
	}

	if val := os.Getenv("BACKUP_GCS_PROJECT_ID"); val != "" {
		gc.ProjectID = val
	}
}
