package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigLoader handles loading and parsing agent configuration
type ConfigLoader struct {
	configPath string
}

// NewConfigLoader creates a new configuration loader
func NewConfigLoader(configPath string) *ConfigLoader {
	return &ConfigLoader{
		configPath: configPath,
	}
}

// LoadConfig loads the agent configuration from file and environment variables
func (cl *ConfigLoader) LoadConfig() (*AgentConfig, error) {
	config := &AgentConfig{}
	config.SetDefaults()

	if cl.configPath != "" {
		if err := cl.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	return finishConfig(config)
}

// loadFromFile loads configuration from a YAML file. A missing file keeps the defaults.
func (cl *ConfigLoader) loadFromFile(config *AgentConfig) error {
	if _, err := os.Stat(cl.configPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(cl.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cl.configPath, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// SaveConfig saves the agent configuration to a YAML file
func (cl *ConfigLoader) SaveConfig(config *AgentConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	dir := filepath.Dir(cl.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// credentials live in this file
	if err := os.WriteFile(cl.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadConfigFromBytes loads configuration from YAML bytes
func LoadConfigFromBytes(data []byte) (*AgentConfig, error) {
	config := &AgentConfig{}
	config.SetDefaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return finishConfig(config)
}

// finishConfig applies environment overrides, fills defaults for anything the
// file or environment switched on, and validates.
func finishConfig(config *AgentConfig) (*AgentConfig, error) {
	config.LoadFromEnvironment()
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// GenerateDefaultConfig returns the configuration used when no file is present
func GenerateDefaultConfig() *AgentConfig {
	config := &AgentConfig{}
	config.SetDefaults()
	return config
}

// GenerateDefaultConfigYAML generates a default configuration as YAML with comments
func GenerateDefaultConfigYAML() ([]byte, error) {
	configYAML := `# dbaas-backup-agent configuration

# Bytes read from the backup command per chunk
chunk_size: 65536

# Upper bound of a single uploaded segment (2 GiB)
segment_max_size: 2147483648

# Key prefix inside the storage root that holds segments and manifests
container: z_CLOUDDB_BACKUPS

# Directory the restore commands extract into
restore_location: /var/lib/mysql

# Where segments larger than 32 MiB are spooled before upload (default: os temp dir)
# spool_dir: /var/tmp

strategies:
  backup_namespace: guestagent.strategies.backup
  # Built-in: mysqldump, innobackupex, xtrabackup
  backup_strategy: innobackupex
  restore_namespace: guestagent.strategies.restore
  storage_namespace: guestagent.strategies.storage
  # Built-in: local, s3, minio, azure, gcs, memory
  storage_strategy: local

  # Additional backup types. ${host}, ${user}, ${password} and ${data_dir}
  # are substituted from the credentials section.
  # backup:
  #   - name: mydumper
  #     command: "mydumper -h ${host} -u ${user} -p ${password} --stream | gzip"
  #     manifest_suffix: .mydumper.gz
  # restore:
  #   - name: mydumper
  #     command: "myloader --stream -u ${user} -p ${password}"
  #     compression: gzip

credentials:
  host: localhost
  user: os_admin
  password: ""
  data_dir: /var/lib/mysql

storage:
  local:
    base_path: /var/lib/dbaas-backups
    permissions: 0750

  # s3:
  #   bucket: "my-backup-bucket"
  #   region: "us-east-1"
  #   access_key: "your-access-key"
  #   secret_key: "your-secret-key"

  # minio:
  #   endpoint: "minio.internal:9000"
  #   bucket: "backups"
  #   access_key: "your-access-key"
  #   secret_key: "your-secret-key"
  #   use_ssl: false

  # azure:
  #   account_name: "your-account-name"
  #   account_key: "your-account-key"
  #   container_name: "backups"

  # gcs:
  #   bucket: "my-backup-bucket"
  #   credentials_path: "/path/to/credentials.json"
  #   project_id: "your-project-id"

# Backup record store: memory, mysql, redis
records:
  driver: memory
  # mysql:
  #   host: trove-db.internal
  #   port: 3306
  #   username: backup_agent
  #   password: ""
  #   database: dbaas
  # redis:
  #   url: redis://localhost:6379/0
  #   key_prefix: backup

# Administrative connection used by guest prepare
# guest:
#   host: localhost
#   port: 3306
#   username: os_admin
#   password: ""
`

	return []byte(configYAML), nil
}
