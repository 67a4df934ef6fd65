package cmd

import (
	"fmt"
	"net/url"
	"os"

	"dbaas-backup-agent/internal/backup"
	"dbaas-backup-agent/internal/database"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

var initForce bool

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and generate the agent configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration and registered strategies",
		Long: `Print the configuration after defaults and BACKUP_* environment overrides are
applied, followed by the strategies registered for it. Secrets are masked.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Generate a default configuration file",
		Long: `Generate a commented default configuration. Without a path the file is
written to stdout.

Examples:
  # Print the default configuration
  dbaas-backup-agent config init

  # Write it to a file readable only by the owner
  dbaas-backup-agent config init /etc/dbaas-backup-agent.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConfigInit,
	}
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(showCmd, initCmd)
	return configCmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	agentConfig, err := loadAgentConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	data, err := yaml.Marshal(redactConfig(agentConfig))
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", data)

	strategies := agentConfig.Strategies
	provider := backup.StorageProviderType(strategies.StorageStrategy)
	fmt.Fprintf(out, "# storage: %s\n", backup.DescribeStorage(provider, agentConfig.Storage))

	registry := backup.NewRegistryFromConfig(strategies)
	for _, kind := range []string{"backup", "restore", "storage"} {
		fmt.Fprintf(out, "# %s strategies:\n", kind)
		for _, key := range registry.Keys()[kind] {
			fmt.Fprintf(out, "#   %s\n", key)
		}
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	data, err := backup.GenerateDefaultConfigYAML()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	path := args[0]
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	// credentials live in this file
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}

// redactConfig returns a copy of config with passwords and keys masked
func redactConfig(config *backup.AgentConfig) *backup.AgentConfig {
	c := *config

	if c.Credentials.Password != "" {
		c.Credentials.Password = redacted
	}
	c.Guest = redactDatabase(c.Guest)
	c.Records.MySQL = redactDatabase(c.Records.MySQL)

	if c.Records.Redis != nil {
		redis := *c.Records.Redis
		if u, err := url.Parse(redis.URL); err == nil {
			redis.URL = u.Redacted()
		}
		c.Records.Redis = &redis
	}

	if c.Storage.S3 != nil {
		s3 := *c.Storage.S3
		s3.SecretKey = mask(s3.SecretKey)
		c.Storage.S3 = &s3
	}
	if c.Storage.Minio != nil {
		minio := *c.Storage.Minio
		minio.SecretKey = mask(minio.SecretKey)
		c.Storage.Minio = &minio
	}
	if c.Storage.Azure != nil {
		azure := *c.Storage.Azure
		azure.AccountKey = mask(azure.AccountKey)
		c.Storage.Azure = &azure
	}

	return &c
}

func redactDatabase(config *database.DatabaseConfig) *database.DatabaseConfig {
	if config == nil {
		return nil
	}
	c := *config
	c.Password = mask(c.Password)
	return &c
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return redacted
}
