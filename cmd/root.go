package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"dbaas-backup-agent/internal/application"
	"dbaas-backup-agent/internal/backup"
	"dbaas-backup-agent/internal/display"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// CLI flag variables
var (
	// Operation flags
	verbose      bool
	quiet        bool
	debug        bool
	timeout      time.Duration
	logFile      string
	logFormat    string
	auditLogFile string

	// Display flags
	noColor       bool
	theme         string
	outputFormat  string
	maxTableWidth int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dbaas-backup-agent",
	Short: "Guest agent that streams database backups to object storage and restores them",
	Long: `dbaas-backup-agent runs on a database instance. It launches the configured
backup tool, streams its output into segmented objects in a storage container,
tracks every backup in a record store and restores a backup by streaming the
stored object back into the restore tool.

Examples:
  # Create a backup record and run it
  dbaas-backup-agent backup create --instance inst-1 --name nightly --run

  # Restore a completed backup into the data directory
  dbaas-backup-agent restore 5b1f... --restore-location /var/lib/mysql

  # List the backups of an instance as JSON
  dbaas-backup-agent backup list --instance inst-1 --format json

  # Show the effective configuration
  dbaas-backup-agent --config agent.yaml config show`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// reportedError marks an error that was already printed with troubleshooting hints
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()

	// Configuration file flag
	flags.StringVar(&cfgFile, "config", "", "agent config file (default is $HOME/.dbaas-backup-agent.yaml)")

	// Operation flags
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	flags.BoolVar(&debug, "debug", false, "enable debug logging with caller information")
	flags.DurationVar(&timeout, "timeout", 0, "abort the task after this duration (0 means no limit)")
	flags.StringVar(&logFile, "log-file", "", "write logs to file instead of stderr")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	flags.StringVar(&auditLogFile, "audit-log", "", "append backup lifecycle events as JSON lines to this file")

	// Display flags
	flags.BoolVar(&noColor, "no-color", false, "disable color output")
	flags.StringVar(&theme, "theme", "dark", "color theme (dark, light, plain)")
	flags.StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")
	flags.IntVar(&maxTableWidth, "max-table-width", 120, "maximum table width (40-300, 0 for terminal width)")

	// Bind flags to viper
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("quiet", flags.Lookup("quiet"))
	viper.BindPFlag("debug", flags.Lookup("debug"))
	viper.BindPFlag("timeout", flags.Lookup("timeout"))
	viper.BindPFlag("log_file", flags.Lookup("log-file"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("audit_log_file", flags.Lookup("audit-log"))
	viper.BindPFlag("display.no_color", flags.Lookup("no-color"))
	viper.BindPFlag("display.theme", flags.Lookup("theme"))
	viper.BindPFlag("display.output_format", flags.Lookup("format"))
	viper.BindPFlag("display.max_table_width", flags.Lookup("max-table-width"))

	rootCmd.AddCommand(
		newBackupCommand(),
		newRestoreCommand(),
		newGuestCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".dbaas-backup-agent" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".dbaas-backup-agent")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("DBAAS_BACKUP")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// buildConfig collects the process settings from flags, environment and config file
func buildConfig() (application.Config, error) {
	config := application.Config{
		Verbose:      viper.GetBool("verbose"),
		Quiet:        viper.GetBool("quiet"),
		Debug:        viper.GetBool("debug"),
		LogFormat:    viper.GetString("log_format"),
		LogFile:      viper.GetString("log_file"),
		AuditLogFile: viper.GetString("audit_log_file"),
		Timeout:      viper.GetDuration("timeout"),
	}

	if config.Verbose && config.Quiet {
		return config, fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}
	if config.Timeout < 0 {
		return config, fmt.Errorf("--timeout must not be negative")
	}
	if config.LogFormat != "" && config.LogFormat != "text" && config.LogFormat != "json" {
		return config, fmt.Errorf("invalid log format %q (valid: text, json)", config.LogFormat)
	}
	return config, nil
}

// buildDisplayConfig collects the display settings for a command writing to cmd's output
func buildDisplayConfig(cmd *cobra.Command) (*display.DisplayConfig, error) {
	config := display.DefaultDisplayConfig()
	config.ColorEnabled = !viper.GetBool("display.no_color")
	config.Theme = viper.GetString("display.theme")
	config.OutputFormat = viper.GetString("display.output_format")
	config.MaxTableWidth = viper.GetInt("display.max_table_width")
	config.VerboseMode = viper.GetBool("verbose")
	config.QuietMode = viper.GetBool("quiet")
	config.Writer = cmd.OutOrStdout()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid display configuration: %w", err)
	}
	return config, nil
}

// loadAgentConfig loads the agent configuration file viper resolved, applying
// BACKUP_* environment overrides.
func loadAgentConfig() (*backup.AgentConfig, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	return backup.NewConfigLoader(path).LoadConfig()
}

// newApp builds the application and the display service for cmd. The caller
// must call Shutdown on the returned application.
func newApp(cmd *cobra.Command) (*application.Application, display.DisplayService, error) {
	config, err := buildConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	displayConfig, err := buildDisplayConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	agentConfig, err := loadAgentConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	app, err := application.NewApplication(commandContext(cmd), config, agentConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize agent: %w", err)
	}

	return app, display.NewDisplayService(displayConfig), nil
}

// runTask runs task through the application so it gets signal handling, the
// --timeout limit and error hints.
func runTask(cmd *cobra.Command, app *application.Application, task func(ctx context.Context) error) error {
	if err := app.Run(commandContext(cmd), viper.GetDuration("timeout"), task); err != nil {
		return &reportedError{err: err}
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
