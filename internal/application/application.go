package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"dbaas-backup-agent/internal/backup"
	"dbaas-backup-agent/internal/database"
	appErrors "dbaas-backup-agent/internal/errors"
	"dbaas-backup-agent/internal/guest"
	"dbaas-backup-agent/internal/logging"
)

// Application wires the agent, its record store and the guest manager
type Application struct {
	config          *backup.AgentConfig
	logger          *logging.Logger
	backupLogger    *backup.BackupLogger
	connections     *database.ConnectionManager
	records         backup.RecordStore
	registry        *backup.Registry
	agent           *backup.Agent
	guest           *guest.Manager
	retryHandler    *appErrors.RetryHandler
	shutdownHandler *appErrors.GracefulShutdownHandler
	errOut          io.Writer
}

// Config holds the process-level settings that are not part of the agent configuration
type Config struct {
	Verbose      bool          `mapstructure:"verbose" yaml:"verbose"`
	Quiet        bool          `mapstructure:"quiet" yaml:"quiet"`
	Debug        bool          `mapstructure:"debug" yaml:"debug"`
	LogFormat    string        `mapstructure:"log_format" yaml:"log_format"`
	LogFile      string        `mapstructure:"log_file" yaml:"log_file"`
	AuditLogFile string        `mapstructure:"audit_log_file" yaml:"audit_log_file"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Retry governs connecting to the record and guest databases
	Retry appErrors.RetryConfig `mapstructure:"-" yaml:"-"`
}

// LogLevel maps the verbosity flags to a log level
func (c Config) LogLevel() logging.LogLevel {
	switch {
	case c.Debug:
		return logging.LogLevelDebug
	case c.Quiet:
		return logging.LogLevelQuiet
	case c.Verbose:
		return logging.LogLevelVerbose
	default:
		return logging.LogLevelNormal
	}
}

// NewApplication builds every component the agent configuration asks for and
// opens the record store and guest connections.
func NewApplication(ctx context.Context, config Config, agentConfig *backup.AgentConfig) (*Application, error) {
	if agentConfig == nil {
		return nil, fmt.Errorf("agent configuration is required")
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:      config.LogLevel(),
		Format:     config.LogFormat,
		ShowCaller: config.Debug,
		LogFile:    config.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return NewApplicationWithLogger(ctx, config, agentConfig, logger)
}

// NewApplicationWithLogger is NewApplication with a caller-supplied logger
func NewApplicationWithLogger(ctx context.Context, config Config, agentConfig *backup.AgentConfig, logger *logging.Logger) (*Application, error) {
	backupLogger, err := backup.NewBackupLogger(backup.BackupLoggerConfig{
		Logger:       logger,
		AuditLogFile: config.AuditLogFile,
	})
	if err != nil {
		return nil, err
	}

	retryConfig := config.Retry
	if retryConfig.MaxAttempts == 0 {
		retryConfig = appErrors.DefaultRetryConfig()
	}

	app := &Application{
		config:          agentConfig,
		logger:          logger,
		backupLogger:    backupLogger,
		connections:     database.NewConnectionManagerWithService(database.NewServiceWithLogger(logger)),
		registry:        backup.NewRegistryFromConfig(agentConfig.Strategies),
		retryHandler:    appErrors.NewRetryHandler(retryConfig),
		shutdownHandler: appErrors.NewGracefulShutdownHandler(),
		errOut:          os.Stderr,
	}
	app.retryHandler.WithNotify(func(attempt int, delay time.Duration, err *appErrors.AppError) {
		logger.WithFields(map[string]interface{}{
			"attempt":    attempt,
			"retry_in":   delay.String(),
			"error_type": string(err.Type),
		}).Warn("Connection attempt failed, retrying")
	})
	app.shutdownHandler.RegisterShutdownFunc(backupLogger.Close)
	app.shutdownHandler.RegisterShutdownFunc(app.connections.Close)

	if err := app.openRecordStore(ctx); err != nil {
		app.shutdownHandler.Shutdown()
		return nil, err
	}

	app.agent, err = backup.NewAgent(agentConfig, app.registry, app.records, backupLogger)
	if err != nil {
		app.shutdownHandler.Shutdown()
		return nil, err
	}

	var admin guest.Admin
	if agentConfig.Guest != nil {
		db, err := app.connect(ctx, database.ConnectionGuest, *agentConfig.Guest)
		if err != nil {
			app.shutdownHandler.Shutdown()
			return nil, err
		}
		admin = database.NewMySQLAdmin(db, app.connections.Service(), logger)
	}

	app.guest, err = guest.NewManager(app.agent, admin, logger)
	if err != nil {
		app.shutdownHandler.Shutdown()
		return nil, err
	}

	return app, nil
}

func (app *Application) openRecordStore(ctx context.Context) error {
	records := app.config.Records

	switch records.Driver {
	case backup.RecordDriverMemory, "":
		app.records = backup.NewMemoryRecordStore()

	case backup.RecordDriverMySQL:
		if records.MySQL == nil {
			return backup.NewConfigurationError("mysql record store needs a connection", nil)
		}
		db, err := app.connect(ctx, database.ConnectionRecords, *records.MySQL)
		if err != nil {
			return err
		}
		store := backup.NewMySQLRecordStore(db, app.logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		app.records = store

	case backup.RecordDriverRedis:
		var store *backup.RedisRecordStore
		err := app.retryHandler.Retry(ctx, func() error {
			var err error
			store, err = backup.NewRedisRecordStore(ctx, records.Redis)
			return err
		})
		if err != nil {
			return err
		}
		app.records = store

	default:
		return backup.NewConfigurationError(fmt.Sprintf("unsupported record driver %q", records.Driver), nil)
	}

	app.shutdownHandler.RegisterShutdownFunc(app.records.Close)
	app.logger.WithField("driver", string(records.Driver)).Debug("Record store opened")
	return nil
}

// connect opens a named connection, retrying transient failures
func (app *Application) connect(ctx context.Context, name string, config database.DatabaseConfig) (*sql.DB, error) {
	config.SetDefaults()

	var db *sql.DB
	err := app.retryHandler.Retry(ctx, func() error {
		var err error
		db, err = app.connections.Connect(ctx, name, config)
		return err
	})
	return db, err
}

// Run executes task with signal handling and the configured timeout. SIGINT
// and SIGTERM cancel the task context; cleanup runs when Run returns.
func (app *Application) Run(ctx context.Context, timeout time.Duration, task func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	signals := appErrors.NewGracefulShutdownHandler()
	signals.RegisterShutdownFunc(func() error {
		app.logger.Info("Received shutdown signal, cancelling")
		cancel()
		return nil
	})
	signals.Start()
	defer signals.Stop()

	err := task(ctx)
	if err != nil {
		app.handleExecutionError(err)
	}
	return err
}

// handleExecutionError logs a failed task and prints a user-facing summary
func (app *Application) handleExecutionError(err error) {
	fmt.Fprintf(app.errOut, "Error: %s\n", appErrors.FormatUserError(err))

	var backupErr *backup.BackupError
	if errors.As(err, &backupErr) {
		app.logger.WithFields(map[string]interface{}{
			"error_type": string(backupErr.Type),
			"context":    backupErr.Context,
		}).Error("Task failed")
		app.provideBackupHints(backupErr)
		return
	}

	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		app.logger.WithFields(map[string]interface{}{
			"error_type":  string(appErr.Type),
			"recoverable": appErr.IsRecoverable(),
			"context":     appErr.Context,
		}).Error("Task failed")
		app.provideTroubleshootingHints(appErr)
		return
	}

	app.logger.WithField("error", err.Error()).Error("Task failed")
}

func (app *Application) provideBackupHints(err *backup.BackupError) {
	switch err.Type {
	case backup.BackupErrorTypeProcess, backup.BackupErrorTypeProcessLaunch:
		fmt.Fprintf(app.errOut, "\nTroubleshooting hints:\n")
		fmt.Fprintf(app.errOut, "- Run the backup command by hand with the same credentials\n")
		fmt.Fprintf(app.errOut, "- Check that the tool is installed and on PATH\n")

	case backup.BackupErrorTypeDiagnosticOutput:
		fmt.Fprintf(app.errOut, "\nTroubleshooting hints:\n")
		fmt.Fprintf(app.errOut, "- The backup command wrote to stderr; the stream is treated as unusable\n")
		fmt.Fprintf(app.errOut, "- Redirect warnings inside the command template if they are expected\n")

	case backup.BackupErrorTypeIntegrity:
		fmt.Fprintf(app.errOut, "\nTroubleshooting hints:\n")
		fmt.Fprintf(app.errOut, "- The object store returned a different checksum than was uploaded\n")
		fmt.Fprintf(app.errOut, "- Check for proxies that rewrite uploads and retry the backup\n")

	case backup.BackupErrorTypeUnknownStrategy:
		fmt.Fprintf(app.errOut, "\nTroubleshooting hints:\n")
		fmt.Fprintf(app.errOut, "- List the registered strategies with 'dbaas-backup-agent config show'\n")

	case backup.BackupErrorTypeNotFound, backup.BackupErrorTypeRecordNotFound:
		fmt.Fprintf(app.errOut, "\nTroubleshooting hints:\n")
		fmt.Fprintf(app.errOut, "- Check the backup id and the configured record store\n")
		fmt.Fprintf(app.errOut, "- Check that the storage strategy matches the one used for the backup\n")
	}
}

func (app *Application) provideTroubleshootingHints(appErr *appErrors.AppError) {
	switch appErr.Type {
	case appErrors.ErrorTypeConnection:
		fmt.Fprintf(app.errOut, "\nTroubleshooting hints:\n")
		fmt.Fprintf(app.errOut, "- Check that the database server is running\n")
		fmt.Fprintf(app.errOut, "- Verify the host and port are correct\n")
		fmt.Fprintf(app.errOut, "- Check firewall settings\n")

	case appErrors.ErrorTypePermission:
		fmt.Fprintf(app.errOut, "\nTroubleshooting hints:\n")
		fmt.Fprintf(app.errOut, "- Verify the username and password are correct\n")
		fmt.Fprintf(app.errOut, "- Check that the user has the required privileges\n")

	case appErrors.ErrorTypeTimeout:
		fmt.Fprintf(app.errOut, "\nTroubleshooting hints:\n")
		fmt.Fprintf(app.errOut, "- The operation may be taking longer than expected\n")
		fmt.Fprintf(app.errOut, "- Try increasing the --timeout value\n")
	}
}

// Agent returns the backup agent
func (app *Application) Agent() *backup.Agent {
	return app.agent
}

// Guest returns the guest manager
func (app *Application) Guest() *guest.Manager {
	return app.guest
}

// Registry returns the strategy registry
func (app *Application) Registry() *backup.Registry {
	return app.registry
}

// AgentConfig returns the agent configuration
func (app *Application) AgentConfig() *backup.AgentConfig {
	return app.config
}

// GetLogger returns the application logger
func (app *Application) GetLogger() *logging.Logger {
	return app.logger
}

// Shutdown closes the record store, the database connections and the audit log
func (app *Application) Shutdown() error {
	app.logger.Debug("Shutting down application")
	app.shutdownHandler.Shutdown()
	app.shutdownHandler.WaitForShutdown()
	return app.shutdownHandler.Err()
}
