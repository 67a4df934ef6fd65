package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dbaas-backup-agent/internal/errors"
	"dbaas-backup-agent/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// DatabaseService defines the interface for database operations
type DatabaseService interface {
	Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error)
	TestConnection(ctx context.Context, db *sql.DB) error
	Close(db *sql.DB) error
	GetVersion(ctx context.Context, db *sql.DB) (string, error)
	ExecuteSQL(ctx context.Context, db *sql.DB, statements []string) error
}

// PoolConfig sizes the connection pool. The agent only needs a handful of
// connections: one for records and one for guest administration.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns the pool settings used by NewService
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Service implements DatabaseService. Connect makes a single attempt; callers
// that want retries wrap it in an errors.RetryHandler.
type Service struct {
	queryTimeout time.Duration
	pool         PoolConfig
	logger       *logging.Logger
}

// NewService creates a new database service with default settings
func NewService() *Service {
	return NewServiceWithLogger(logging.NewDefaultLogger())
}

// NewServiceWithOptions creates a database service with a custom query timeout and pool
func NewServiceWithOptions(queryTimeout time.Duration, pool PoolConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Service{
		queryTimeout: queryTimeout,
		pool:         pool,
		logger:       logger,
	}
}

// NewServiceWithLogger creates a new database service with a custom logger
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return NewServiceWithOptions(30*time.Second, DefaultPoolConfig(), logger)
}

// Connect opens a MySQL connection pool, pings it and logs the server version
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, "invalid database configuration", err)
	}

	startTime := time.Now()

	db, err := sql.Open("mysql", config.DSN())
	if err != nil {
		return nil, errors.WrapError(err, "failed to open database connection")
	}

	db.SetMaxOpenConns(s.pool.MaxOpenConns)
	db.SetMaxIdleConns(s.pool.MaxIdleConns)
	db.SetConnMaxLifetime(s.pool.ConnMaxLifetime)

	// the DSN carries config.Timeout as the dial timeout; the ping is bounded by it too
	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	err = s.TestConnection(pingCtx, db)
	cancel()

	s.logger.LogDatabaseConnection(config.Host, config.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		db.Close()
		return nil, err
	}

	if version, err := s.GetVersion(ctx, db); err == nil {
		s.logger.WithFields(map[string]interface{}{
			"host":    config.Host,
			"version": version,
		}).Debug("Connected to MySQL server")
	}

	return db, nil
}

// TestConnection verifies that the database connection is working
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}
	return nil
}

// Close closes the connection pool
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}

	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}
	return nil
}

// GetVersion retrieves the MySQL server version
func (s *Service) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	const query = "SELECT VERSION()"
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var version string
	startTime := time.Now()
	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogSQLExecution(query, time.Since(startTime), 1, err)

	if err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}
	return version, nil
}

// ExecuteSQL runs the statements in one transaction, skipping empty ones. The
// first failure rolls everything back.
func (s *Service) ExecuteSQL(ctx context.Context, db *sql.DB, statements []string) (err error) {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}
	if len(statements) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, "failed to begin transaction")
	}

	defer func() {
		if err == nil {
			return
		}
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			s.logger.WithField("error", rollbackErr.Error()).Error("Failed to rollback transaction")
		}
	}()

	for i, stmt := range statements {
		if stmt == "" {
			continue
		}

		startTime := time.Now()
		result, execErr := tx.ExecContext(ctx, stmt)

		var rowsAffected int64
		if result != nil {
			rowsAffected, _ = result.RowsAffected()
		}

		// statements may carry IDENTIFIED BY passwords
		sanitized := logging.SanitizeSQL(stmt)
		s.logger.LogSQLExecution(sanitized, time.Since(startTime), rowsAffected, execErr)

		if execErr != nil {
			appErr := errors.NewErrorClassifier().ClassifyError(execErr)
			return errors.NewAppError(appErr.Type, fmt.Sprintf("failed to execute statement %d", i+1), execErr).
				WithContext("statement", sanitized).
				WithContext("statement_index", i)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.WrapError(err, "failed to commit transaction")
	}
	return nil
}
