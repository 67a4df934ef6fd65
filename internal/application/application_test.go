package application

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"dbaas-backup-agent/internal/backup"
	"dbaas-backup-agent/internal/database"
	appErrors "dbaas-backup-agent/internal/errors"
	"dbaas-backup-agent/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryAgentConfig(t *testing.T) *backup.AgentConfig {
	t.Helper()
	config := backup.GenerateDefaultConfig()
	config.Strategies.StorageStrategy = string(backup.StorageProviderMemory)
	config.RestoreLocation = t.TempDir()
	config.ChunkSize = 16
	config.SegmentMaxSize = 48
	config.Strategies.Backup = []backup.BackupTypeConfig{
		{Name: "test", Command: "printf 'hello world'", ManifestSuffix: ".raw"},
	}
	config.Strategies.Restore = []backup.RestoreTypeConfig{
		{Name: "test", Command: "cat > ${restore_location}/restored"},
	}
	config.Strategies.BackupStrategy = "test"
	return config
}

func newTestApplication(t *testing.T, agentConfig *backup.AgentConfig) *Application {
	t.Helper()
	app, err := NewApplicationWithLogger(context.Background(), Config{}, agentConfig, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown() })
	return app
}

func TestNewApplication(t *testing.T) {
	app, err := NewApplication(context.Background(), Config{Quiet: true}, memoryAgentConfig(t))
	require.NoError(t, err)
	defer app.Shutdown()

	assert.NotNil(t, app.Agent())
	assert.NotNil(t, app.Guest())
	assert.NotNil(t, app.Registry())
	assert.NotNil(t, app.AgentConfig())
	assert.Equal(t, logging.LogLevelQuiet, app.GetLogger().GetLevel())
	assert.IsType(t, &backup.MemoryRecordStore{}, app.records)
}

func TestNewApplication_NilConfig(t *testing.T) {
	_, err := NewApplication(context.Background(), Config{}, nil)
	assert.Error(t, err)
}

func TestConfig_LogLevel(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected logging.LogLevel
	}{
		{"normal level", Config{}, logging.LogLevelNormal},
		{"verbose level", Config{Verbose: true}, logging.LogLevelVerbose},
		{"quiet level", Config{Quiet: true}, logging.LogLevelQuiet},
		{"quiet wins over verbose", Config{Quiet: true, Verbose: true}, logging.LogLevelQuiet},
		{"debug wins", Config{Debug: true, Quiet: true}, logging.LogLevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.LogLevel())
		})
	}
}

func TestApplication_BackupAndRestore(t *testing.T) {
	app := newTestApplication(t, memoryAgentConfig(t))
	ctx := context.Background()

	record, err := app.Agent().CreateRecord(ctx, "inst-1", "nightly", "")
	require.NoError(t, err)

	err = app.Run(ctx, time.Minute, func(ctx context.Context) error {
		_, err := app.Guest().CreateBackup(ctx, record.ID)
		return err
	})
	require.NoError(t, err)

	stored, err := app.Agent().GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStateCompleted, stored.State)

	restored, err := app.Agent().ExecuteRestore(ctx, record.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello world")), restored)
}

func TestApplication_UnsupportedRecordDriver(t *testing.T) {
	config := memoryAgentConfig(t)
	config.Records.Driver = "etcd"

	_, err := NewApplicationWithLogger(context.Background(), Config{}, config, logging.NewNopLogger())
	require.Error(t, err)
	assert.Equal(t, backup.BackupErrorTypeConfiguration, backup.ErrorType(err))
}

func TestApplication_MySQLRecordStoreWithoutConnection(t *testing.T) {
	config := memoryAgentConfig(t)
	config.Records.Driver = backup.RecordDriverMySQL

	_, err := NewApplicationWithLogger(context.Background(), Config{}, config, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestApplication_GuestConnectionInvalid(t *testing.T) {
	config := memoryAgentConfig(t)
	config.Guest = &database.DatabaseConfig{Host: "localhost"}

	_, err := NewApplicationWithLogger(context.Background(), Config{
		Retry: appErrors.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}, config, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestApplication_Run_Timeout(t *testing.T) {
	app := newTestApplication(t, memoryAgentConfig(t))
	var errOut bytes.Buffer
	app.errOut = &errOut

	err := app.Run(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, errOut.String(), "Error:")
}

func TestApplication_HandleExecutionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "integrity mismatch",
			err:      backup.NewIntegrityError("b_00000000", "aa", "bb"),
			contains: "different checksum",
		},
		{
			name:     "unknown strategy",
			err:      backup.NewUnknownStrategyError("backup", backup.StrategyKey{Namespace: "ns", Name: "x"}),
			contains: "config show",
		},
		{
			name:     "record not found",
			err:      backup.NewRecordNotFoundError("b-1"),
			contains: "record store",
		},
		{
			name:     "connection error",
			err:      appErrors.NewAppError(appErrors.ErrorTypeConnection, "cannot connect", nil),
			contains: "database server is running",
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			contains: "Error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &Application{logger: logging.NewNopLogger()}
			var errOut bytes.Buffer
			app.errOut = &errOut

			app.handleExecutionError(tt.err)
			assert.Contains(t, errOut.String(), tt.contains)
		})
	}
}
