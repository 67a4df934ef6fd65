package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dbaas-backup-agent/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturingLogger(t *testing.T) (*logging.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{
		Level:  logging.LogLevelDebug,
		Output: &buf,
		Format: "json",
	})
	require.NoError(t, err)
	return logger, &buf
}

func TestNewBackupLogger(t *testing.T) {
	tests := []struct {
		name           string
		config         BackupLoggerConfig
		expectAuditLog bool
	}{
		{
			name:   "basic logger without audit",
			config: BackupLoggerConfig{Logger: logging.NewNopLogger()},
		},
		{
			name: "logger with audit log",
			config: BackupLoggerConfig{
				Logger:       logging.NewNopLogger(),
				AuditLogFile: filepath.Join(t.TempDir(), "audit", "audit.log"),
			},
			expectAuditLog: true,
		},
		{
			name: "logger with custom correlation ID",
			config: BackupLoggerConfig{
				Logger:        logging.NewNopLogger(),
				CorrelationID: "test-correlation-123",
			},
		},
		{
			name:   "default application logger",
			config: BackupLoggerConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bl, err := NewBackupLogger(tt.config)
			require.NoError(t, err)
			defer bl.Close()

			assert.NotEmpty(t, bl.GetCorrelationID())
			assert.NotNil(t, bl.Logger())
			if tt.config.CorrelationID != "" {
				assert.Equal(t, tt.config.CorrelationID, bl.GetCorrelationID())
			}

			if tt.expectAuditLog {
				assert.NotNil(t, bl.auditLogger)
			} else {
				assert.Nil(t, bl.auditLogger)
			}
		})
	}
}

func TestBackupLogger_LogBackupStart(t *testing.T) {
	logger, buf := newCapturingLogger(t)
	bl, err := NewBackupLogger(BackupLoggerConfig{Logger: logger, CorrelationID: "corr-1"})
	require.NoError(t, err)

	record := NewBackupRecord("inst-1", "nightly", "")
	ctx := context.Background()

	t.Run("successful backup", func(t *testing.T) {
		buf.Reset()
		done := bl.LogBackupStart(ctx, record, "innobackupex", "local")
		done(nil, &SaveResult{Success: true, Checksum: "abc", Location: "file:///b/c/m.gz"})

		out := buf.String()
		assert.Contains(t, out, "Backup operation started")
		assert.Contains(t, out, "Backup operation completed successfully")
		assert.Contains(t, out, `"correlation_id":"corr-1"`)
		assert.Contains(t, out, `"checksum":"abc"`)
	})

	t.Run("failed backup", func(t *testing.T) {
		buf.Reset()
		done := bl.LogBackupStart(ctx, record, "innobackupex", "local")
		done(NewProcessError("innobackupex backup command failed", errors.New("exit status 1")), nil)

		out := buf.String()
		assert.Contains(t, out, "Backup operation failed")
		assert.Contains(t, out, `"error_type":"PROCESS_ERROR"`)
	})
}

func TestBackupLogger_LogRestoreStart(t *testing.T) {
	logger, buf := newCapturingLogger(t)
	bl, err := NewBackupLogger(BackupLoggerConfig{Logger: logger})
	require.NoError(t, err)

	record := NewBackupRecord("inst-1", "nightly", "")
	done := bl.LogRestoreStart(context.Background(), record, "/var/lib/mysql")
	done(nil, 4096)

	out := buf.String()
	assert.Contains(t, out, `"operation":"backup_restore"`)
	assert.Contains(t, out, `"restore_location":"/var/lib/mysql"`)
	assert.Contains(t, out, `"bytes":4096`)
}

func TestBackupLogger_WithCorrelationID(t *testing.T) {
	bl, err := NewBackupLogger(BackupLoggerConfig{Logger: logging.NewNopLogger()})
	require.NoError(t, err)

	child := bl.WithCorrelationID("child-1")
	assert.Equal(t, "child-1", child.GetCorrelationID())
	assert.NotEqual(t, bl.GetCorrelationID(), child.GetCorrelationID())
	assert.Same(t, bl.Logger(), child.Logger())
	assert.NoError(t, child.Close())
}

func TestBackupLogger_AuditLogging(t *testing.T) {
	auditLogFile := filepath.Join(t.TempDir(), "audit.log")

	bl, err := NewBackupLogger(BackupLoggerConfig{
		Logger:       logging.NewNopLogger(),
		AuditLogFile: auditLogFile,
	})
	require.NoError(t, err)

	ctx := logging.CreateContextWithRequestID(context.Background(), "req-42")
	record := NewBackupRecord("inst-1", "nightly", "")

	done := bl.LogBackupStart(ctx, record, "mysqldump", "s3")
	done(nil, &SaveResult{Checksum: "abc", Location: "s3://b/c/m"})

	from := record.State
	require.NoError(t, record.Transition(BackupStateBuilding))
	bl.LogStateTransition(ctx, record, from)
	require.NoError(t, bl.Close())

	content, err := os.ReadFile(auditLogFile)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &entry))
	assert.Equal(t, "backup_transition", entry["operation"])
	assert.Equal(t, "BUILDING", entry["result"])
	assert.Equal(t, "req-42", entry["request_id"])

	details, ok := entry["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, record.ID, details["backup_id"])
	assert.Equal(t, "NEW", details["from"])

	assert.Contains(t, lines[0], `"result":"started"`)
	assert.Contains(t, lines[1], `"result":"success"`)
}
