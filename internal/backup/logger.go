package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dbaas-backup-agent/internal/logging"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BackupLogger provides structured logging for pipeline operations with
// correlation IDs and an optional JSON audit trail.
type BackupLogger struct {
	logger        *logging.Logger
	auditLogger   *logrus.Logger
	auditFile     *os.File
	correlationID string
}

// BackupLoggerConfig holds configuration for backup logging
type BackupLoggerConfig struct {
	Logger        *logging.Logger
	AuditLogFile  string
	CorrelationID string
}

// LogEntry represents a structured log entry for a pipeline operation
type LogEntry struct {
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	Operation     string                 `json:"operation"`
	BackupID      string                 `json:"backup_id,omitempty"`
	InstanceID    string                 `json:"instance_id,omitempty"`
	Status        string                 `json:"status"`
	Duration      string                 `json:"duration,omitempty"`
	Success       bool                   `json:"success"`
	Error         string                 `json:"error,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewBackupLogger creates a new backup logger. An audit trail is written
// when AuditLogFile is set.
func NewBackupLogger(config BackupLoggerConfig) (*BackupLogger, error) {
	correlationID := config.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	bl := &BackupLogger{
		logger:        logger,
		correlationID: correlationID,
	}

	if config.AuditLogFile != "" {
		auditDir := filepath.Dir(config.AuditLogFile)
		if err := os.MkdirAll(auditDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}

		auditFile, err := os.OpenFile(config.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}

		auditLogger := logrus.New()
		auditLogger.SetOutput(auditFile)
		auditLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		auditLogger.SetLevel(logrus.InfoLevel)

		bl.auditLogger = auditLogger
		bl.auditFile = auditFile
	}

	return bl, nil
}

// GetCorrelationID returns the current correlation ID
func (bl *BackupLogger) GetCorrelationID() string {
	return bl.correlationID
}

// WithCorrelationID returns a logger sharing the same sinks under another correlation ID
func (bl *BackupLogger) WithCorrelationID(correlationID string) *BackupLogger {
	return &BackupLogger{
		logger:        bl.logger,
		auditLogger:   bl.auditLogger,
		correlationID: correlationID,
	}
}

// Logger returns the underlying application logger
func (bl *BackupLogger) Logger() *logging.Logger {
	return bl.logger
}

// Close closes the audit log file
func (bl *BackupLogger) Close() error {
	if bl.auditFile == nil {
		return nil
	}
	return bl.auditFile.Close()
}

// LogBackupStart logs the start of a backup and returns its completion callback
func (bl *BackupLogger) LogBackupStart(ctx context.Context, record *BackupRecord, backupType, storage string) func(error, *SaveResult) {
	startTime := time.Now()

	entry := LogEntry{
		Timestamp:     startTime,
		CorrelationID: bl.correlationID,
		Operation:     "backup_create",
		BackupID:      record.ID,
		InstanceID:    record.InstanceID,
		Status:        "started",
		Success:       true,
		Metadata: map[string]interface{}{
			"backup_type":      backupType,
			"storage_strategy": storage,
		},
	}

	bl.logStructured(entry)
	bl.logAudit(ctx, "backup", "create", "started", map[string]interface{}{
		"backup_id":   record.ID,
		"instance_id": record.InstanceID,
	})

	return func(err error, result *SaveResult) {
		duration := time.Since(startTime)
		entry.Timestamp = time.Now()
		entry.Status = "completed"
		entry.Duration = duration.String()
		entry.Success = err == nil

		if err != nil {
			entry.Error = err.Error()
			entry.Status = "failed"
			entry.Metadata["error_type"] = string(ErrorType(err))
		}

		if result != nil {
			entry.Metadata["checksum"] = result.Checksum
			entry.Metadata["location"] = result.Location
		}

		bl.logStructured(entry)

		outcome := "success"
		if err != nil {
			outcome = "failure"
		}

		bl.logAudit(ctx, "backup", "create", outcome, map[string]interface{}{
			"backup_id":   record.ID,
			"instance_id": record.InstanceID,
			"duration":    duration.String(),
			"error":       entry.Error,
		})
	}
}

// LogRestoreStart logs the start of a restore and returns its completion callback
func (bl *BackupLogger) LogRestoreStart(ctx context.Context, record *BackupRecord, restoreLocation string) func(error, int64) {
	startTime := time.Now()

	entry := LogEntry{
		Timestamp:     startTime,
		CorrelationID: bl.correlationID,
		Operation:     "backup_restore",
		BackupID:      record.ID,
		InstanceID:    record.InstanceID,
		Status:        "started",
		Success:       true,
		Metadata: map[string]interface{}{
			"backup_type":      record.BackupType,
			"restore_location": restoreLocation,
		},
	}

	bl.logStructured(entry)
	bl.logAudit(ctx, "backup", "restore", "started", map[string]interface{}{
		"backup_id":        record.ID,
		"restore_location": restoreLocation,
	})

	return func(err error, restored int64) {
		duration := time.Since(startTime)
		entry.Timestamp = time.Now()
		entry.Status = "completed"
		entry.Duration = duration.String()
		entry.Success = err == nil
		entry.Metadata["bytes"] = restored

		if err != nil {
			entry.Error = err.Error()
			entry.Status = "failed"
			entry.Metadata["error_type"] = string(ErrorType(err))
		}

		bl.logStructured(entry)

		outcome := "success"
		if err != nil {
			outcome = "failure"
		}

		bl.logAudit(ctx, "backup", "restore", outcome, map[string]interface{}{
			"backup_id": record.ID,
			"bytes":     restored,
			"duration":  duration.String(),
			"error":     entry.Error,
		})
	}
}

// LogStateTransition records a state change in both the log and the audit trail
func (bl *BackupLogger) LogStateTransition(ctx context.Context, record *BackupRecord, from BackupState) {
	bl.logger.LogStateTransition(record.ID, record.InstanceID, string(from), string(record.State))
	bl.logAudit(ctx, "backup", "transition", string(record.State), map[string]interface{}{
		"backup_id": record.ID,
		"from":      string(from),
		"note":      record.Note,
	})
}

func (bl *BackupLogger) logStructured(entry LogEntry) {
	fields := logrus.Fields{
		"correlation_id": entry.CorrelationID,
		"operation":      entry.Operation,
		"status":         entry.Status,
		"success":        entry.Success,
	}

	if entry.BackupID != "" {
		fields["backup_id"] = entry.BackupID
	}
	if entry.InstanceID != "" {
		fields["instance_id"] = entry.InstanceID
	}
	if entry.Duration != "" {
		fields["duration"] = entry.Duration
	}
	if entry.Error != "" {
		fields["error"] = entry.Error
	}

	for k, v := range entry.Metadata {
		fields[k] = v
	}

	logEntry := bl.logger.WithFields(fields)

	if entry.Success {
		if entry.Status == "started" {
			logEntry.Debug("Backup operation started")
		} else {
			logEntry.Info("Backup operation completed successfully")
		}
	} else {
		logEntry.Error("Backup operation failed")
	}
}

func (bl *BackupLogger) logAudit(ctx context.Context, resource, action, result string, details map[string]interface{}) {
	if bl.auditLogger == nil {
		return
	}

	fields := logrus.Fields{
		"correlation_id": bl.correlationID,
		"operation":      fmt.Sprintf("%s_%s", resource, action),
		"resource":       resource,
		"action":         action,
		"result":         result,
		"details":        details,
	}
	if requestID := logging.GetRequestIDFromContext(ctx); requestID != "" {
		fields["request_id"] = requestID
	}

	bl.auditLogger.WithFields(fields).Info("Audit log entry")
}
