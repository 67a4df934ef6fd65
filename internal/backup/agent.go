package backup

import (
	"context"
	"fmt"
)

// Agent runs backups and restores for the records in a RecordStore. It keeps
// no per-invocation state and may serve several backup ids concurrently.
type Agent struct {
	config   *AgentConfig
	registry *Registry
	records  RecordStore
	logger   *BackupLogger
}

// NewAgent creates an agent
func NewAgent(config *AgentConfig, registry *Registry, records RecordStore, logger *BackupLogger) (*Agent, error) {
	if config == nil {
		return nil, NewConfigurationError("agent configuration is required", nil)
	}
	if registry == nil {
		return nil, NewConfigurationError("strategy registry is required", nil)
	}
	if records == nil {
		return nil, NewConfigurationError("record store is required", nil)
	}
	if logger == nil {
		var err error
		logger, err = NewBackupLogger(BackupLoggerConfig{})
		if err != nil {
			return nil, err
		}
	}

	return &Agent{
		config:   config,
		registry: registry,
		records:  records,
		logger:   logger,
	}, nil
}

// CreateRecord registers a new backup in state NEW
func (a *Agent) CreateRecord(ctx context.Context, instanceID, name, description string) (*BackupRecord, error) {
	record := NewBackupRecord(instanceID, name, description)
	if err := a.records.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetRecord returns a backup record
func (a *Agent) GetRecord(ctx context.Context, backupID string) (*BackupRecord, error) {
	return a.records.Find(ctx, backupID)
}

// ListRecords returns the records of an instance, or all records for ""
func (a *Agent) ListRecords(ctx context.Context, instanceID string) ([]*BackupRecord, error) {
	return a.records.List(ctx, instanceID)
}

// ExecuteBackup streams the configured backup command into storage and
// records the outcome. Once the record is BUILDING, any failure is written
// as FAILED exactly once before the error is returned.
func (a *Agent) ExecuteBackup(ctx context.Context, backupID string) (*BackupRecord, error) {
	record, err := a.records.Find(ctx, backupID)
	if err != nil {
		return nil, err
	}

	from := record.State
	if err := record.Transition(BackupStateBuilding); err != nil {
		return nil, err
	}
	if err := a.records.Save(ctx, record); err != nil {
		return nil, err
	}
	a.logger.LogStateTransition(ctx, record, from)

	result, backupType, err := a.runBackup(ctx, record)
	if err != nil {
		return record, a.fail(ctx, record, err)
	}

	building := record.Clone()
	if err := record.Complete(result.Checksum, result.Location, backupType); err != nil {
		return building, a.fail(ctx, building, err)
	}
	if err := a.records.Save(ctx, record); err != nil {
		return building, a.fail(ctx, building, err)
	}
	a.logger.LogStateTransition(ctx, record, BackupStateBuilding)

	return record, nil
}

func (a *Agent) runBackup(ctx context.Context, record *BackupRecord) (*SaveResult, string, error) {
	strategies := a.config.Strategies

	backupType, err := a.registry.Backup(strategies.BackupNamespace, strategies.BackupStrategy)
	if err != nil {
		return nil, "", err
	}

	storage, err := a.registry.OpenStorage(ctx, strategies.StorageNamespace, strategies.StorageStrategy, a.storageOptions())
	if err != nil {
		return nil, "", err
	}

	runner, err := NewBackupRunner(backupType, record.ID, RunnerOptions{
		ChunkSize:      a.config.ChunkSize,
		MaxSegmentSize: a.config.SegmentMaxSize,
		Container:      a.config.Container,
	}, a.config.Credentials.Params(), a.logger.Logger())
	if err != nil {
		return nil, "", err
	}

	done := a.logger.LogBackupStart(ctx, record, backupType.Name, strategies.StorageStrategy)
	result, err := streamBackup(ctx, runner, storage)
	done(err, result)
	if err != nil {
		return nil, "", err
	}

	return result, backupType.Name, nil
}

// streamBackup runs the backup command into storage. The runner's exit
// status is folded into the result once the stream was fully saved.
func streamBackup(ctx context.Context, runner *BackupRunner, storage Storage) (result *SaveResult, err error) {
	if err := runner.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := runner.Close(); closeErr != nil && err == nil {
			result, err = nil, closeErr
		}
	}()

	return storage.Save(ctx, runner)
}

// fail writes the FAILED state and returns cause. The write outlives a
// cancelled ctx so an interrupted backup is still recorded.
func (a *Agent) fail(ctx context.Context, record *BackupRecord, cause error) error {
	from := record.State
	if err := record.Fail(cause.Error()); err != nil {
		a.logger.Logger().WithField("backup_id", record.ID).WithField("error", err.Error()).
			Error("Cannot mark backup as failed")
		return cause
	}

	if err := a.records.Save(context.WithoutCancel(ctx), record); err != nil {
		a.logger.Logger().WithField("backup_id", record.ID).WithField("error", err.Error()).
			Error("Failed to record backup failure")
		return cause
	}
	a.logger.LogStateTransition(ctx, record, from)
	return cause
}

// ExecuteRestore downloads a completed backup and feeds it to the restore
// type matching the record's backup type. The record is not modified.
func (a *Agent) ExecuteRestore(ctx context.Context, backupID, restoreLocation string) (int64, error) {
	record, err := a.records.Find(ctx, backupID)
	if err != nil {
		return 0, err
	}
	if record.Location == "" {
		return 0, NewValidationError(fmt.Sprintf("backup %s has no stored location", backupID), nil).
			WithContext("state", string(record.State))
	}
	if _, err := ParseLocation(record.Location); err != nil {
		return 0, err
	}

	strategies := a.config.Strategies
	restoreType, err := a.registry.Restore(strategies.RestoreNamespace, record.BackupType)
	if err != nil {
		return 0, err
	}

	storage, err := a.registry.OpenStorage(ctx, strategies.StorageNamespace, strategies.StorageStrategy, a.storageOptions())
	if err != nil {
		return 0, err
	}

	if restoreLocation == "" {
		restoreLocation = a.config.RestoreLocation
	}
	params := mergeParams(a.config.Credentials.Params(), map[string]string{
		"restore_location": restoreLocation,
	})

	runner, err := NewRestoreRunner(restoreType, RestoreOptions{
		ChunkSize: a.config.ChunkSize,
		BackupID:  record.ID,
	}, params, a.logger.Logger())
	if err != nil {
		return 0, err
	}

	done := a.logger.LogRestoreStart(ctx, record, restoreLocation)

	stream, err := storage.Load(ctx, record.Location)
	if err != nil {
		done(err, 0)
		return 0, err
	}

	restored, err := runner.Run(ctx, stream)
	done(err, restored)
	return restored, err
}

// VerifyBackup re-reads a completed backup from storage and checks its MD5
// against the record. It returns the number of bytes read.
func (a *Agent) VerifyBackup(ctx context.Context, backupID string, display ValidatorDisplayService) (int64, error) {
	record, err := a.records.Find(ctx, backupID)
	if err != nil {
		return 0, err
	}

	validator := NewBackupValidator(display)
	if err := validator.ValidateRecord(record); err != nil {
		return 0, err
	}

	strategies := a.config.Strategies
	storage, err := a.registry.OpenStorage(ctx, strategies.StorageNamespace, strategies.StorageStrategy, a.storageOptions())
	if err != nil {
		return 0, err
	}

	return validator.ValidateIntegrity(ctx, record, storage)
}

func (a *Agent) storageOptions() StorageOptions {
	return StorageOptions{
		Config:         a.config.Storage,
		SegmentMaxSize: a.config.SegmentMaxSize,
		SpoolDir:       a.config.SpoolDir,
		Logger:         a.logger.Logger(),
	}
}
