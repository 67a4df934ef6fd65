package backup

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dbaas-backup-agent/internal/logging"
)

const createBackupsTableSQL = `CREATE TABLE IF NOT EXISTS backups (
  id VARCHAR(64) NOT NULL,
  instance_id VARCHAR(64) NOT NULL,
  name VARCHAR(255) NOT NULL DEFAULT '',
  description VARCHAR(1024) NOT NULL DEFAULT '',
  state VARCHAR(16) NOT NULL,
  backup_type VARCHAR(64) NOT NULL DEFAULT '',
  checksum VARCHAR(64) NOT NULL DEFAULT '',
  location VARCHAR(1024) NOT NULL DEFAULT '',
  note VARCHAR(4096) NOT NULL DEFAULT '',
  created DATETIME(6) NOT NULL,
  updated DATETIME(6) NOT NULL,
  PRIMARY KEY (id),
  KEY idx_backups_instance_created (instance_id, created)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const selectBackupColumns = `SELECT id, instance_id, name, description, state, backup_type, checksum, location, note, created, updated FROM backups`

const upsertBackupSQL = `INSERT INTO backups (id, instance_id, name, description, state, backup_type, checksum, location, note, created, updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  name = VALUES(name),
  description = VALUES(description),
  state = VALUES(state),
  backup_type = VALUES(backup_type),
  checksum = VALUES(checksum),
  location = VALUES(location),
  note = VALUES(note),
  updated = VALUES(updated)`

// MySQLRecordStore keeps backup records in the backups table
type MySQLRecordStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewMySQLRecordStore wraps an open connection. The connection stays owned by the caller.
func NewMySQLRecordStore(db *sql.DB, logger *logging.Logger) *MySQLRecordStore {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &MySQLRecordStore{db: db, logger: logger}
}

// EnsureSchema creates the backups table if it does not exist
func (s *MySQLRecordStore) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, createBackupsTableSQL)
	s.logger.LogSQLExecution(createBackupsTableSQL, time.Since(start), 0, err)
	if err != nil {
		return NewStorageError("failed to create backups table", err)
	}
	return nil
}

func (s *MySQLRecordStore) Find(ctx context.Context, id string) (*BackupRecord, error) {
	row := s.db.QueryRowContext(ctx, selectBackupColumns+" WHERE id = ?", id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewRecordNotFoundError(id)
	}
	if err != nil {
		return nil, NewStorageError("failed to load backup record", err).WithContext("backup_id", id)
	}
	return record, nil
}

func (s *MySQLRecordStore) Save(ctx context.Context, record *BackupRecord) error {
	if record == nil {
		return NewValidationError("record cannot be nil", nil)
	}
	if err := record.Validate(); err != nil {
		return NewValidationError("invalid backup record", err)
	}

	start := time.Now()
	result, err := s.db.ExecContext(ctx, upsertBackupSQL,
		record.ID, record.InstanceID, record.Name, record.Description,
		string(record.State), record.BackupType, record.Checksum, record.Location,
		record.Note, record.Created.UTC(), record.Updated.UTC(),
	)

	var rows int64
	if err == nil {
		rows, _ = result.RowsAffected()
	}
	s.logger.LogSQLExecution(upsertBackupSQL, time.Since(start), rows, err)

	if err != nil {
		return NewStorageError("failed to save backup record", err).WithContext("backup_id", record.ID)
	}
	return nil
}

func (s *MySQLRecordStore) List(ctx context.Context, instanceID string) ([]*BackupRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if instanceID == "" {
		rows, err = s.db.QueryContext(ctx, selectBackupColumns+" ORDER BY created, id")
	} else {
		rows, err = s.db.QueryContext(ctx, selectBackupColumns+" WHERE instance_id = ? ORDER BY created, id", instanceID)
	}
	if err != nil {
		return nil, NewStorageError("failed to list backup records", err)
	}
	defer rows.Close()

	var records []*BackupRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, NewStorageError("failed to read backup record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("failed to list backup records", err)
	}
	return records, nil
}

// Close is a no-op; the connection belongs to the caller
func (s *MySQLRecordStore) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*BackupRecord, error) {
	var (
		record BackupRecord
		state  string
	)
	err := row.Scan(
		&record.ID, &record.InstanceID, &record.Name, &record.Description,
		&state, &record.BackupType, &record.Checksum, &record.Location,
		&record.Note, &record.Created, &record.Updated,
	)
	if err != nil {
		return nil, err
	}
	record.State = BackupState(state)
	return &record, nil
}
