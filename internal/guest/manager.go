// Package guest implements the guest-side task handlers that run on a
// database instance: backup creation, restore-and-prepare, and database and
// user provisioning.
package guest

import (
	"context"

	"dbaas-backup-agent/internal/backup"
	"dbaas-backup-agent/internal/database"
	"dbaas-backup-agent/internal/errors"
	"dbaas-backup-agent/internal/logging"
)

// BackupAgent runs backups and restores
type BackupAgent interface {
	ExecuteBackup(ctx context.Context, backupID string) (*backup.BackupRecord, error)
	ExecuteRestore(ctx context.Context, backupID, restoreLocation string) (int64, error)
}

// Admin issues administrative statements against the local MySQL server
type Admin interface {
	CreateDatabases(ctx context.Context, schemas []database.Schema) error
	CreateUsers(ctx context.Context, users []database.User) error
	IsRootEnabled(ctx context.Context) (bool, error)
}

// PrepareRequest describes the first-boot provisioning of an instance
type PrepareRequest struct {
	Databases       []database.Schema `json:"databases,omitempty" yaml:"databases,omitempty"`
	Users           []database.User   `json:"users,omitempty" yaml:"users,omitempty"`
	BackupID        string            `json:"backup_id,omitempty" yaml:"backup_id,omitempty"`
	RestoreLocation string            `json:"restore_location,omitempty" yaml:"restore_location,omitempty"`
}

// PrepareResult reports what Prepare did
type PrepareResult struct {
	Restored         bool  `json:"restored"`
	RestoredBytes    int64 `json:"restored_bytes"`
	RootEnabled      bool  `json:"root_enabled"`
	DatabasesCreated int   `json:"databases_created"`
	UsersCreated     int   `json:"users_created"`
}

// Manager dispatches guest tasks
type Manager struct {
	agent  BackupAgent
	admin  Admin
	logger *logging.Logger
}

// NewManager creates a guest manager. admin may be nil when no guest
// connection is configured; tasks that need it then fail.
func NewManager(agent BackupAgent, admin Admin, logger *logging.Logger) (*Manager, error) {
	if agent == nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, "backup agent is required", nil)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Manager{agent: agent, admin: admin, logger: logger}, nil
}

// CreateDatabase creates the given databases. Nothing happens for an empty list.
func (m *Manager) CreateDatabase(ctx context.Context, schemas []database.Schema) error {
	if len(schemas) == 0 {
		return nil
	}
	if err := m.requireAdmin("create_database"); err != nil {
		return err
	}
	return m.admin.CreateDatabases(ctx, schemas)
}

// CreateUser creates the given users and their grants. Nothing happens for an empty list.
func (m *Manager) CreateUser(ctx context.Context, users []database.User) error {
	if len(users) == 0 {
		return nil
	}
	if err := m.requireAdmin("create_user"); err != nil {
		return err
	}
	return m.admin.CreateUsers(ctx, users)
}

// CreateBackup runs the backup of an existing NEW record
func (m *Manager) CreateBackup(ctx context.Context, backupID string) (*backup.BackupRecord, error) {
	return m.agent.ExecuteBackup(ctx, backupID)
}

// Prepare restores the instance from a backup when one is named, then
// creates the requested databases and users.
func (m *Manager) Prepare(ctx context.Context, req PrepareRequest) (*PrepareResult, error) {
	done := m.logger.LogOperationStart("guest_prepare", map[string]interface{}{
		"backup_id": req.BackupID,
		"databases": len(req.Databases),
		"users":     len(req.Users),
	})

	result, err := m.prepare(ctx, req)
	done(err)
	return result, err
}

func (m *Manager) prepare(ctx context.Context, req PrepareRequest) (*PrepareResult, error) {
	result := &PrepareResult{}

	if req.BackupID != "" {
		restored, err := m.agent.ExecuteRestore(ctx, req.BackupID, req.RestoreLocation)
		if err != nil {
			return result, err
		}
		result.Restored = true
		result.RestoredBytes = restored

		// a restored data directory brings its mysql.user table with it
		if m.admin != nil {
			enabled, err := m.admin.IsRootEnabled(ctx)
			if err != nil {
				return result, err
			}
			result.RootEnabled = enabled
		} else {
			m.logger.WithField("backup_id", req.BackupID).Warn("No guest connection configured, skipping root check")
		}
	}

	if err := m.CreateDatabase(ctx, req.Databases); err != nil {
		return result, err
	}
	result.DatabasesCreated = len(req.Databases)

	if err := m.CreateUser(ctx, req.Users); err != nil {
		return result, err
	}
	result.UsersCreated = len(req.Users)

	return result, nil
}

func (m *Manager) requireAdmin(task string) error {
	if m.admin == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "no guest database connection is configured", nil).
			WithContext("task", task)
	}
	return nil
}
