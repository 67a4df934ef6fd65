package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbaas-backup-agent/internal/errors"
	"dbaas-backup-agent/internal/logging"
)

const (
	defaultCharacterSet = "utf8"
	defaultCollation    = "utf8_general_ci"
	maxSchemaNameLength = 64
	maxUserNameLength   = 16
)

// Schema describes a database to create on the guest
type Schema struct {
	Name         string `json:"name" yaml:"name"`
	CharacterSet string `json:"character_set,omitempty" yaml:"character_set,omitempty"`
	Collate      string `json:"collate,omitempty" yaml:"collate,omitempty"`
}

// Validate checks the schema name
func (s Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if len(s.Name) > maxSchemaNameLength {
		return fmt.Errorf("database name %q exceeds %d characters", s.Name, maxSchemaNameLength)
	}
	return nil
}

// User describes a MySQL account and the databases it is granted
type User struct {
	Name      string   `json:"name" yaml:"name"`
	Host      string   `json:"host,omitempty" yaml:"host,omitempty"`
	Password  string   `json:"password" yaml:"password"`
	Databases []string `json:"databases,omitempty" yaml:"databases,omitempty"`
}

// Validate checks the user name
func (u User) Validate() error {
	if u.Name == "" {
		return fmt.Errorf("user name is required")
	}
	if len(u.Name) > maxUserNameLength {
		return fmt.Errorf("user name %q exceeds %d characters", u.Name, maxUserNameLength)
	}
	return nil
}

// MySQLAdmin issues administrative statements against the local MySQL server
type MySQLAdmin struct {
	db      *sql.DB
	service DatabaseService
	logger  *logging.Logger
}

// NewMySQLAdmin creates an admin bound to an open connection
func NewMySQLAdmin(db *sql.DB, service DatabaseService, logger *logging.Logger) *MySQLAdmin {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &MySQLAdmin{db: db, service: service, logger: logger}
}

// CreateDatabases creates every schema that does not exist yet
func (a *MySQLAdmin) CreateDatabases(ctx context.Context, schemas []Schema) error {
	statements := make([]string, 0, len(schemas))
	for _, schema := range schemas {
		if err := schema.Validate(); err != nil {
			return errors.NewAppError(errors.ErrorTypeValidation, "invalid database definition", err)
		}
		statements = append(statements, createDatabaseSQL(schema))
	}

	if err := a.service.ExecuteSQL(ctx, a.db, statements); err != nil {
		return err
	}

	a.logger.WithField("count", len(schemas)).Info("Databases created")
	return nil
}

// CreateUsers creates the accounts and grants them access to their databases
func (a *MySQLAdmin) CreateUsers(ctx context.Context, users []User) error {
	var statements []string
	for _, user := range users {
		if err := user.Validate(); err != nil {
			return errors.NewAppError(errors.ErrorTypeValidation, "invalid user definition", err)
		}
		statements = append(statements, createUserSQL(user))
		for _, db := range user.Databases {
			statements = append(statements, grantSQL(user, db))
		}
	}

	if err := a.service.ExecuteSQL(ctx, a.db, statements); err != nil {
		return err
	}

	a.logger.WithField("count", len(users)).Info("Users created")
	return nil
}

// IsRootEnabled reports whether a root account can log in from a remote host
func (a *MySQLAdmin) IsRootEnabled(ctx context.Context) (bool, error) {
	if a.db == nil {
		return false, errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	var count int
	err := a.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mysql.user WHERE User = 'root' AND Host != 'localhost'").Scan(&count)
	if err != nil {
		return false, errors.WrapError(err, "failed to check root access")
	}
	return count > 0, nil
}

func createDatabaseSQL(schema Schema) string {
	charset := schema.CharacterSet
	if charset == "" {
		charset = defaultCharacterSet
	}
	collate := schema.Collate
	if collate == "" {
		collate = defaultCollation
	}
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s CHARACTER SET = %s COLLATE = %s",
		quoteIdentifier(schema.Name), quoteString(charset), quoteString(collate))
}

func createUserSQL(user User) string {
	return fmt.Sprintf("CREATE USER %s IDENTIFIED BY %s", account(user), quoteString(user.Password))
}

func grantSQL(user User, database string) string {
	return fmt.Sprintf("GRANT ALL PRIVILEGES ON %s.* TO %s", quoteIdentifier(database), account(user))
}

func account(user User) string {
	host := user.Host
	if host == "" {
		host = "%"
	}
	return quoteString(user.Name) + "@" + quoteString(host)
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteString(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return "'" + strings.ReplaceAll(value, "'", `\'`) + "'"
}
