package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"dbaas-backup-agent/internal/database"
	"dbaas-backup-agent/internal/display"
	"dbaas-backup-agent/internal/guest"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	guestFile            string
	guestBackupID        string
	guestRestoreLocation string
	guestDatabases       []string
	guestCharacterSet    string
	guestCollate         string

	guestUserName     string
	guestUserHost     string
	guestUserPassword string
)

func newGuestCommand() *cobra.Command {
	guestCmd := &cobra.Command{
		Use:   "guest",
		Short: "Provision the local database server",
		Long: `Guest tasks run against the local MySQL server through the "guest" connection
of the agent configuration.

A request file is YAML or JSON:

  backup_id: 5b1f...
  restore_location: /var/lib/mysql
  databases:
    - name: app
      character_set: utf8mb4
  users:
    - name: app
      host: "%"
      password: secret
      databases: [app]`,
	}

	prepareCmd := &cobra.Command{
		Use:   "prepare",
		Short: "Restore from a backup, then create databases and users",
		Long: `Prepare a new instance. When a backup id is given the backup is restored
first; databases and users are created afterwards. Flags override the
request file.

Examples:
  dbaas-backup-agent guest prepare --file prepare.yaml
  dbaas-backup-agent guest prepare --backup-id 5b1f... --database app`,
		RunE: runGuestPrepare,
	}
	prepareCmd.Flags().StringVarP(&guestFile, "file", "f", "", "request file (YAML or JSON)")
	prepareCmd.Flags().StringVar(&guestBackupID, "backup-id", "", "backup to restore before provisioning")
	prepareCmd.Flags().StringVar(&guestRestoreLocation, "restore-location", "", "directory to restore into (default from config)")
	prepareCmd.Flags().StringSliceVar(&guestDatabases, "database", nil, "database to create (repeatable)")

	createDatabaseCmd := &cobra.Command{
		Use:   "create-database",
		Short: "Create databases",
		Long: `Create databases on the local server.

Examples:
  dbaas-backup-agent guest create-database --database app --database audit
  dbaas-backup-agent guest create-database --file databases.yaml`,
		RunE: runGuestCreateDatabase,
	}
	createDatabaseCmd.Flags().StringVarP(&guestFile, "file", "f", "", "request file (YAML or JSON)")
	createDatabaseCmd.Flags().StringSliceVar(&guestDatabases, "database", nil, "database to create (repeatable)")
	createDatabaseCmd.Flags().StringVar(&guestCharacterSet, "character-set", "", "character set for databases given with --database")
	createDatabaseCmd.Flags().StringVar(&guestCollate, "collate", "", "collation for databases given with --database")

	createUserCmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create users and grant them access to databases",
		Long: `Create users on the local server.

Examples:
  dbaas-backup-agent guest create-user --name app --password secret --database app
  dbaas-backup-agent guest create-user --file users.yaml`,
		RunE: runGuestCreateUser,
	}
	createUserCmd.Flags().StringVarP(&guestFile, "file", "f", "", "request file (YAML or JSON)")
	createUserCmd.Flags().StringVar(&guestUserName, "name", "", "user name")
	createUserCmd.Flags().StringVar(&guestUserHost, "host", "%", "host the user connects from")
	createUserCmd.Flags().StringVar(&guestUserPassword, "password", "", "user password")
	createUserCmd.Flags().StringSliceVar(&guestDatabases, "database", nil, "database to grant access to (repeatable)")

	guestCmd.AddCommand(prepareCmd, createDatabaseCmd, createUserCmd)
	return guestCmd
}

// loadPrepareRequest reads the request file, if any. YAML is a superset of
// JSON so one decoder serves both.
func loadPrepareRequest(path string) (guest.PrepareRequest, error) {
	var req guest.PrepareRequest
	if path == "" {
		return req, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read request file: %w", err)
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse request file %s: %w", path, err)
	}
	return req, nil
}

func schemasFromFlags() []database.Schema {
	schemas := make([]database.Schema, 0, len(guestDatabases))
	for _, name := range guestDatabases {
		schemas = append(schemas, database.Schema{
			Name:         name,
			CharacterSet: guestCharacterSet,
			Collate:      guestCollate,
		})
	}
	return schemas
}

func runGuestPrepare(cmd *cobra.Command, args []string) error {
	req, err := loadPrepareRequest(guestFile)
	if err != nil {
		return err
	}
	if guestBackupID != "" {
		req.BackupID = guestBackupID
	}
	if guestRestoreLocation != "" {
		req.RestoreLocation = guestRestoreLocation
	}
	if len(guestDatabases) > 0 {
		req.Databases = schemasFromFlags()
	}

	app, displayService, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	var result *guest.PrepareResult
	err = runTask(cmd, app, func(ctx context.Context) error {
		var err error
		result, err = app.Guest().Prepare(ctx, req)
		return err
	})
	if err != nil {
		return err
	}

	displayService.Success("Instance prepared")
	displayService.PrintFields("Prepare", []display.Field{
		{Name: "restored", Value: strconv.FormatBool(result.Restored)},
		{Name: "restored_bytes", Value: strconv.FormatInt(result.RestoredBytes, 10)},
		{Name: "root_enabled", Value: strconv.FormatBool(result.RootEnabled)},
		{Name: "databases_created", Value: strconv.Itoa(result.DatabasesCreated)},
		{Name: "users_created", Value: strconv.Itoa(result.UsersCreated)},
	})
	return nil
}

func runGuestCreateDatabase(cmd *cobra.Command, args []string) error {
	req, err := loadPrepareRequest(guestFile)
	if err != nil {
		return err
	}
	schemas := append(req.Databases, schemasFromFlags()...)
	if len(schemas) == 0 {
		return fmt.Errorf("no databases given (use --database or --file)")
	}

	app, displayService, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	err = runTask(cmd, app, func(ctx context.Context) error {
		return app.Guest().CreateDatabase(ctx, schemas)
	})
	if err != nil {
		return err
	}

	displayService.Success(fmt.Sprintf("Created %d database(s)", len(schemas)))
	return nil
}

func runGuestCreateUser(cmd *cobra.Command, args []string) error {
	req, err := loadPrepareRequest(guestFile)
	if err != nil {
		return err
	}
	users := req.Users
	if guestUserName != "" {
		users = append(users, database.User{
			Name:      guestUserName,
			Host:      guestUserHost,
			Password:  guestUserPassword,
			Databases: guestDatabases,
		})
	}
	if len(users) == 0 {
		return fmt.Errorf("no users given (use --name or --file)")
	}

	app, displayService, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	err = runTask(cmd, app, func(ctx context.Context) error {
		return app.Guest().CreateUser(ctx, users)
	})
	if err != nil {
		return err
	}

	displayService.Success(fmt.Sprintf("Created %d user(s)", len(users)))
	return nil
}
