package cmd

import (
	"context"
	"fmt"
	"time"

	"dbaas-backup-agent/internal/backup"
	"dbaas-backup-agent/internal/display"

	"github.com/spf13/cobra"
)

var (
	// Backup create flags
	backupInstance    string
	backupName        string
	backupDescription string
	backupRunNow      bool

	// Backup list flags
	listInstance string
	listLimit    int
)

func newBackupCommand() *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, run and inspect backups",
		Long: `Manage the backups of this instance.

A backup starts as a NEW record. Running it launches the configured backup
command, streams its output into the storage container and marks the record
COMPLETED with the object location and checksum, or FAILED.`,
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new backup record",
		Long: `Create a backup record in state NEW and print its id.

Examples:
  # Create a record to be run later
  dbaas-backup-agent backup create --instance inst-1 --name nightly

  # Create and run immediately
  dbaas-backup-agent backup create --instance inst-1 --name nightly --run`,
		RunE: runBackupCreate,
	}
	createCmd.Flags().StringVar(&backupInstance, "instance", "", "instance id the backup belongs to (required)")
	createCmd.Flags().StringVar(&backupName, "name", "", "backup name (required)")
	createCmd.Flags().StringVar(&backupDescription, "description", "", "backup description")
	createCmd.Flags().BoolVar(&backupRunNow, "run", false, "run the backup right after creating the record")
	createCmd.MarkFlagRequired("instance")
	createCmd.MarkFlagRequired("name")

	runCmd := &cobra.Command{
		Use:   "run <backup-id>",
		Short: "Run the backup for an existing record",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupRun,
	}

	showCmd := &cobra.Command{
		Use:   "show <backup-id>",
		Short: "Show a backup record",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupShow,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List backup records",
		Long: `List backup records in creation order.

Examples:
  # List all backups
  dbaas-backup-agent backup list

  # List the last 5 backups of one instance as YAML
  dbaas-backup-agent backup list --instance inst-1 --limit 5 --format yaml`,
		RunE: runBackupList,
	}
	listCmd.Flags().StringVar(&listInstance, "instance", "", "only list backups of this instance")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of backups to list (0 for all)")

	verifyCmd := &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Re-read a completed backup and check its checksum",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupVerify,
	}

	backupCmd.AddCommand(createCmd, runCmd, showCmd, listCmd, verifyCmd)
	return backupCmd
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	app, displayService, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	var record *backup.BackupRecord
	err = runTask(cmd, app, func(ctx context.Context) error {
		var err error
		record, err = app.Agent().CreateRecord(ctx, backupInstance, backupName, backupDescription)
		if err != nil {
			return err
		}
		if !backupRunNow {
			return nil
		}

		displayService.Info(fmt.Sprintf("Running backup %s...", record.ID))
		record, err = app.Agent().ExecuteBackup(ctx, record.ID)
		return err
	})
	if err != nil {
		return err
	}

	if backupRunNow {
		displayService.Success(fmt.Sprintf("Backup %s completed", record.ID))
	} else {
		displayService.Success(fmt.Sprintf("Backup record %s created", record.ID))
	}
	displayService.PrintFields("Backup", recordFields(record))
	return nil
}

func runBackupRun(cmd *cobra.Command, args []string) error {
	app, displayService, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	displayService.Info(fmt.Sprintf("Running backup %s...", args[0]))

	var record *backup.BackupRecord
	err = runTask(cmd, app, func(ctx context.Context) error {
		var err error
		record, err = app.Agent().ExecuteBackup(ctx, args[0])
		return err
	})
	if err != nil {
		return err
	}

	displayService.Success(fmt.Sprintf("Backup %s completed", record.ID))
	displayService.PrintFields("Backup", recordFields(record))
	return nil
}

func runBackupShow(cmd *cobra.Command, args []string) error {
	app, displayService, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	var record *backup.BackupRecord
	err = runTask(cmd, app, func(ctx context.Context) error {
		var err error
		record, err = app.Agent().GetRecord(ctx, args[0])
		return err
	})
	if err != nil {
		return err
	}

	displayService.PrintFields("Backup", recordFields(record))
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	app, displayService, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	var records []*backup.BackupRecord
	err = runTask(cmd, app, func(ctx context.Context) error {
		var err error
		records, err = app.Agent().ListRecords(ctx, listInstance)
		return err
	})
	if err != nil {
		return err
	}

	// keep the most recent
	if listLimit > 0 && len(records) > listLimit {
		records = records[len(records)-listLimit:]
	}

	if len(records) == 0 && !displayService.GetConfig().IsStructured() {
		displayService.Info("No backups found")
		return nil
	}

	displayService.PrintTable(recordTableHeaders, recordRows(records))
	return nil
}

func runBackupVerify(cmd *cobra.Command, args []string) error {
	app, displayService, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	var verified int64
	err = runTask(cmd, app, func(ctx context.Context) error {
		var err error
		verified, err = app.Agent().VerifyBackup(ctx, args[0], displayService)
		return err
	})
	if err != nil {
		return err
	}

	displayService.Success(fmt.Sprintf("Backup %s verified (%s read)", args[0], formatBytes(verified)))
	return nil
}

var recordTableHeaders = []string{"ID", "Instance", "Name", "State", "Type", "Created"}

func recordRows(records []*backup.BackupRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.ID,
			r.InstanceID,
			r.Name,
			string(r.State),
			r.BackupType,
			r.Created.Format(time.RFC3339),
		})
	}
	return rows
}

func recordFields(r *backup.BackupRecord) []display.Field {
	fields := []display.Field{
		{Name: "id", Value: r.ID},
		{Name: "instance_id", Value: r.InstanceID},
		{Name: "name", Value: r.Name},
		{Name: "state", Value: string(r.State)},
	}
	if r.Description != "" {
		fields = append(fields, display.Field{Name: "description", Value: r.Description})
	}
	if r.BackupType != "" {
		fields = append(fields, display.Field{Name: "backup_type", Value: r.BackupType})
	}
	if r.Location != "" {
		fields = append(fields,
			display.Field{Name: "location", Value: r.Location},
			display.Field{Name: "checksum", Value: r.Checksum})
	}
	if r.Note != "" {
		fields = append(fields, display.Field{Name: "note", Value: r.Note})
	}
	return append(fields,
		display.Field{Name: "created", Value: r.Created.Format(time.RFC3339)},
		display.Field{Name: "updated", Value: r.Updated.Format(time.RFC3339)})
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
