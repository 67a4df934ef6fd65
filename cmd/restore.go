package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var restoreLocation string

func newRestoreCommand() *cobra.Command {
	restoreCmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore a completed backup",
		Long: `Stream a completed backup from storage into the restore command that matches
its backup type. The backup record is left unchanged.

Examples:
  # Restore into the configured restore location
  dbaas-backup-agent restore 5b1f...

  # Restore into a scratch directory
  dbaas-backup-agent restore 5b1f... --restore-location /tmp/restore`,
		Args: cobra.ExactArgs(1),
		RunE: runRestore,
	}
	restoreCmd.Flags().StringVar(&restoreLocation, "restore-location", "", "directory to restore into (default from config)")

	return restoreCmd
}

func runRestore(cmd *cobra.Command, args []string) error {
	app, displayService, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	location := restoreLocation
	if location == "" {
		location = app.AgentConfig().RestoreLocation
	}
	displayService.Info(fmt.Sprintf("Restoring backup %s into %s...", args[0], location))

	var restored int64
	err = runTask(cmd, app, func(ctx context.Context) error {
		var err error
		restored, err = app.Agent().ExecuteRestore(ctx, args[0], location)
		return err
	})
	if err != nil {
		return err
	}

	displayService.Success(fmt.Sprintf("Restored %s from backup %s", formatBytes(restored), args[0]))
	return nil
}
