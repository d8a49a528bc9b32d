package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kuitang/versioned-notes/internal/backup"
	"github.com/kuitang/versioned-notes/internal/config"
	"github.com/kuitang/versioned-notes/internal/notes"
	"github.com/spf13/cobra"
)

var (
	errBackupsDisabled = errors.New("backups are disabled: set BUCKET_NAME")
	// --no-s3 objects live in process memory, so a one-shot command would
	// write a backup nobody can read and never find an earlier one.
	errEphemeralBackups = errors.New("backup commands need a real bucket: --no-s3 storage is discarded when the command exits")
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a JSON snapshot of every note to object storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackupService(cmd.Context(), func(svc *backup.Service) error {
			key, err := svc.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		})
	},
}

var backupLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Describe the newest backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackupService(cmd.Context(), func(svc *backup.Service) error {
			return describeLatest(cmd.Context(), cmd.OutOrStdout(), svc)
		})
	},
}

func init() {
	backupCmd.AddCommand(backupLatestCmd)
	rootCmd.AddCommand(backupCmd)
}

func withBackupService(ctx context.Context, fn func(*backup.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := checkBackupTarget(cfg); err != nil {
		return err
	}

	database, _, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	objects, stop, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stop()

	return fn(backup.NewService(notes.NewStore(database), objects))
}

func checkBackupTarget(cfg *config.Config) error {
	switch {
	case cfg.NoS3:
		return errEphemeralBackups
	case !cfg.BackupsEnabled():
		return errBackupsDisabled
	}
	return nil
}

func describeLatest(ctx context.Context, w io.Writer, svc *backup.Service) error {
	key, err := svc.Latest(ctx)
	if err != nil {
		return err
	}
	if key == "" {
		fmt.Fprintln(w, "no backups")
		return nil
	}
	snap, err := svc.Restore(ctx, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\ncreated_at=%s notes=%d\n", key, snap.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), snap.Count)
	return nil
}
