package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the schema and backfill missing note versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, report, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "migrated %s: %d note version(s) backfilled, %d legacy timestamp row(s) converted\n",
			cfg.DatabasePath, report.VersionsBackfilled, report.TimestampsConverted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
