package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kuitang/versioned-notes/internal/config"
	"github.com/kuitang/versioned-notes/internal/crypto"
	"github.com/kuitang/versioned-notes/internal/db"
	"github.com/kuitang/versioned-notes/internal/obs"
	"github.com/kuitang/versioned-notes/internal/s3client"
	"github.com/spf13/cobra"
)

const (
	// databaseKeyName scopes the HKDF-derived SQLCipher key.
	databaseKeyName = "notes"

	// inMemoryBucket is used with --no-s3.
	inMemoryBucket = "notes-backups"
)

var (
	flags   config.Flags
	verbose bool
)

// rootCmd serves the API when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "notes-server",
	Short: "Versioned notes API with optimistic locking",
	Long: `notes-server stores short text notes in SQLite and serves them over HTTP/JSON and MCP.
Every note carries a version; updates must name the version they are based on,
so concurrent edits are reported as conflicts instead of being lost.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		obs.Init()
		if verbose {
			obs.SetLevel(slog.LevelDebug)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.EnvFile, "env-file", "", "Load environment variables from this file (default .env when present)")
	rootCmd.PersistentFlags().BoolVar(&flags.NoS3, "no-s3", false, "Use an in-memory S3 for backups while serving (discarded on exit)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&flags.Addr, "addr", "", "Listen address (overrides LISTEN_ADDR)")
}

// loadConfig reads configuration and applies the log level.
// --verbose wins over LOG_LEVEL.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		return nil, err
	}
	if !verbose {
		obs.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}

// openDatabase opens the configured database and brings its schema up to date.
func openDatabase(ctx context.Context, cfg *config.Config) (*db.DB, db.MigrationReport, error) {
	opts := db.Options{Path: cfg.DatabasePath}
	if cfg.Encrypted() {
		master, err := crypto.ParseMasterKey(cfg.MasterKey)
		if err != nil {
			return nil, db.MigrationReport{}, err
		}
		opts.Key = crypto.DeriveDatabaseKey(master, databaseKeyName, crypto.DefaultKeyVersion)
	}

	database, err := db.Open(opts)
	if err != nil {
		return nil, db.MigrationReport{}, err
	}
	report, err := database.Migrate(ctx)
	if err != nil {
		database.Close()
		return nil, db.MigrationReport{}, err
	}
	return database, report, nil
}

// openObjectStore returns the backup object store, or nil when backups are disabled.
// The returned stop func is never nil.
func openObjectStore(ctx context.Context, cfg *config.Config) (*s3client.Client, func(), error) {
	noop := func() {}
	switch {
	case cfg.NoS3:
		client, stop, err := s3client.NewInMemory(ctx, inMemoryBucket)
		if err != nil {
			return nil, noop, err
		}
		return client, stop, nil
	case cfg.AWSBucketName != "":
		client, err := s3client.New(ctx, s3client.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.AWSBucketName,
			UsePathStyle:    cfg.AWSEndpointS3 != "",
		})
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil
	default:
		return nil, noop, nil
	}
}
