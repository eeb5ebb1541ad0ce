package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/typeloader/typeloader/internal/config"
	"github.com/typeloader/typeloader/internal/domain/submission"
	"github.com/typeloader/typeloader/internal/platform/apperr"
	"github.com/typeloader/typeloader/internal/platform/blobstore"
	"github.com/typeloader/typeloader/internal/platform/db"
	"github.com/typeloader/typeloader/internal/platform/dropbox"
	"github.com/typeloader/typeloader/internal/platform/telemetry"
	"github.com/typeloader/typeloader/internal/platform/webin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "typeloader",
		Short:         "Package novel allele sequences and submit them to ENA",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(referenceCmd())
	rootCmd.AddCommand(packageCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(registerProjectCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		title, msg := apperr.Classify(err)
		fmt.Fprintf(os.Stderr, "%s: %s\n", title, msg)
		os.Exit(1)
	}
}

// newLogger builds the process logger. Development gets the console writer.
func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app holds the collaborators shared by the commands that touch submission
// history.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	repo    submission.BatchRepository
	archive blobstore.Store
	svc     *submission.Service
	pinger  db.Pinger // nil for the memory driver

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp opens history and archive and wires the submission service. The
// Webin-CLI jar is looked up but only required once a batch is validated.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: telemetry.New()}

	if err := a.openHistory(ctx); err != nil {
		a.Close()
		return nil, err
	}

	archive, err := blobstore.Open(ctx, blobstore.Options{
		Driver: cfg.ArchiveDriver,
		Dir:    cfg.ArchiveDir,
		S3: blobstore.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		},
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a.archive = archive

	jar, err := webin.LocateJar(cfg.WebinCLIDir)
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.WebinCLIDir).Msg("Webin-CLI jar not found, validation will fail")
	}
	orch := submission.NewOrchestrator(webin.ExecRunner{WaitDelay: 5 * time.Second}, submission.ToolConfig{
		Java:       cfg.JavaPath,
		Jar:        jar,
		User:       cfg.ENAUser,
		Password:   cfg.ENAPassword,
		CenterName: cfg.ENACenterName,
		Proxy:      cfg.Proxy,
		Timeout:    cfg.WebinTimeout,
	}, a.metrics, logger)

	opts := []submission.Option{
		submission.WithArchive(archive),
		submission.WithMetrics(a.metrics),
	}
	if cfg.ENADropboxURL != "" && cfg.ENAUser != "" {
		opts = append(opts, submission.WithDropbox(dropbox.NewClient(
			cfg.ENADropboxURL, cfg.ENAUser, cfg.ENAPassword,
			dropbox.WithProxy(cfg.Proxy),
			dropbox.WithLogger(logger),
		)))
	}

	a.svc = submission.NewService(submission.Config{
		ProjectsDir: cfg.ProjectsDir,
		CenterName:  cfg.ENACenterName,
		ToolName:    cfg.ToolName,
		ToolVersion: cfg.ToolVersion,
		Test:        cfg.UseTestServer(),
	}, a.repo, orch, logger, opts...)
	return a, nil
}

func (a *app) openHistory(ctx context.Context) error {
	switch a.cfg.HistoryDriver {
	case config.DriverMemory:
		a.repo = submission.NewMemoryRepo()

	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConns, a.cfg.DBMinConns)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		if err := migrateUp(ctx, db.NewMigrator(pool, db.Migrations, db.PostgresDir), a.logger); err != nil {
			return err
		}
		a.repo = submission.NewPostgresRepo(pool)
		a.pinger = pool

	default:
		sqlDB, err := db.OpenSQLite(ctx, a.cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { sqlDB.Close() })
		if err := migrateUp(ctx, db.NewSQLiteMigrator(sqlDB, db.Migrations, db.SQLiteDir), a.logger); err != nil {
			return err
		}
		a.repo = submission.NewSQLiteRepo(sqlDB)
		a.pinger = db.SQLPinger{DB: sqlDB}
	}
	return nil
}

func migrateUp(ctx context.Context, m *db.Migrator, logger zerolog.Logger) error {
	n, err := m.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if n > 0 {
		logger.Info().Int("applied", n).Msg("history database migrated")
	}
	return nil
}
