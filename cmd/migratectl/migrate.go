package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shixiaotong123-qwe/database-update/config"
	"github.com/shixiaotong123-qwe/database-update/internal/domain"
	"github.com/shixiaotong123-qwe/database-update/internal/infra"
	"github.com/shixiaotong123-qwe/database-update/internal/repository"
	"github.com/shixiaotong123-qwe/database-update/internal/usecase"
)

var (
	upTarget            string
	upAtomicBatch       bool
	upContinueOnFailure bool
	planTarget          string
	unrecordVersion     string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
	Long:  "Manage database schema migrations against the configured database",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Long:  "Apply all pending migrations to the database in version order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		service, cfg, err := setupService()
		if err != nil {
			return err
		}

		opts := runOptions(cfg)
		if upTarget != "" {
			opts.TargetVersion = upTarget
		}
		if cmd.Flags().Changed("atomic-batch") {
			opts.AtomicBatch = upAtomicBatch
		}
		if cmd.Flags().Changed("continue-on-failure") {
			opts.ContinueOnFailure = upContinueOnFailure
		}

		report, err := service.Apply(ctx, opts)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		if len(report.Results) == 0 {
			fmt.Println("No pending migrations.")
			return nil
		}

		// テーブル形式で出力
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tOUTCOME\tDURATION")
		fmt.Fprintln(w, "-------\t----\t-------\t--------")
		for _, res := range report.Results {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", res.Version, res.Name, res.Outcome, res.Duration.Round(time.Millisecond))
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to flush output: %w", err)
		}

		for _, res := range report.Results {
			if res.Outcome == domain.OutcomeFailed {
				fmt.Printf("Error in %s: %s\n", res.Version, res.Error)
			}
		}

		fmt.Printf("Applied %d migration(s), skipped %d, failed %d.\n",
			report.AppliedCount(), report.SkippedCount(), report.FailedCount())

		if !report.Success() {
			return fmt.Errorf("migration run %s finished with %d failure(s)", report.RunID, report.FailedCount())
		}
		return nil
	},
}

var migratePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview pending migrations",
	Long:  "Show which migrations would be applied without touching the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		service, cfg, err := setupService()
		if err != nil {
			return err
		}

		opts := runOptions(cfg)
		if planTarget != "" {
			opts.TargetVersion = planTarget
		}

		plan, err := service.Plan(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to build plan: %w", err)
		}

		if len(plan.Pending) == 0 {
			fmt.Println("No pending migrations.")
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME")
			fmt.Fprintln(w, "-------\t----")
			for _, script := range plan.Pending {
				fmt.Fprintf(w, "%s\t%s\n", script.Version.Raw, script.Name)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
		}

		if len(plan.Divergences) > 0 {
			fmt.Println("\nDivergences:")
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "KIND\tVERSION\tDETAIL")
			fmt.Fprintln(w, "----\t-------\t------")
			for _, d := range plan.Divergences {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Kind, d.Version, d.Detail)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
		}

		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  "Show the status of all migrations known to the source or the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		service, _, err := setupService()
		if err != nil {
			return err
		}

		migrations, err := service.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		// テーブル形式で出力
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
		fmt.Fprintln(w, "-------\t----\t------\t----------")

		for _, migration := range migrations {
			appliedAt := "-"
			if migration.AppliedAt != nil {
				appliedAt = migration.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", migration.Version, migration.Name, migration.Status, appliedAt)
		}

		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to flush output: %w", err)
		}

		return nil
	},
}

var migrateValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate applied migrations against the source",
	Long:  "Compare ledger checksums with the source directory and report divergences",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		service, _, err := setupService()
		if err != nil {
			return err
		}

		divergences, err := service.Validate(ctx)
		if err != nil {
			return fmt.Errorf("failed to validate migrations: %w", err)
		}

		if len(divergences) == 0 {
			fmt.Println("No divergences detected.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "KIND\tVERSION\tDETAIL")
		fmt.Fprintln(w, "----\t-------\t------")
		for _, d := range divergences {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Kind, d.Version, d.Detail)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to flush output: %w", err)
		}

		return fmt.Errorf("found %d divergence(s)", len(divergences))
	},
}

var migrateUnrecordCmd = &cobra.Command{
	Use:   "unrecord",
	Short: "Remove a version from the migration ledger",
	Long:  "Remove a ledger record without running any SQL. Intended for recovering from manually reverted migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		service, _, err := setupService()
		if err != nil {
			return err
		}

		if err := service.Unrecord(ctx, unrecordVersion); err != nil {
			return fmt.Errorf("failed to remove ledger record: %w", err)
		}

		fmt.Printf("Removed ledger record for version %q.\n", unrecordVersion)
		return nil
	},
}

// setupService は設定からマイグレーションサービス一式を組み立てる。
func setupService() (*usecase.MigrationService, *config.Config, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// データベース接続
	db, err := infra.NewDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 絶対パスに変換
	absPath, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve migrations directory: %w", err)
	}

	source := usecase.NewDirectorySource(absPath, usecase.NamingScheme(cfg.NamingScheme), cfg.NormalizeEOL)
	repo := repository.NewMigrationRepository(db, cfg.MigrationsTable)
	executor := usecase.NewExecutor(db, repo, cfg.MigrationsTable)
	return usecase.NewMigrationService(source, repo, executor), cfg, nil
}

// runOptions は設定から実行モードの既定値を組み立てる。
func runOptions(cfg *config.Config) usecase.RunOptions {
	return usecase.RunOptions{
		StrictChecksum:    cfg.StrictChecksum,
		StrictMissing:     cfg.StrictMissing,
		AtomicBatch:       cfg.AtomicBatch,
		ContinueOnFailure: cfg.ContinueOnFailure,
	}
}

func init() {
	migrateUpCmd.Flags().StringVar(&upTarget, "target", "", "Stop after applying this version (optional)")
	migrateUpCmd.Flags().BoolVar(&upAtomicBatch, "atomic-batch", false, "Apply the whole batch in a single transaction")
	migrateUpCmd.Flags().BoolVar(&upContinueOnFailure, "continue-on-failure", false, "Keep applying later migrations after a failure")
	migratePlanCmd.Flags().StringVar(&planTarget, "target", "", "Plan up to this version (optional)")
	migrateUnrecordCmd.Flags().StringVar(&unrecordVersion, "version", "", "Migration version to remove (required)")
	migrateUnrecordCmd.MarkFlagRequired("version")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migratePlanCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateValidateCmd)
	migrateCmd.AddCommand(migrateUnrecordCmd)
}
