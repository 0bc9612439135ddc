package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shixiaotong123-qwe/database-update/internal/domain"
)

// ledgerRow は実行トランザクション内から台帳へ書き込むための行定義。
// リポジトリ側のモデルと同じ列にマッピングしている。
type ledgerRow struct {
	Version         string    `gorm:"column:version;primaryKey;type:varchar(32)"`
	Name            string    `gorm:"column:name;type:varchar(255);not null"`
	AppliedAt       time.Time `gorm:"column:applied_at;not null;autoCreateTime"`
	Checksum        string    `gorm:"column:checksum;type:char(64);not null"`
	Success         bool      `gorm:"column:success;not null"`
	ExecutionTimeMs int64     `gorm:"column:execution_time_ms;not null"`
}

// Executor は適用計画を順番に実行し、結果を台帳へ書き込む
// 既定では1スクリプトごとに独立したトランザクションで実行する。
type Executor struct {
	db    *gorm.DB
	repo  MigrationRepository
	table string
}

// NewExecutor は新しいExecutorを生成する。
func NewExecutor(db *gorm.DB, repo MigrationRepository, table string) *Executor {
	if table == "" {
		table = "schema_migrations"
	}
	return &Executor{
		db:    db,
		repo:  repo,
		table: table,
	}
}

// Apply は計画を順に実行してレポートを返す。
// スクリプト単体の失敗はエラーではなくレポートの failed として表し、
// 返り値のエラーはキャンセルや台帳アクセス自体の失敗に限る。
func (e *Executor) Apply(ctx context.Context, plan *domain.MigrationPlan, opts RunOptions) (*domain.MigrationReport, error) {
	report := &domain.MigrationReport{
		RunID:       uuid.New().String(),
		StartedAt:   time.Now(),
		Divergences: plan.Divergences,
	}

	var err error
	if opts.AtomicBatch {
		err = e.applyBatch(ctx, plan, report)
	} else {
		err = e.applyEach(ctx, plan, report, opts)
	}
	report.FinishedAt = time.Now()
	return report, err
}

// applyEach は1スクリプトごとに独立したトランザクションで適用する。
// バージョンNの記録がコミットされてから次のバージョンへ進む。
func (e *Executor) applyEach(ctx context.Context, plan *domain.MigrationPlan, report *domain.MigrationReport, opts RunOptions) error {
	for _, script := range plan.Pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		// 競合する別インスタンスが先に適用していないか直前に再確認する
		applied, err := e.repo.IsApplied(ctx, script.Version.Raw)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if applied {
			e.skip(ctx, report, script)
			continue
		}

		slog.InfoContext(ctx, "applying migration",
			"operation", "apply",
			"version", script.Version.Raw,
			"name", script.Name,
		)

		start := time.Now()
		if script.Baseline {
			err = e.recordBaseline(ctx, script)
		} else {
			err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return e.applyOne(ctx, tx, script)
			})
		}
		duration := time.Since(start)

		if err != nil {
			if errors.Is(err, domain.ErrMigrationRecordExists) {
				// トランザクション中に別インスタンスが記録した場合もスキップ扱い
				e.skip(ctx, report, script)
				continue
			}
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "apply",
				"version", script.Version.Raw,
				"error", err,
			)
			report.Results = append(report.Results, domain.MigrationResult{
				Version:  script.Version.Raw,
				Name:     script.Name,
				Outcome:  domain.OutcomeFailed,
				Duration: duration,
				Error:    err.Error(),
			})
			if !opts.ContinueOnFailure {
				return nil
			}
			continue
		}

		slog.InfoContext(ctx, "migration applied",
			"operation", "apply",
			"version", script.Version.Raw,
			"duration_ms", duration.Milliseconds(),
		)
		report.Results = append(report.Results, domain.MigrationResult{
			Version:  script.Version.Raw,
			Name:     script.Name,
			Outcome:  domain.OutcomeApplied,
			Duration: duration,
		})
	}
	return nil
}

// applyBatch は計画全体を単一トランザクションで適用する。
// トランザクショナルDDLを持つエンジンでの利用を呼び出し側が明示的に選ぶ。
func (e *Executor) applyBatch(ctx context.Context, plan *domain.MigrationPlan, report *domain.MigrationReport) error {
	var results []domain.MigrationResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, script := range plan.Pending {
			if err := ctx.Err(); err != nil {
				return err
			}

			// トランザクション内での再確認は同じtxを通して行う
			applied, err := e.isRecorded(tx, script.Version.Raw)
			if err != nil {
				return fmt.Errorf("failed to check migration status: %w", err)
			}
			if applied {
				results = append(results, domain.MigrationResult{
					Version: script.Version.Raw,
					Name:    script.Name,
					Outcome: domain.OutcomeSkipped,
				})
				continue
			}

			start := time.Now()
			if err := e.applyOne(ctx, tx, script); err != nil {
				results = append(results, domain.MigrationResult{
					Version:  script.Version.Raw,
					Name:     script.Name,
					Outcome:  domain.OutcomeFailed,
					Duration: time.Since(start),
					Error:    err.Error(),
				})
				return err
			}
			results = append(results, domain.MigrationResult{
				Version:  script.Version.Raw,
				Name:     script.Name,
				Outcome:  domain.OutcomeApplied,
				Duration: time.Since(start),
			})
		}
		return nil
	})

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		slog.ErrorContext(ctx, "migration batch rolled back",
			"operation", "apply_batch",
			"error", err,
		)
		// ロールバック済みのため、適用扱いの結果は残さず失敗分だけ報告する
		report.Results = nil
		for _, res := range results {
			if res.Outcome == domain.OutcomeFailed {
				report.Results = append(report.Results, res)
			}
		}
		return nil
	}

	report.Results = append(report.Results, results...)
	return nil
}

// isRecorded は渡されたハンドル経由で指定バージョンの記録有無を調べる。
func (e *Executor) isRecorded(tx *gorm.DB, version string) (bool, error) {
	var count int64
	if err := tx.Table(e.table).Where("version = ?", version).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyOne は1スクリプト分のステートメント実行と台帳書き込みを同一トランザクション内で行う。
func (e *Executor) applyOne(ctx context.Context, tx *gorm.DB, script *domain.MigrationScript) error {
	start := time.Now()
	if !script.Baseline {
		for _, stmt := range SplitStatements(script.UpSQL) {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("%w: %v", domain.ErrMigrationFailed, err)
			}
		}
	}

	row := &ledgerRow{
		Version:         script.Version.Raw,
		Name:            script.Name,
		Checksum:        script.Checksum,
		Success:         true,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	if err := tx.Table(e.table).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrMigrationRecordExists
		}
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return nil
}

// recordBaseline はベースラインスクリプトを実行せずに適用済みとして記録する。
func (e *Executor) recordBaseline(ctx context.Context, script *domain.MigrationScript) error {
	slog.InfoContext(ctx, "recording baseline migration",
		"operation", "apply",
		"version", script.Version.Raw,
	)
	return e.repo.Create(ctx, &domain.HistoryRecord{
		Version:  script.Version.Raw,
		Name:     script.Name,
		Checksum: script.Checksum,
		Success:  true,
	})
}

func (e *Executor) skip(ctx context.Context, report *domain.MigrationReport, script *domain.MigrationScript) {
	slog.WarnContext(ctx, "migration already recorded, skipping",
		"operation", "apply",
		"version", script.Version.Raw,
	)
	report.Results = append(report.Results, domain.MigrationResult{
		Version: script.Version.Raw,
		Name:    script.Name,
		Outcome: domain.OutcomeSkipped,
	})
}

// SplitStatements はSQL本文をクォートと行コメントを考慮してステートメント単位に分割する
// 文字列リテラル内やコメント内のセミコロンでは分割しない。
func SplitStatements(body string) []string {
	var stmts []string
	var b strings.Builder
	inSingle, inDouble, inComment := false, false, false

	runes := []rune(body)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inComment {
			b.WriteRune(c)
			if c == '\n' {
				inComment = false
			}
			continue
		}
		if inSingle {
			b.WriteRune(c)
			switch c {
			case '\\':
				if i+1 < len(runes) {
					i++
					b.WriteRune(runes[i])
				}
			case '\'':
				inSingle = false
			}
			continue
		}
		if inDouble {
			b.WriteRune(c)
			if c == '"' {
				inDouble = false
			}
			continue
		}

		switch c {
		case '-':
			if i+1 < len(runes) && runes[i+1] == '-' {
				inComment = true
			}
			b.WriteRune(c)
		case '\'':
			inSingle = true
			b.WriteRune(c)
		case '"':
			inDouble = true
			b.WriteRune(c)
		case ';':
			if stmt := strings.TrimSpace(b.String()); stmt != "" && !isCommentOnly(stmt) {
				stmts = append(stmts, stmt)
			}
			b.Reset()
		default:
			b.WriteRune(c)
		}
	}

	if stmt := strings.TrimSpace(b.String()); stmt != "" && !isCommentOnly(stmt) {
		stmts = append(stmts, stmt)
	}
	return stmts
}

// isCommentOnly は行コメントと空行だけのかたまりかどうかを判定する。
func isCommentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		return false
	}
	return true
}
