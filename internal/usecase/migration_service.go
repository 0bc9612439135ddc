// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shixiaotong123-qwe/database-update/internal/domain"
)

// MigrationRepository はマイグレーション台帳へのアクセスのインターフェース。
type MigrationRepository interface {
	EnsureTable(ctx context.Context) error
	HasTable(ctx context.Context) (bool, error)
	FindAll(ctx context.Context) ([]*domain.HistoryRecord, error)
	IsApplied(ctx context.Context, version string) (bool, error)
	Create(ctx context.Context, rec *domain.HistoryRecord) error
	DeleteByVersion(ctx context.Context, version string) error
}

// MigrationService はマイグレーション実行のビジネスロジックを提供する。
type MigrationService struct {
	source   *DirectorySource
	repo     MigrationRepository
	planner  *Planner
	executor *Executor
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(source *DirectorySource, repo MigrationRepository, executor *Executor) *MigrationService {
	return &MigrationService{
		source:   source,
		repo:     repo,
		planner:  NewPlanner(),
		executor: executor,
	}
}

// Plan は適用計画を計算して返す。データベースへの書き込みは一切行わない。
func (s *MigrationService) Plan(ctx context.Context, opts RunOptions) (*domain.MigrationPlan, error) {
	scripts, err := s.source.Load(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load migration scripts",
			"operation", "plan",
			"error", err,
		)
		return nil, err
	}

	applied, err := s.loadApplied(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := s.planner.Plan(scripts, applied, opts)
	if err != nil {
		slog.ErrorContext(ctx, "failed to compute migration plan",
			"operation", "plan",
			"error", err,
		)
		return nil, err
	}

	for _, d := range plan.Divergences {
		slog.WarnContext(ctx, "migration divergence detected",
			"operation", "plan",
			"kind", string(d.Kind),
			"version", d.Version,
			"detail", d.Detail,
		)
	}
	return plan, nil
}

// Apply は未適用マイグレーションを順に適用して実行レポートを返す。
// ソース解析や計画の失敗はデータベースに一切触れる前に中断する。
func (s *MigrationService) Apply(ctx context.Context, opts RunOptions) (*domain.MigrationReport, error) {
	plan, err := s.Plan(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := s.repo.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	report, err := s.executor.Apply(ctx, plan, opts)
	if report != nil {
		slog.InfoContext(ctx, "migration run finished",
			"operation", "apply",
			"run_id", report.RunID,
			"applied", report.AppliedCount(),
			"failed", report.FailedCount(),
			"skipped", report.SkippedCount(),
			"success", report.Success(),
		)
	}
	return report, err
}

// Status はソースと台帳を突き合わせた適用状況をバージョン昇順で返す。
func (s *MigrationService) Status(ctx context.Context) ([]*domain.Migration, error) {
	scripts, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}

	applied, err := s.loadApplied(ctx)
	if err != nil {
		return nil, err
	}

	appliedBy := make(map[string]*domain.HistoryRecord, len(applied))
	for _, rec := range applied {
		appliedBy[domain.ParseVersion(rec.Version).Key()] = rec
	}

	sourceKeys := make(map[string]struct{}, len(scripts))
	rows := make([]*domain.Migration, 0, len(scripts))
	for _, script := range scripts {
		sourceKeys[script.Version.Key()] = struct{}{}
		row := &domain.Migration{
			Version: script.Version.Raw,
			Name:    script.DisplayName(),
			Status:  domain.MigrationStatusPending,
		}
		if rec, ok := appliedBy[script.Version.Key()]; ok {
			appliedAt := rec.AppliedAt
			row.AppliedAt = &appliedAt
			row.Status = domain.MigrationStatusApplied
			if rec.Checksum != script.Checksum {
				row.Status = domain.MigrationStatusModified
			}
		}
		rows = append(rows, row)
	}

	// 台帳にだけ残っているバージョンも可視化する
	for _, rec := range applied {
		if _, ok := sourceKeys[domain.ParseVersion(rec.Version).Key()]; ok {
			continue
		}
		appliedAt := rec.AppliedAt
		rows = append(rows, &domain.Migration{
			Version:   rec.Version,
			Name:      strings.ReplaceAll(rec.Name, "_", " "),
			AppliedAt: &appliedAt,
			Status:    domain.MigrationStatusMissing,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return domain.ParseVersion(rows[i].Version).Less(domain.ParseVersion(rows[j].Version))
	})
	return rows, nil
}

// Validate はソースと台帳の整合性を検査し、検出した不整合の一覧を返す。
func (s *MigrationService) Validate(ctx context.Context) ([]domain.Divergence, error) {
	plan, err := s.Plan(ctx, RunOptions{})
	if err != nil {
		return nil, err
	}
	return plan.Divergences, nil
}

// Unrecord は指定バージョンの台帳レコードを削除する。
// スクリプトの巻き戻しは一切行わない、運用上の復旧専用の操作。
func (s *MigrationService) Unrecord(ctx context.Context, version string) error {
	applied, err := s.repo.IsApplied(ctx, version)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if !applied {
		return fmt.Errorf("%w: version %s", domain.ErrRecordNotFound, version)
	}

	if err := s.repo.DeleteByVersion(ctx, version); err != nil {
		return fmt.Errorf("failed to delete migration record: %w", err)
	}
	slog.WarnContext(ctx, "migration record removed from ledger",
		"operation", "unrecord",
		"version", version,
	)
	return nil
}

// loadApplied は台帳から適用済みレコードを読み込む。
// テーブルがまだ存在しない場合は空集合を返し、作成はしない。
func (s *MigrationService) loadApplied(ctx context.Context) ([]*domain.HistoryRecord, error) {
	exists, err := s.repo.HasTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check migrations table: %w", err)
	}
	if !exists {
		return nil, nil
	}

	applied, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch applied migrations: %w", err)
	}
	return applied, nil
}
