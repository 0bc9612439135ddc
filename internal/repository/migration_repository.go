// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/shixiaotong123-qwe/database-update/internal/domain"
)

// DefaultMigrationsTable は台帳テーブル名の既定値。
const DefaultMigrationsTable = "schema_migrations"

// SchemaMigrationModel は適用済みマイグレーション台帳のgorm用モデル定義。
type SchemaMigrationModel struct {
	Version         string    `gorm:"column:version;primaryKey;type:varchar(32)"`
	Name            string    `gorm:"column:name;type:varchar(255);not null"`
	AppliedAt       time.Time `gorm:"column:applied_at;not null;autoCreateTime"`
	Checksum        string    `gorm:"column:checksum;type:char(64);not null"`
	Success         bool      `gorm:"column:success;not null"`
	ExecutionTimeMs int64     `gorm:"column:execution_time_ms;not null"`
}

// TableName はテーブル名を指定。
func (SchemaMigrationModel) TableName() string {
	return DefaultMigrationsTable
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *SchemaMigrationModel) toDomain() *domain.HistoryRecord {
	return &domain.HistoryRecord{
		Version:       m.Version,
		Name:          m.Name,
		AppliedAt:     m.AppliedAt,
		Checksum:      m.Checksum,
		Success:       m.Success,
		ExecutionTime: time.Duration(m.ExecutionTimeMs) * time.Millisecond,
	}
}

// NewSchemaMigrationModel はドメインエンティティからモデルを生成する。
func NewSchemaMigrationModel(rec *domain.HistoryRecord) *SchemaMigrationModel {
	return &SchemaMigrationModel{
		Version:         rec.Version,
		Name:            rec.Name,
		Checksum:        rec.Checksum,
		Success:         rec.Success,
		ExecutionTimeMs: rec.ExecutionTime.Milliseconds(),
	}
}

// MigrationRepository はマイグレーション台帳を管理するリポジトリ。
// 台帳の書き込みはこのリポジトリだけが行う。
type MigrationRepository struct {
	db    *gorm.DB
	table string
}

// NewMigrationRepository は新しいMigrationRepositoryを生成する。
// table が空の場合は既定のテーブル名を使う。
func NewMigrationRepository(db *gorm.DB, table string) *MigrationRepository {
	if table == "" {
		table = DefaultMigrationsTable
	}
	return &MigrationRepository{db: db, table: table}
}

// Table は台帳テーブル名を返す。
func (r *MigrationRepository) Table() string {
	return r.table
}

// HasTable は台帳テーブルが存在するか確認する。読み取りのみで作成はしない。
func (r *MigrationRepository) HasTable(ctx context.Context) (bool, error) {
	return r.db.WithContext(ctx).Migrator().HasTable(r.table), nil
}

// EnsureTable は台帳テーブルが無ければ作成する。何度呼んでも安全。
func (r *MigrationRepository) EnsureTable(ctx context.Context) error {
	migrator := r.db.WithContext(ctx).Table(r.table).Migrator()
	if migrator.HasTable(r.table) {
		return nil
	}
	if err := migrator.CreateTable(&SchemaMigrationModel{}); err != nil {
		// 同時起動した別インスタンスが先に作成した場合は作成失敗を成功扱いにする
		if migrator.HasTable(r.table) {
			return nil
		}
		slog.ErrorContext(ctx, "failed to create migrations table",
			"operation", "ensure_table",
			"table", r.table,
			"error", err,
		)
		return err
	}
	return nil
}

// FindAll は適用済みレコードをバージョン昇順で全件取得する。
func (r *MigrationRepository) FindAll(ctx context.Context) ([]*domain.HistoryRecord, error) {
	var models []SchemaMigrationModel
	err := r.db.WithContext(ctx).
		Table(r.table).
		Where("success = ?", true).
		Order("version ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find applied migrations",
			"operation", "find_all",
			"table", r.table,
			"error", err,
		)
		return nil, err
	}

	records := make([]*domain.HistoryRecord, len(models))
	for i, m := range models {
		records[i] = m.toDomain()
	}
	// 桁数の異なる数値バージョンは文字列順では崩れるため数値比較で並べ直す
	sort.SliceStable(records, func(i, j int) bool {
		return domain.ParseVersion(records[i].Version).Less(domain.ParseVersion(records[j].Version))
	})
	return records, nil
}

// IsApplied は指定バージョンが台帳に記録済みか確認する。
func (r *MigrationRepository) IsApplied(ctx context.Context, version string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table(r.table).
		Where("version = ?", version).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to check if migration is applied",
			"operation", "is_applied",
			"version", version,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// Create は台帳にレコードを1件挿入する。
// 主キー重複は ErrMigrationRecordExists として返す。
func (r *MigrationRepository) Create(ctx context.Context, rec *domain.HistoryRecord) error {
	model := NewSchemaMigrationModel(rec)
	err := r.db.WithContext(ctx).Table(r.table).Create(model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			slog.WarnContext(ctx, "migration record already exists",
				"operation", "create",
				"version", rec.Version,
			)
			return domain.ErrMigrationRecordExists
		}
		slog.ErrorContext(ctx, "failed to record migration",
			"operation", "create",
			"version", rec.Version,
			"error", err,
		)
		return err
	}
	rec.AppliedAt = model.AppliedAt
	return nil
}

// DeleteByVersion は指定バージョンのレコードを削除する。
// 運用上の復旧作業のための操作で、通常の適用フローからは呼ばない。
func (r *MigrationRepository) DeleteByVersion(ctx context.Context, version string) error {
	err := r.db.WithContext(ctx).
		Table(r.table).
		Where("version = ?", version).
		Delete(&SchemaMigrationModel{}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete migration record",
			"operation", "delete_by_version",
			"version", version,
			"error", err,
		)
		return err
	}
	return nil
}
