package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shixiaotong123-qwe/database-update/internal/domain"
)

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成する。
// 主キー重複の型付けが効くよう、本番接続と同じくTranslateErrorを有効にする。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

func TestMigrationRepository_EnsureTable(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db, "")

	exists, err := repo.HasTable(ctx)
	if err != nil {
		t.Fatalf("HasTable failed: %v", err)
	}
	if exists {
		t.Error("expected table to be absent before EnsureTable")
	}

	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	exists, err = repo.HasTable(ctx)
	if err != nil {
		t.Fatalf("HasTable failed: %v", err)
	}
	if !exists {
		t.Error("expected table to exist after EnsureTable")
	}

	// 再実行しても安全であること
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("second EnsureTable failed: %v", err)
	}
}

func TestMigrationRepository_EnsureTable_CustomName(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db, "custom_ledger")

	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	if !db.Migrator().HasTable("custom_ledger") {
		t.Error("expected custom_ledger table to exist")
	}
	if db.Migrator().HasTable(DefaultMigrationsTable) {
		t.Error("default table should not be created when a custom name is set")
	}
}

func TestMigrationRepository_Create(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db, "")
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	rec := &domain.HistoryRecord{
		Version:       "001",
		Name:          "create_users",
		Checksum:      "abc123",
		Success:       true,
		ExecutionTime: 42 * time.Millisecond,
	}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// タイムスタンプ反映を確認
	if rec.AppliedAt.IsZero() {
		t.Error("expected AppliedAt to be set, got zero value")
	}

	var count int64
	if err := db.Table(DefaultMigrationsTable).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 record, got %d", count)
	}
}

func TestMigrationRepository_Create_Duplicate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db, "")
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	rec := &domain.HistoryRecord{Version: "001", Name: "create_users", Checksum: "abc", Success: true}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// 同一バージョンの二重記録は型付きエラーになる
	dup := &domain.HistoryRecord{Version: "001", Name: "create_users", Checksum: "abc", Success: true}
	err := repo.Create(ctx, dup)
	if !errors.Is(err, domain.ErrMigrationRecordExists) {
		t.Errorf("want ErrMigrationRecordExists, got %v", err)
	}
}

func TestMigrationRepository_FindAll(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db, "")
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	// 桁数の異なるバージョンを順不同で挿入
	for _, v := range []string{"10", "2", "1"} {
		if err := db.Exec("INSERT INTO schema_migrations (version, name, applied_at, checksum, success, execution_time_ms) VALUES (?, ?, ?, ?, ?, ?)",
			v, "m"+v, time.Now(), "sum"+v, true, 1).Error; err != nil {
			t.Fatalf("failed to insert test data: %v", err)
		}
	}
	// 失敗レコードは結果に含まれない
	if err := db.Exec("INSERT INTO schema_migrations (version, name, applied_at, checksum, success, execution_time_ms) VALUES (?, ?, ?, ?, ?, ?)",
		"3", "m3", time.Now(), "sum3", false, 1).Error; err != nil {
		t.Fatalf("failed to insert test data: %v", err)
	}

	records, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	// 文字列順ではなく数値順（1, 2, 10）で返ること
	expected := []string{"1", "2", "10"}
	for i, rec := range records {
		if rec.Version != expected[i] {
			t.Errorf("records[%d]: expected version=%s, got %s", i, expected[i], rec.Version)
		}
	}
}

func TestMigrationRepository_IsApplied(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db, "")
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	if err := repo.Create(ctx, &domain.HistoryRecord{Version: "001", Name: "init", Checksum: "x", Success: true}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	applied, err := repo.IsApplied(ctx, "001")
	if err != nil {
		t.Fatalf("IsApplied failed: %v", err)
	}
	if !applied {
		t.Error("expected applied=true, got false")
	}

	applied, err = repo.IsApplied(ctx, "002")
	if err != nil {
		t.Fatalf("IsApplied failed: %v", err)
	}
	if applied {
		t.Error("expected applied=false, got true")
	}
}

func TestMigrationRepository_DeleteByVersion(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db, "")
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	if err := repo.Create(ctx, &domain.HistoryRecord{Version: "001", Name: "init", Checksum: "x", Success: true}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.DeleteByVersion(ctx, "001"); err != nil {
		t.Fatalf("DeleteByVersion failed: %v", err)
	}

	applied, err := repo.IsApplied(ctx, "001")
	if err != nil {
		t.Fatalf("IsApplied failed: %v", err)
	}
	if applied {
		t.Error("expected record to be deleted")
	}
}
