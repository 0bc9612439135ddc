package usecase

import (
	"context"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shixiaotong123-qwe/database-update/internal/domain"
	"github.com/shixiaotong123-qwe/database-update/internal/repository"
)

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成する。
// 本番接続と同じくTranslateErrorを有効にして主キー重複の型付けを効かせる。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

// setupLedger は台帳リポジトリを作成してテーブルを用意する。
func setupLedger(t *testing.T, db *gorm.DB) *repository.MigrationRepository {
	t.Helper()

	repo := repository.NewMigrationRepository(db, "")
	if err := repo.EnsureTable(context.Background()); err != nil {
		t.Fatalf("failed to ensure migrations table: %v", err)
	}
	return repo
}

// tableExists はテーブルの存在有無を確認する。
func tableExists(t *testing.T, db *gorm.DB, name string) bool {
	t.Helper()

	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count).Error; err != nil {
		t.Fatalf("failed to check table %s: %v", name, err)
	}
	return count == 1
}

func TestExecutor_Apply(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := setupLedger(t, db)
	executor := NewExecutor(db, repo, "")

	s1 := newTestScript("001", "init", "CREATE TABLE t (id INTEGER PRIMARY KEY);")
	s2 := newTestScript("002", "add_col", "ALTER TABLE t ADD COLUMN name TEXT;")
	plan := &domain.MigrationPlan{Pending: []*domain.MigrationScript{s1, s2}}

	report, err := executor.Apply(ctx, plan, RunOptions{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if !report.Success() {
		t.Error("expected report success")
	}
	if report.AppliedCount() != 2 {
		t.Errorf("expected 2 applied, got %d", report.AppliedCount())
	}
	if report.RunID == "" {
		t.Error("expected run ID to be set")
	}
	if !tableExists(t, db, "t") {
		t.Error("expected table t to be created")
	}

	// 台帳にはスクリプトごとに1行、バージョン昇順、チェックサム一致で残る
	records, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 ledger records, got %d", len(records))
	}
	for i, script := range []*domain.MigrationScript{s1, s2} {
		if records[i].Version != script.Version.Raw {
			t.Errorf("records[%d]: expected version=%s, got %s", i, script.Version.Raw, records[i].Version)
		}
		if records[i].Checksum != script.Checksum {
			t.Errorf("records[%d]: checksum mismatch", i)
		}
		if records[i].AppliedAt.IsZero() {
			t.Errorf("records[%d]: expected AppliedAt to be set", i)
		}
	}
}

func TestExecutor_Apply_EmptyPlan(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := setupLedger(t, db)
	executor := NewExecutor(db, repo, "")

	report, err := executor.Apply(ctx, &domain.MigrationPlan{}, RunOptions{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !report.Success() {
		t.Error("expected empty run to be successful")
	}
	if len(report.Results) != 0 {
		t.Errorf("expected no results, got %d", len(report.Results))
	}
}

func TestExecutor_Apply_FailureHalts(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := setupLedger(t, db)
	executor := NewExecutor(db, repo, "")

	s1 := newTestScript("001", "init", "CREATE TABLE t (id INTEGER);")
	s2 := newTestScript("002", "broken", "THIS IS NOT SQL;")
	s3 := newTestScript("003", "after", "CREATE TABLE u (id INTEGER);")
	plan := &domain.MigrationPlan{Pending: []*domain.MigrationScript{s1, s2, s3}}

	report, err := executor.Apply(ctx, plan, RunOptions{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if report.Success() {
		t.Error("expected report failure")
	}
	// 003は試行すらされない
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}
	if report.Results[0].Outcome != domain.OutcomeApplied {
		t.Errorf("expected first outcome applied, got %s", report.Results[0].Outcome)
	}
	if report.Results[1].Outcome != domain.OutcomeFailed {
		t.Errorf("expected second outcome failed, got %s", report.Results[1].Outcome)
	}
	if report.Results[1].Error == "" {
		t.Error("expected failure detail on the failed result")
	}

	// 失敗したバージョンの記録は残らない
	applied, err := repo.IsApplied(ctx, "002")
	if err != nil {
		t.Fatalf("IsApplied failed: %v", err)
	}
	if applied {
		t.Error("failed migration must not be recorded")
	}
	if tableExists(t, db, "u") {
		t.Error("migrations after the failure must not run")
	}
}

func TestExecutor_Apply_ResumeAfterFailure(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := setupLedger(t, db)
	executor := NewExecutor(db, repo, "")
	planner := NewPlanner()

	s1 := newTestScript("001", "init", "CREATE TABLE t (id INTEGER);")
	broken := newTestScript("002", "add_col", "THIS IS NOT SQL;")

	report, err := executor.Apply(ctx, &domain.MigrationPlan{Pending: []*domain.MigrationScript{s1, broken}}, RunOptions{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if report.AppliedCount() != 1 {
		t.Fatalf("expected 1 applied before the failure, got %d", report.AppliedCount())
	}

	// スクリプトを修正して再実行すると、最初の未適用バージョンから再開する
	fixed := newTestScript("002", "add_col", "ALTER TABLE t ADD COLUMN name TEXT;")
	s3 := newTestScript("003", "add_more", "ALTER TABLE t ADD COLUMN age INTEGER;")

	applied, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	plan, err := planner.Plan([]*domain.MigrationScript{s1, fixed, s3}, applied, RunOptions{})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plan.Pending) != 2 || plan.Pending[0].Version.Raw != "002" {
		t.Fatalf("expected plan to resume at 002, got %d pending", len(plan.Pending))
	}

	report, err = executor.Apply(ctx, plan, RunOptions{})
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if !report.Success() {
		t.Error("expected successful rerun")
	}

	records, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 ledger records, got %d", len(records))
	}
}

func TestExecutor_Apply_ContinueOnFailure(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := setupLedger(t, db)
	executor := NewExecutor(db, repo, "")

	s1 := newTestScript("001", "init", "CREATE TABLE t (id INTEGER);")
	s2 := newTestScript("002", "broken", "THIS IS NOT SQL;")
	s3 := newTestScript("003", "after", "CREATE TABLE u (id INTEGER);")
	plan := &domain.MigrationPlan{Pending: []*domain.MigrationScript{s1, s2, s3}}

	report, err := executor.Apply(ctx, plan, RunOptions{ContinueOnFailure: true})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if report.Success() {
		t.Error("expected report failure")
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}
	if report.AppliedCount() != 2 {
		t.Errorf("expected 2 applied, got %d", report.AppliedCount())
	}
	if report.FailedCount() != 1 {
		t.Errorf("expected 1 failed, got %d", report.FailedCount())
	}
	if !tableExists(t, db, "u") {
		t.Error("expected migration after the failure to run")
	}
}

func TestExecutor_Apply_SkipsAlreadyApplied(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := setupLedger(t, db)
	executor := NewExecutor(db, repo, "")

	s1 := newTestScript("001", "init", "CREATE TABLE t (id INTEGER);")
	// 競合する別インスタンスが先に適用した状態を再現する
	if err := repo.Create(ctx, newTestRecord(s1)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	report, err := executor.Apply(ctx, &domain.MigrationPlan{Pending: []*domain.MigrationScript{s1}}, RunOptions{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if !report.Success() {
		t.Error("expected report success")
	}
	if report.SkippedCount() != 1 {
		t.Errorf("expected 1 skipped, got %d", report.SkippedCount())
	}
	// 再実行されていないこと
	if tableExists(t, db, "t") {
		t.Error("skipped migration must not be executed")
	}
}

func TestExecutor_Apply_Baseline(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := setupLedger(t, db)
	executor := NewExecutor(db, repo, "")

	baseline := newTestScript("000", "baseline", "")
	report, err := executor.Apply(ctx, &domain.MigrationPlan{Pending: []*domain.MigrationScript{baseline}}, RunOptions{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// ベースラインは何も実行せず適用済みとして記録される
	if report.AppliedCount() != 1 {
		t.Errorf("expected 1 applied, got %d", report.AppliedCount())
	}
	applied, err := repo.IsApplied(ctx, "000")
	if err != nil {
		t.Fatalf("IsApplied failed: %v", err)
	}
	if !applied {
		t.Error("expected baseline to be recorded")
	}
}

func TestExecutor_Apply_AtomicBatch(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := setupLedger(t, db)
	executor := NewExecutor(db, repo, "")

	s1 := newTestScript("001", "init", "CREATE TABLE t (id INTEGER);")
	s2 := newTestScript("002", "add_col", "ALTER TABLE t ADD COLUMN name TEXT;")
	plan := &domain.MigrationPlan{Pending: []*domain.MigrationScript{s1, s2}}

	report, err := executor.Apply(ctx, plan, RunOptions{AtomicBatch: true})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if !report.Success() {
		t.Error("expected report success")
	}
	if report.AppliedCount() != 2 {
		t.Errorf("expected 2 applied, got %d", report.AppliedCount())
	}
	records, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 ledger records, got %d", len(records))
	}
}

func TestExecutor_Apply_AtomicBatchRollback(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := setupLedger(t, db)
	executor := NewExecutor(db, repo, "")

	s1 := newTestScript("001", "init", "CREATE TABLE t (id INTEGER);")
	s2 := newTestScript("002", "broken", "THIS IS NOT SQL;")
	plan := &domain.MigrationPlan{Pending: []*domain.MigrationScript{s1, s2}}

	report, err := executor.Apply(ctx, plan, RunOptions{AtomicBatch: true})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if report.Success() {
		t.Error("expected report failure")
	}
	// 一括モードでは全体が巻き戻り、先行分の適用も記録も残らない
	records, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty ledger after rollback, got %d records", len(records))
	}
	if tableExists(t, db, "t") {
		t.Error("expected DDL of the batch to be rolled back")
	}
	if report.FailedCount() != 1 {
		t.Errorf("expected 1 failed result, got %d", report.FailedCount())
	}
}

func TestExecutor_Apply_Cancelled(t *testing.T) {
	db := setupTestDB(t)
	repo := setupLedger(t, db)
	executor := NewExecutor(db, repo, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s1 := newTestScript("001", "init", "CREATE TABLE t (id INTEGER);")
	_, err := executor.Apply(ctx, &domain.MigrationPlan{Pending: []*domain.MigrationScript{s1}}, RunOptions{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}

	// 中断時は部分的な記録を残さない
	applied, checkErr := repo.IsApplied(context.Background(), "001")
	if checkErr != nil {
		t.Fatalf("IsApplied failed: %v", checkErr)
	}
	if applied {
		t.Error("cancelled migration must not be recorded")
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "multiple statements",
			body: "CREATE TABLE a (id INTEGER);\nCREATE TABLE b (id INTEGER);",
			want: []string{"CREATE TABLE a (id INTEGER)", "CREATE TABLE b (id INTEGER)"},
		},
		{
			name: "semicolon inside string literal",
			body: "INSERT INTO t (v) VALUES ('a;b');",
			want: []string{"INSERT INTO t (v) VALUES ('a;b')"},
		},
		{
			name: "semicolon inside quoted identifier",
			body: `CREATE TABLE "weird;name" (id INTEGER);`,
			want: []string{`CREATE TABLE "weird;name" (id INTEGER)`},
		},
		{
			name: "semicolon inside line comment",
			body: "-- not a split; really\nSELECT 1;",
			want: []string{"-- not a split; really\nSELECT 1"},
		},
		{
			name: "trailing statement without semicolon",
			body: "SELECT 1; SELECT 2",
			want: []string{"SELECT 1", "SELECT 2"},
		},
		{
			name: "comment only",
			body: "-- nothing here\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitStatements(tt.body)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d statements, got %d: %v", len(tt.want), len(got), got)
			}
			for i := range got {
				if strings.TrimSpace(got[i]) != strings.TrimSpace(tt.want[i]) {
					t.Errorf("statements[%d]: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}
