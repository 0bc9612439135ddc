package domain

import "time"

// DivergenceKind はソースと台帳の間で検出した不整合の種別を表す
type DivergenceKind string

const (
	// DivergenceModified は適用済みバージョンのチェックサムがソースと一致しない状態。
	DivergenceModified DivergenceKind = "modified"

	// DivergenceMissing は適用済みバージョンのファイルがソースから消えている状態。
	DivergenceMissing DivergenceKind = "missing"
)

// Divergence は検出した不整合1件を表す
// 致命扱いにするかどうかは呼び出し側のモード設定が決める。
type Divergence struct {
	Kind    DivergenceKind
	Version string
	Name    string
	Detail  string
}

// MigrationPlan は1回の実行で適用すべきスクリプトの順序付き集合を表す
// 永続化せず、実行のたびに再計算する。
type MigrationPlan struct {
	Pending     []*MigrationScript
	Divergences []Divergence
}

// Outcome はスクリプト1件の実行結果を表す
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// MigrationResult はスクリプト1件分の実行結果を表す
type MigrationResult struct {
	Version  string
	Name     string
	Outcome  Outcome
	Duration time.Duration
	Error    string // Outcome が failed の場合のみ設定
}

// MigrationReport は1回の実行結果の不変サマリを表す
type MigrationReport struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Results     []MigrationResult
	Divergences []Divergence
}

// Success は failed の結果がひとつもない場合に true を返す
// 呼び出し側はエラーの有無ではなくこの値で成否を判定する。
func (r *MigrationReport) Success() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			return false
		}
	}
	return true
}

// AppliedCount は適用に成功したスクリプト数を返す
func (r *MigrationReport) AppliedCount() int {
	return r.countBy(OutcomeApplied)
}

// FailedCount は失敗したスクリプト数を返す
func (r *MigrationReport) FailedCount() int {
	return r.countBy(OutcomeFailed)
}

// SkippedCount はスキップしたスクリプト数を返す
func (r *MigrationReport) SkippedCount() int {
	return r.countBy(OutcomeSkipped)
}

func (r *MigrationReport) countBy(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}
