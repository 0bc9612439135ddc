package usecase

import (
	"fmt"
	"sort"

	"github.com/shixiaotong123-qwe/database-update/internal/domain"
)

// RunOptions は1回の計画・実行に適用するモード設定を表す
type RunOptions struct {
	TargetVersion     string // 空文字列は最新まで適用
	StrictChecksum    bool   // チェックサム不一致を致命扱いにする
	StrictMissing     bool   // 適用済みファイルの消失を致命扱いにする
	AtomicBatch       bool   // 計画全体を単一トランザクションで実行する
	ContinueOnFailure bool   // 失敗後も後続スクリプトを適用する
}

// Planner はソースのスクリプトと台帳を突き合わせて適用計画を計算する
type Planner struct{}

// NewPlanner は新しいPlannerを生成する。
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan は未適用スクリプトの昇順の適用計画を返す。データベースには一切触れない。
// 適用順は常にバージョンの厳密な昇順で、列挙順には依存しない。
func (p *Planner) Plan(scripts []*domain.MigrationScript, applied []*domain.HistoryRecord, opts RunOptions) (*domain.MigrationPlan, error) {
	appliedBy := make(map[string]*domain.HistoryRecord, len(applied))
	for _, rec := range applied {
		appliedBy[domain.ParseVersion(rec.Version).Key()] = rec
	}

	sourceKeys := make(map[string]struct{}, len(scripts))
	var newest domain.Version
	hasNewest := false
	for _, script := range scripts {
		sourceKeys[script.Version.Key()] = struct{}{}
		if !hasNewest || newest.Less(script.Version) {
			newest = script.Version
			hasNewest = true
		}
	}

	var target *domain.Version
	if opts.TargetVersion != "" {
		t := domain.ParseVersion(opts.TargetVersion)
		target = &t
	}

	plan := &domain.MigrationPlan{}
	for _, script := range scripts {
		rec, ok := appliedBy[script.Version.Key()]
		if ok {
			if rec.Checksum != script.Checksum {
				if opts.StrictChecksum {
					return nil, fmt.Errorf("%w: version %s", domain.ErrChecksumMismatch, script.Version)
				}
				plan.Divergences = append(plan.Divergences, domain.Divergence{
					Kind:    domain.DivergenceModified,
					Version: script.Version.Raw,
					Name:    script.Name,
					Detail:  fmt.Sprintf("recorded checksum %s, source checksum %s", rec.Checksum, script.Checksum),
				})
			}
			continue
		}
		if target != nil && target.Less(script.Version) {
			// 指定バージョンより先のスクリプトは選択から外すだけで、巻き戻しはしない
			continue
		}
		plan.Pending = append(plan.Pending, script)
	}

	sort.SliceStable(plan.Pending, func(i, j int) bool {
		return plan.Pending[i].Version.Less(plan.Pending[j].Version)
	})

	// 適用済みなのにソースから消えたバージョンの検出。
	// 最新スクリプトより新しい適用済みバージョンは古いチェックアウトでも起こるため対象外。
	for _, rec := range applied {
		ver := domain.ParseVersion(rec.Version)
		if _, ok := sourceKeys[ver.Key()]; ok {
			continue
		}
		if !hasNewest || !ver.Less(newest) {
			continue
		}
		if opts.StrictMissing {
			return nil, fmt.Errorf("%w: version %s", domain.ErrMissingMigration, rec.Version)
		}
		plan.Divergences = append(plan.Divergences, domain.Divergence{
			Kind:    domain.DivergenceMissing,
			Version: rec.Version,
			Name:    rec.Name,
			Detail:  "recorded in history but absent from the source directory",
		})
	}

	return plan, nil
}
