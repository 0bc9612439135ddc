package domain

import "time"

// HistoryRecord は適用済みマイグレーション台帳の1行を表す
// version が主キーであり、適用成功1回につき1行だけ書き込まれ、以後変更されない。
type HistoryRecord struct {
	Version       string
	Name          string
	AppliedAt     time.Time
	Checksum      string
	Success       bool
	ExecutionTime time.Duration
}
