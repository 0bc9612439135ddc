package domain

import (
	"strconv"
	"strings"
	"time"
)

// MigrationStatus はマイグレーションの適用状態を表す
type MigrationStatus string

const (
	MigrationStatusPending  MigrationStatus = "pending"
	MigrationStatusApplied  MigrationStatus = "applied"
	MigrationStatusModified MigrationStatus = "modified"
	MigrationStatusMissing  MigrationStatus = "missing"
)

// Version はマイグレーションのバージョン識別子を表す
// 両側が数値として解釈できる場合は数値で、そうでなければ原文の辞書順で比較する。
type Version struct {
	Raw     string // ファイル名から抽出した原文（例: "001", "20240101120000"）
	Number  uint64 // 数値表現（Numeric が true の場合のみ有効）
	Numeric bool
}

// ParseVersion はバージョン文字列を解析して Version を生成する
func ParseVersion(raw string) Version {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return Version{Raw: raw}
	}
	return Version{Raw: raw, Number: n, Numeric: true}
}

// Compare は v と o の順序を比較し、-1 / 0 / +1 を返す
func (v Version) Compare(o Version) int {
	if v.Numeric && o.Numeric {
		switch {
		case v.Number < o.Number:
			return -1
		case v.Number > o.Number:
			return 1
		}
		return 0
	}
	return strings.Compare(v.Raw, o.Raw)
}

// Less は v が o より前に適用されるべき場合に true を返す
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// IsZero はベースライン指定とみなすバージョンゼロかどうかを返す
func (v Version) IsZero() bool {
	return v.Numeric && v.Number == 0
}

// Key は同値判定用の正規化キーを返す。"009" と "9" は同じキーになる。
func (v Version) Key() string {
	if v.Numeric {
		return strconv.FormatUint(v.Number, 10)
	}
	return v.Raw
}

func (v Version) String() string {
	return v.Raw
}

// MigrationScript は解析済みのマイグレーション1単位を表す不変値
type MigrationScript struct {
	Version  Version
	Name     string // ファイル名のバージョン区切り以降の説明部分
	UpSQL    string // 適用SQL（正規化済み）
	DownSQL  string // ロールバックSQL（記録のみ、実行はしない）
	Checksum string // 正規化済みUpSQLのSHA-256（16進）
	Baseline bool   // バージョンゼロまたは空ボディのベースライン
	FilePath string
}

// DisplayName はステータス表示用にアンダースコアを空白へ置換した名前を返す
func (s *MigrationScript) DisplayName() string {
	return strings.ReplaceAll(s.Name, "_", " ")
}

// Migration はソースと台帳を突き合わせたステータスビューの1行を表す
type Migration struct {
	Version   string
	Name      string
	AppliedAt *time.Time // 未適用の場合はnil
	Status    MigrationStatus
}
