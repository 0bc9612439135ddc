package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/shixiaotong123-qwe/database-update/internal/domain"
)

// NamingScheme はマイグレーションファイルの命名規則を表す
// ひとつの設定で有効になる規則は必ずひとつだけ。
type NamingScheme string

const (
	// NamingVPrefixed は V{version}__{description}.sql 形式（Vは省略可、区切りは二重アンダースコア）。
	NamingVPrefixed NamingScheme = "v-prefixed"

	// NamingPlain は {version}_{description}.sql 形式（区切りは単一アンダースコア）。
	NamingPlain NamingScheme = "plain"
)

var (
	vPrefixedPattern = regexp.MustCompile(`^[Vv]?(?P<version>[0-9]+)__(?P<description>[A-Za-z0-9_\p{Han}]+)\.(sql)$`)
	plainPattern     = regexp.MustCompile(`^(?P<version>[0-9]+)_(?P<description>.+)\.(sql)$`)

	// バージョン接頭辞だけは持つが規則全体を満たさないファイルの検出用
	vPrefixedLoosePattern = regexp.MustCompile(`^[Vv]?[0-9]+`)
	plainLoosePattern     = regexp.MustCompile(`^[0-9]+`)
)

// アップ/ダウンのセクション区切りマーカー。マーカーが無いファイルは全体をアップ扱いにする。
const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// DirectorySource はディレクトリからマイグレーションスクリプトを列挙・解析する
type DirectorySource struct {
	dir          string
	scheme       NamingScheme
	normalizeEOL bool
}

// NewDirectorySource は新しいDirectorySourceを生成する。
func NewDirectorySource(dir string, scheme NamingScheme, normalizeEOL bool) *DirectorySource {
	if scheme == "" {
		scheme = NamingVPrefixed
	}
	return &DirectorySource{
		dir:          dir,
		scheme:       scheme,
		normalizeEOL: normalizeEOL,
	}
}

// patterns は有効な規則・無効な側の規則・接頭辞検出用の正規表現を返す
func (s *DirectorySource) patterns() (active, inactive, loose *regexp.Regexp) {
	if s.scheme == NamingPlain {
		return plainPattern, vPrefixedPattern, plainLoosePattern
	}
	return vPrefixedPattern, plainPattern, vPrefixedLoosePattern
}

// Load はディレクトリを走査してスクリプトをバージョン昇順で返す。
// 命名規則に合わないファイルは無視するが、もう一方の規則に完全一致する
// ファイルの混在と、バージョン接頭辞だけを持つ不正な名前はエラーにする。
func (s *DirectorySource) Load(ctx context.Context) ([]*domain.MigrationScript, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	active, inactive, loose := s.patterns()

	var scripts []*domain.MigrationScript
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		m := active.FindStringSubmatch(entry.Name())
		if m == nil {
			if inactive.MatchString(entry.Name()) {
				return nil, fmt.Errorf("%w: %s", domain.ErrAmbiguousGrammar, entry.Name())
			}
			if loose.MatchString(entry.Name()) {
				return nil, fmt.Errorf("%w: %s", domain.ErrInvalidMigrationName, entry.Name())
			}
			continue
		}

		script, err := s.parseScript(filepath.Join(s.dir, entry.Name()), m[1], m[2])
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}

	// ファイルシステムの列挙順に依存しないようバージョン順に整列
	sort.SliceStable(scripts, func(i, j int) bool {
		return scripts[i].Version.Less(scripts[j].Version)
	})

	for i := 1; i < len(scripts); i++ {
		if scripts[i].Version.Compare(scripts[i-1].Version) == 0 {
			return nil, fmt.Errorf("%w: %s and %s",
				domain.ErrDuplicateVersion,
				filepath.Base(scripts[i-1].FilePath),
				filepath.Base(scripts[i].FilePath),
			)
		}
	}

	return scripts, nil
}

// parseScript はファイルを読み込んでスクリプトを組み立てる。
func (s *DirectorySource) parseScript(path, version, description string) (*domain.MigrationScript, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file %s: %w", filepath.Base(path), err)
	}

	body := string(raw)
	if s.normalizeEOL {
		body = strings.ReplaceAll(body, "\r\n", "\n")
	}

	up, down := splitSections(body)
	// 末尾の空白や改行の差だけで変更扱いにならないよう正規化してから要約する
	up = strings.TrimRight(up, " \t\r\n")
	down = strings.TrimRight(down, " \t\r\n")

	ver := domain.ParseVersion(version)
	return &domain.MigrationScript{
		Version:  ver,
		Name:     description,
		UpSQL:    up,
		DownSQL:  down,
		Checksum: Checksum(up),
		Baseline: ver.IsZero() || up == "",
		FilePath: path,
	}, nil
}

// splitSections はセクションマーカーでボディをアップ/ダウンに分割する。
func splitSections(body string) (up, down string) {
	if !strings.Contains(body, upMarker) && !strings.Contains(body, downMarker) {
		return body, ""
	}

	var upLines, downLines []string
	current := &upLines
	for _, line := range strings.Split(body, "\n") {
		switch strings.TrimSpace(line) {
		case upMarker:
			current = &upLines
			continue
		case downMarker:
			current = &downLines
			continue
		}
		*current = append(*current, line)
	}
	return strings.Join(upLines, "\n"), strings.Join(downLines, "\n")
}

// Checksum は正規化済みボディのSHA-256ダイジェストを16進文字列で返す
func Checksum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
