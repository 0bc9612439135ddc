package domain

import "errors"

var (
	// ErrInvalidMigrationName はバージョン接頭辞はあるが命名規則を満たさないファイル名のエラー。
	ErrInvalidMigrationName = errors.New("invalid migration file name")

	// ErrDuplicateVersion はソース内で同一バージョンが重複している場合のエラー。
	ErrDuplicateVersion = errors.New("duplicate migration version")

	// ErrAmbiguousGrammar はひとつのディレクトリに両方の命名規則が混在している場合のエラー。
	ErrAmbiguousGrammar = errors.New("ambiguous migration naming scheme")

	// ErrMigrationRecordExists は台帳の主キー重複（同一バージョンの二重記録）のエラー。
	ErrMigrationRecordExists = errors.New("migration record already exists")

	// ErrRecordNotFound は指定バージョンのレコードが台帳に存在しない場合のエラー。
	ErrRecordNotFound = errors.New("migration record not found")

	// ErrChecksumMismatch は適用済みマイグレーションのチェックサム不一致のエラー。
	ErrChecksumMismatch = errors.New("migration checksum mismatch")

	// ErrMissingMigration は適用済みバージョンのファイルがソースに存在しない場合のエラー。
	ErrMissingMigration = errors.New("applied migration missing from source")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")
)
