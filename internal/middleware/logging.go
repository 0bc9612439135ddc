// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation string `json:"operation"`
	RunID     string `json:"run_id,omitempty"`
	Applied   int    `json:"applied"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。
func WriteAuditLog(ctx context.Context, operation string, runID string, result string, applied, failed, skipped int) {
	slog.InfoContext(ctx, "migration operation completed",
		"operation", operation,
		"run_id", runID,
		"applied", applied,
		"failed", failed,
		"skipped", skipped,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
