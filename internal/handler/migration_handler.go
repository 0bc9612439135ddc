// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shixiaotong123-qwe/database-update/internal/domain"
	"github.com/shixiaotong123-qwe/database-update/internal/middleware"
	"github.com/shixiaotong123-qwe/database-update/internal/usecase"
	"github.com/shixiaotong123-qwe/database-update/pkg/httputil"
)

// MigrationHandler はHTTPハンドラを提供する。
type MigrationHandler struct {
	service  *usecase.MigrationService
	defaults usecase.RunOptions
}

// NewMigrationHandler は新しいMigrationHandlerを生成する。
// defaults には設定由来の実行モード既定値を渡す。
func NewMigrationHandler(service *usecase.MigrationService, defaults usecase.RunOptions) *MigrationHandler {
	return &MigrationHandler{
		service:  service,
		defaults: defaults,
	}
}

// MigrationStatusResponse はステータス1行のレスポンス形式。
type MigrationStatusResponse struct {
	Version   string `json:"version"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	AppliedAt string `json:"applied_at,omitempty"`
}

// MigrationListResponse はステータス一覧のレスポンス形式。
type MigrationListResponse struct {
	Migrations []MigrationStatusResponse `json:"migrations"`
}

// DivergenceResponse は検出した不整合のレスポンス形式。
type DivergenceResponse struct {
	Kind    string `json:"kind"`
	Version string `json:"version"`
	Name    string `json:"name"`
	Detail  string `json:"detail"`
}

// PlanEntryResponse は適用予定スクリプト1件のレスポンス形式。
type PlanEntryResponse struct {
	Version  string `json:"version"`
	Name     string `json:"name"`
	Baseline bool   `json:"baseline,omitempty"`
}

// PlanResponse は適用計画のレスポンス形式。
type PlanResponse struct {
	Pending     []PlanEntryResponse  `json:"pending"`
	Divergences []DivergenceResponse `json:"divergences"`
}

// ApplyRequest は適用リクエストの形式。未指定の項目は設定由来の既定値を使う。
type ApplyRequest struct {
	TargetVersion     string `json:"target_version"`
	AtomicBatch       *bool  `json:"atomic_batch"`
	ContinueOnFailure *bool  `json:"continue_on_failure"`
}

// ResultResponse はスクリプト1件分の実行結果のレスポンス形式。
type ResultResponse struct {
	Version    string `json:"version"`
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ReportResponse は実行レポートのレスポンス形式。
type ReportResponse struct {
	RunID       string               `json:"run_id"`
	Success     bool                 `json:"success"`
	StartedAt   string               `json:"started_at"`
	FinishedAt  string               `json:"finished_at"`
	Applied     int                  `json:"applied"`
	Failed      int                  `json:"failed"`
	Skipped     int                  `json:"skipped"`
	Results     []ResultResponse     `json:"results"`
	Divergences []DivergenceResponse `json:"divergences"`
}

// Health はヘルスチェックに応答する。
func (h *MigrationHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status はソースと台帳を突き合わせた適用状況を返す。
func (h *MigrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	response := MigrationListResponse{
		Migrations: make([]MigrationStatusResponse, len(rows)),
	}
	for i, row := range rows {
		item := MigrationStatusResponse{
			Version: row.Version,
			Name:    row.Name,
			Status:  string(row.Status),
		}
		if row.AppliedAt != nil {
			item.AppliedAt = row.AppliedAt.Format(time.RFC3339)
		}
		response.Migrations[i] = item
	}
	httputil.JSON(w, http.StatusOK, response)
}

// Plan は適用計画のプレビューを返す。データベースへの書き込みは行わない。
func (h *MigrationHandler) Plan(w http.ResponseWriter, r *http.Request) {
	opts := h.defaults
	if target := r.URL.Query().Get("target"); target != "" {
		opts.TargetVersion = target
	}

	plan, err := h.service.Plan(r.Context(), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response := PlanResponse{
		Pending:     make([]PlanEntryResponse, len(plan.Pending)),
		Divergences: toDivergenceResponses(plan.Divergences),
	}
	for i, script := range plan.Pending {
		response.Pending[i] = PlanEntryResponse{
			Version:  script.Version.Raw,
			Name:     script.Name,
			Baseline: script.Baseline,
		}
	}
	httputil.JSON(w, http.StatusOK, response)
}

// Apply は未適用マイグレーションを適用して実行レポートを返す。
// 部分失敗はHTTPエラーではなくレポートのsuccessで表現する。
func (h *MigrationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	opts := h.defaults
	if req.TargetVersion != "" {
		opts.TargetVersion = req.TargetVersion
	}
	if req.AtomicBatch != nil {
		opts.AtomicBatch = *req.AtomicBatch
	}
	if req.ContinueOnFailure != nil {
		opts.ContinueOnFailure = *req.ContinueOnFailure
	}

	report, err := h.service.Apply(r.Context(), opts)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "APPLY_MIGRATIONS", "", "FAILED", 0, 0, 0)
		h.writeError(w, err)
		return
	}

	result := "SUCCESS"
	if !report.Success() {
		result = "FAILED"
	}
	middleware.WriteAuditLog(r.Context(), "APPLY_MIGRATIONS", report.RunID, result,
		report.AppliedCount(), report.FailedCount(), report.SkippedCount())

	response := ReportResponse{
		RunID:       report.RunID,
		Success:     report.Success(),
		StartedAt:   report.StartedAt.Format(time.RFC3339),
		FinishedAt:  report.FinishedAt.Format(time.RFC3339),
		Applied:     report.AppliedCount(),
		Failed:      report.FailedCount(),
		Skipped:     report.SkippedCount(),
		Results:     make([]ResultResponse, len(report.Results)),
		Divergences: toDivergenceResponses(report.Divergences),
	}
	for i, res := range report.Results {
		response.Results[i] = ResultResponse{
			Version:    res.Version,
			Name:       res.Name,
			Outcome:    string(res.Outcome),
			DurationMs: res.Duration.Milliseconds(),
			Error:      res.Error,
		}
	}
	httputil.JSON(w, http.StatusOK, response)
}

// writeError はドメインエラーをHTTPレスポンスへ変換する。
func (h *MigrationHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrChecksumMismatch):
		httputil.Error(w, http.StatusConflict, "CHECKSUM_MISMATCH", err.Error())
	case errors.Is(err, domain.ErrMissingMigration):
		httputil.Error(w, http.StatusConflict, "MISSING_MIGRATION", err.Error())
	case errors.Is(err, domain.ErrDuplicateVersion):
		httputil.Error(w, http.StatusConflict, "DUPLICATE_VERSION", err.Error())
	case errors.Is(err, domain.ErrAmbiguousGrammar):
		httputil.Error(w, http.StatusConflict, "AMBIGUOUS_NAMING", err.Error())
	case errors.Is(err, domain.ErrInvalidMigrationName):
		httputil.Error(w, http.StatusConflict, "INVALID_MIGRATION_NAME", err.Error())
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func toDivergenceResponses(divergences []domain.Divergence) []DivergenceResponse {
	out := make([]DivergenceResponse, len(divergences))
	for i, d := range divergences {
		out[i] = DivergenceResponse{
			Kind:    string(d.Kind),
			Version: d.Version,
			Name:    d.Name,
			Detail:  d.Detail,
		}
	}
	return out
}
