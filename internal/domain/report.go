package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusStaged  = "staged"
	StatusPlanned = "planned"
	StatusFailed  = "failed"
)

const (
	FileStatusPlanned = "planned"
	FileStatusCopied  = "copied"
	FileStatusFailed  = "failed"
)

const (
	ErrCodeTargetConflict    = "target_conflict"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeFetchFailed       = "fetch_failed"
	ErrCodeParseFailed       = "parse_failed"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
	ErrCodeCanceled          = "canceled"
)

// RunReport 是 select 命令对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID  string `json:"run_id"`
	Path   string `json:"path"`
	OutDir string `json:"out_dir"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary    ReportSummary     `json:"summary"`
	Subfolders []SubfolderResult `json:"subfolders"`
}

type ReportSummary struct {
	Subfolders        int `json:"subfolders"`
	Failed            int `json:"failed"`
	Scanned           int `json:"scanned"`
	Groups            int `json:"groups"`
	Staged            int `json:"staged"`
	Unmatched         int `json:"unmatched"`
	MissingCompanions int `json:"missing_companions"`
	Removed           int `json:"removed"`
}

// SubfolderResult 是单个子目录的处理结果；Scanned 与 Groups 的对照就是该子目录的摘要。
type SubfolderResult struct {
	Subfolder string `json:"subfolder"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Scanned           int `json:"scanned"`
	Groups            int `json:"groups"`
	Staged            int `json:"staged"`
	MissingCompanions int `json:"missing_companions"`
	// Removed 是 apply 时删除的被取代文件数（目标目录里同一 identity 的旧主文件与伴随文件）。
	Removed int `json:"removed"`

	Items []ItemResult `json:"items"`
}

type ItemResult struct {
	Identity string `json:"identity"`
	Matched  bool   `json:"matched"`
	// Level 在未匹配时为 null（不把 -1 写进对外契约）。
	Level *int `json:"level"`

	Selected   string      `json:"selected"`
	Candidates []Candidate `json:"candidates"`

	Companion CompanionStatus `json:"companion"`
	Files     []FileResult    `json:"files"`

	// Superseded 是目标目录里被本次选择取代的文件（dry-run 为将要删除，apply 为已删除）。
	Superseded []string `json:"superseded,omitempty"`
}

type Candidate struct {
	Name  string `json:"name"`
	Level *int   `json:"level"`
}

type FileResult struct {
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Status string `json:"status"`
}

// LevelPtr 把 Entry 的等级转换成 report 字段（未匹配 => nil）。
func LevelPtr(e Entry) *int {
	if !e.Matched {
		return nil
	}
	v := e.Level
	return &v
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) subfolders 按名称排序，各自的 items 按 identity 排序（均为稳定排序）
// 3) summary 由 subfolders 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Subfolders, func(i, j int) bool {
		return r.Subfolders[i].Subfolder < r.Subfolders[j].Subfolder
	})

	var s ReportSummary
	for i := range r.Subfolders {
		sr := &r.Subfolders[i]
		sort.SliceStable(sr.Items, func(a, b int) bool { return sr.Items[a].Identity < sr.Items[b].Identity })

		s.Subfolders++
		if sr.Status == StatusFailed {
			s.Failed++
		}
		s.Scanned += sr.Scanned
		s.Groups += sr.Groups
		s.Staged += sr.Staged
		s.MissingCompanions += sr.MissingCompanions
		s.Removed += sr.Removed
		for _, it := range sr.Items {
			if !it.Matched {
				s.Unmatched++
			}
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
