package domain

import (
	"sort"
	"time"
)

const (
	FetchStatusPlanned    = "planned"
	FetchStatusDownloaded = "downloaded"
	FetchStatusExists     = "exists"
	FetchStatusFailed     = "failed"
)

// FetchReport 是 fetch 命令的对外输出（cache/fetch-report.json / stdout JSON）。
type FetchReport struct {
	RunID  string `json:"run_id"`
	Path   string `json:"path"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary FetchSummary `json:"summary"`
	Items   []FetchItem  `json:"items"`
}

type FetchSummary struct {
	Planned    int `json:"planned"`
	Downloaded int `json:"downloaded"`
	Exists     int `json:"exists"`
	Failed     int `json:"failed"`
}

// FetchItem 描述一个远端文件（或一个无法列出的 index 页：Name 为空）。
type FetchItem struct {
	Subfolder string `json:"subfolder"`
	Name      string `json:"name"`
	URL       string `json:"url"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize：UTC 时间、按 (subfolder, name) 稳定排序、重新计算 summary。
func (r *FetchReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a, b := r.Items[i], r.Items[j]
		if a.Subfolder != b.Subfolder {
			return a.Subfolder < b.Subfolder
		}
		return a.Name < b.Name
	})

	var s FetchSummary
	for _, it := range r.Items {
		switch it.Status {
		case FetchStatusPlanned:
			s.Planned++
		case FetchStatusDownloaded:
			s.Downloaded++
		case FetchStatusExists:
			s.Exists++
		case FetchStatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}
