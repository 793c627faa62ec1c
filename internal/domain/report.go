package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusDownloaded  = "downloaded"
	StatusExists      = "exists"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

const (
	ErrCodeNotFound        = "not_found"
	ErrCodeFetchFailed     = "fetch_failed"
	ErrCodeInvalidRecord   = "invalid_record"
	ErrCodeTargetConflict  = "target_conflict"
	ErrCodeIOFailed        = "io_failed"
	ErrCodeInterrupted     = "interrupted"
	ErrCodeCatalogInvalid  = "catalog_invalid"
	ErrCodeConfigNotFound  = "config_not_found"
	ErrCodeConfigInvalid   = "config_invalid"
	ErrCodeConfigNoCatalog = "config_missing_catalog"
	ErrCodeLocked          = "locked"
)

// RunReport 是对外稳定输出（--report 文件 / stdout JSON）的结构。
type RunReport struct {
	RunID   string `json:"run_id"`
	Catalog string `json:"catalog"`
	OutDir  string `json:"out_dir"`
	DryRun  bool   `json:"dry_run"`
	Aborted string `json:"aborted,omitempty"` // 非空表示 run 提前停止派发（中断或致命写入错误）

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Total       int `json:"total"`
	Downloaded  int `json:"downloaded"`
	Exists      int `json:"exists"`
	Failed      int `json:"failed"`
	Interrupted int `json:"interrupted"`
}

type ItemResult struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Serial string `json:"serial"`
	Region string `json:"region"`
	File   string `json:"file"`

	Status    string `json:"status"`
	Source    string `json:"source"`
	SourceURL string `json:"source_url"`
	Bytes     int    `json:"bytes"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Attempts []SourceAttempt `json:"attempts"`
}

// SourceAttempt 是 item 内一次 source 尝试的可序列化轨迹（report 用）。
type SourceAttempt struct {
	Source string `json:"source"`
	URL    string `json:"url"`
	Stage  string `json:"stage"` // "fetch" / "size" / "ok"
	Error  string `json:"error"`
}

// Finalize 统一时间为 UTC，按目录表顺序稳定排序（Index==0 的合成条目排在最后），
// 并由 items 重新计算 summary。
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].Index
		b := r.Items[j].Index
		if a == 0 || b == 0 {
			return a != 0 && b == 0
		}
		return a < b
	})

	var s ReportSummary
	for _, it := range r.Items {
		if it.Index != 0 {
			s.Total++
		}
		switch it.Status {
		case StatusDownloaded:
			s.Downloaded++
		case StatusExists:
			s.Exists++
		case StatusFailed:
			s.Failed++
		case StatusInterrupted:
			s.Interrupted++
		}
	}
	r.Summary = s
}

// FailedNames 返回失败条目的名称（目录表顺序），用于终端摘要。
func (r RunReport) FailedNames() []string {
	out := make([]string, 0, r.Summary.Failed)
	for _, it := range r.Items {
		if it.Status != StatusFailed {
			continue
		}
		name := it.Name
		if name == "" {
			name = it.Serial
		}
		if name == "" {
			name = it.ErrorMsg
		}
		out = append(out, name)
	}
	return out
}

// MarshalJSON 集中约束输出稳定性：nil 切片统一输出为 []。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	a.Items = make([]ItemResult, len(r.Items))
	copy(a.Items, r.Items)
	for i := range a.Items {
		if a.Items[i].Attempts == nil {
			a.Items[i].Attempts = []SourceAttempt{}
		}
	}
	return json.Marshal(a)
}
