package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Robertt/coverfetch/internal/domain"
)

const (
	StageFetch = "fetch"
	StageSize  = "size"
	StageOK    = "ok"
)

// Attempt 记录一次 source 尝试（用于解释为何落到后面的来源）。
type Attempt struct {
	Source string // source name（小写）
	URL    string // 尝试的 URL（可能为空：例如缺少名称时根本没有发请求）
	Stage  string // StageFetch / StageSize / StageOK
	Err    error  // Stage==StageOK 时为 nil
}

// Error 是 source 阶段的可追溯错误。
type Error struct {
	Source string
	Stage  string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source=%s stage=%s: %v", e.Source, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FetchTrace 按注册顺序依次尝试各 source，返回第一个成功的结果。
//
// - 任一来源的任何错误都只代表“该来源没有”，继续下一个；不重试
// - ctx 已取消时停止尝试并返回 ctx.Err()
// - 全部失败时返回最后一个来源的 *Error，attempts 保留完整链路
func FetchTrace(ctx context.Context, reg Registry, rec domain.Record, c *http.Client) (data []byte, used string, srcURL string, attempts []Attempt, err error) {
	if reg.Len() == 0 {
		return nil, "", "", nil, errors.New("无可用 source")
	}

	attempts = make([]Attempt, 0, reg.Len())
	var lastErr error
	for _, name := range reg.Names() {
		if e := ctx.Err(); e != nil {
			return nil, "", "", attempts, e
		}
		s, _ := reg.Get(name)

		b, u, ferr := s.Fetch(ctx, rec, c)
		if ferr != nil {
			stage := StageFetch
			var se *SizeError
			if errors.As(ferr, &se) {
				stage = StageSize
			}
			lastErr = &Error{Source: name, Stage: stage, Err: ferr}
			attempts = append(attempts, Attempt{Source: name, URL: u, Stage: stage, Err: ferr})
			continue
		}

		attempts = append(attempts, Attempt{Source: name, URL: u, Stage: StageOK})
		return b, name, u, attempts, nil
	}
	return nil, "", "", attempts, lastErr
}

// AllMiss 判断是否所有失败尝试都属于“确定没有”（见 IsMiss）。
// 用于区分 not_found 与 fetch_failed。
func AllMiss(attempts []Attempt) bool {
	for _, a := range attempts {
		if a.Stage == StageOK {
			continue
		}
		if !IsMiss(a.Err) {
			return false
		}
	}
	return true
}
