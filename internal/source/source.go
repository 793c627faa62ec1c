package source

import (
	"context"
	"net/http"

	"github.com/John-Robertt/coverfetch/internal/domain"
)

// Source 把“站点 URL 约定”限制在各自的子包内；核心流程只依赖统一接口。
//
// 约束：
// - Fetch 不做缓存、不做重试（每次尝试的超时由 http client 统一控制）
// - 返回的数据必须已经过该来源的大小校验；不合格时返回 *SizeError
// - srcURL 是最终取到数据的 URL（用于 report 追溯）
type Source interface {
	Name() string
	Fetch(ctx context.Context, rec domain.Record, c *http.Client) (data []byte, srcURL string, err error)
}
