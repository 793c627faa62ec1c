package source

import (
	"errors"
	"fmt"
	"strings"
)

// HTTPStatusError 表示站点返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// SizeError 表示响应体大小不可信（空内容、错误页、占位图等）。
// 这是唯一的“内容校验”：只看字节数，不解码图片。
type SizeError struct {
	URL string
	Got int
	Min int // 要求 Got >= Min
}

func (e *SizeError) Error() string {
	if e.Got == 0 {
		return "响应为空"
	}
	return fmt.Sprintf("响应过小：%d 字节（要求 >= %d）", e.Got, e.Min)
}

// TooLargeError 表示响应体超过读取上限。
type TooLargeError struct {
	URL   string
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("响应超过上限 %d 字节", e.Limit)
}

// ErrNoName 表示记录缺少名称，基于名称拼 URL 的来源无法尝试。
var ErrNoName = errors.New("name 为空")

// ErrNoImage 表示返回的是 HTML 页面，但页面里找不到图片地址。
var ErrNoImage = errors.New("页面中没有图片地址")

// IsMiss 判断 err 是否属于“该来源确定没有”（404/410、大小不可信、无名称、页面无图）。
// 其它错误（超时、连接失败、5xx）视为网络层失败。
func IsMiss(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoName) || errors.Is(err, ErrNoImage) {
		return true
	}
	var se *SizeError
	if errors.As(err, &se) {
		return true
	}
	var hs *HTTPStatusError
	if errors.As(err, &hs) {
		return hs.StatusCode == 404 || hs.StatusCode == 410
	}
	return false
}
