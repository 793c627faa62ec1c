package source

import (
	"context"
	"io"
	"net/http"
)

// MaxBodyBytes 是单次响应体的读取上限（封面图远小于该值）。
const MaxBodyBytes int64 = 32 << 20

// Get 发起一次 GET 并读取响应体（带上限）。
// 非 2xx 返回 *HTTPStatusError；超过上限返回 *TooLargeError。
func Get(ctx context.Context, c *http.Client, u string) (body []byte, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 读掉少量 body，允许连接复用。
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, "", &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(b)) > MaxBodyBytes {
		return nil, "", &TooLargeError{URL: u, Limit: MaxBodyBytes}
	}
	return b, resp.Header.Get("Content-Type"), nil
}
