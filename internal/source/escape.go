package source

import "strings"

const upperhex = "0123456789ABCDEF"

// QuotePath 按 URL 路径段的保守规则转义名称：
// 只保留 A-Z a-z 0-9 和 "_.-~/"，其余字节（含 UTF-8 多字节）一律 %XX。
// 与 url.PathEscape 不同，'/' 保留为路径分隔符，而 & : + = @ $ 等会被转义。
func QuotePath(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldKeep(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func shouldKeep(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '_', '.', '-', '~', '/':
		return true
	}
	return false
}
