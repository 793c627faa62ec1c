package domain

import (
	"errors"
	"strings"
)

// CoverExt 是封面文件的固定后缀（无论来源返回 PNG 还是 JPEG）。
const CoverExt = ".jpg"

var serialReplacer = strings.NewReplacer("/", "-", " ", "_")

// SanitizeSerial 把序列号转换为安全的文件名主体：'/' -> '-'，' ' -> '_'。
func SanitizeSerial(serial string) string {
	return serialReplacer.Replace(strings.TrimSpace(serial))
}

// CoverFileName 返回记录对应的封面文件名。
// 纯函数：相同 serial 永远得到相同文件名；serial 为空时报错（否则会得到 ".jpg"）。
func CoverFileName(serial string) (string, error) {
	s := SanitizeSerial(serial)
	if s == "" {
		return "", errors.New("serial 不能为空")
	}
	if s == "." || s == ".." {
		return "", errors.New("serial 不能是 . 或 ..")
	}
	return s + CoverExt, nil
}
