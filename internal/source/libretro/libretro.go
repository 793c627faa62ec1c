package libretro

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/John-Robertt/coverfetch/internal/domain"
	"github.com/John-Robertt/coverfetch/internal/source"
)

const (
	DefaultBaseURL = "https://raw.githubusercontent.com/libretro-thumbnails"
	DefaultSystem  = "Sega_-_Dreamcast"
)

// Kind 是缩略图仓库中的目录约定。
type Kind string

const (
	Boxarts Kind = "Named_Boxarts"
	Titles  Kind = "Named_Titles"
)

// Source 从 libretro-thumbnails 仓库按“游戏名.png”取图。
//
// URL 形如 <BaseURL>/<System>/master/<Kind>/<name>.png。
// 仓库里的图通常是 PNG；只要求非空，不做更多校验。
type Source struct {
	Kind    Kind
	BaseURL string
	System  string
}

func (s Source) Name() string {
	switch s.Kind {
	case Titles:
		return "libretro-title"
	default:
		return "libretro-boxart"
	}
}

func (s Source) Fetch(ctx context.Context, rec domain.Record, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	u, err := s.URL(rec.Name)
	if err != nil {
		return nil, "", err
	}

	b, _, err := source.Get(ctx, c, u)
	if err != nil {
		return nil, u, err
	}
	if len(b) == 0 {
		return nil, u, &source.SizeError{URL: u, Got: 0, Min: 1}
	}
	return b, u, nil
}

// URL 返回某个游戏名在该目录约定下的图片地址。
func (s Source) URL(name string) (string, error) {
	clean := CleanName(name)
	if clean == "" {
		return "", source.ErrNoName
	}
	kind := s.Kind
	if kind == "" {
		kind = Boxarts
	}
	return s.baseURL() + "/" + s.system() + "/master/" + string(kind) + "/" + source.QuotePath(clean) + ".png", nil
}

// CleanName 把游戏名转换为仓库文件名：去掉 ':'，'/' 替换为 '-'。
func CleanName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, ":", "")
	return strings.ReplaceAll(name, "/", "-")
}

func (s Source) baseURL() string {
	u := strings.TrimSpace(s.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

func (s Source) system() string {
	sys := strings.Trim(strings.TrimSpace(s.System), "/")
	if sys == "" {
		return DefaultSystem
	}
	return sys
}
