package source

import (
	"fmt"
	"strings"
)

// Registry 是 source 的只读注册表。
// 注册顺序即优先级顺序；同时按 name 建索引以便按名查找。
type Registry struct {
	order  []Source
	byName map[string]Source
}

func NewRegistry(sources ...Source) (Registry, error) {
	byName := make(map[string]Source, len(sources))
	order := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s == nil {
			return Registry{}, fmt.Errorf("source 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(s.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("source.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 source：%q", name)
		}
		byName[name] = s
		order = append(order, s)
	}
	return Registry{order: order, byName: byName}, nil
}

func (r Registry) Get(name string) (Source, bool) {
	if r.byName == nil {
		return nil, false
	}
	s, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Names 按优先级顺序返回已注册的 source 名称。
func (r Registry) Names() []string {
	out := make([]string, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, strings.ToLower(strings.TrimSpace(s.Name())))
	}
	return out
}

func (r Registry) Len() int { return len(r.order) }
