package domain

// Record 是目录表中的一条记录（名称/序列号/地区都视为不透明字符串）。
//
// Index 从 1 开始，保持目录表中的原始顺序（report 排序与进度输出都依赖它）。
type Record struct {
	Index  int
	Name   string
	Serial string
	Region string
}

// Cover 是某条记录成功抓取到的封面。
//
// 不变量：Path 只由 Serial 决定（见 CoverFileName），与来源无关。
type Cover struct {
	Data      []byte
	Path      string
	Source    string // 命中的 source 名称
	SourceURL string
}
