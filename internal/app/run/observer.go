package run

import (
	"time"

	"github.com/John-Robertt/coverfetch/internal/config"
	"github.com/John-Robertt/coverfetch/internal/domain"
)

// Observer 把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）
// - 实现必须并发安全
type Observer interface {
	// OnStart 在执行开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束/就绪时调用（"catalog"、"exec"）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某条记录处理完成时调用；done 为已完成条数。
	OnItemDone(done, total int, res domain.ItemResult, dur time.Duration)
}
