package run

import (
	"time"

	"github.com/John-Robertt/wsesel/internal/config"
	"github.com/John-Robertt/wsesel/internal/domain"
)

// Observer 用于把“运行进度/阶段/分组结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：事件可能来自多个 goroutine。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束/就绪时调用（用于打印阶段统计与耗时）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某个分组完成选择（apply 下已复制）时调用。
	// 伴随文件缺失的告警也由此事件承载（res.Companion == missing）。
	OnItemDone(subfolder string, res domain.ItemResult)
	// OnSubfolderDone 在某个子目录处理完成（含失败）时调用；idx 为完成序号，从 1 开始。
	OnSubfolderDone(idx, total int, res domain.SubfolderResult, dur time.Duration)
}

type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig)                                  {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration)               {}
func (nopObserver) OnItemDone(string, domain.ItemResult)                            {}
func (nopObserver) OnSubfolderDone(int, int, domain.SubfolderResult, time.Duration) {}
