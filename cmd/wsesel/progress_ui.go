package main

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/wsesel/internal/app/run"
	"github.com/John-Robertt/wsesel/internal/config"
	"github.com/John-Robertt/wsesel/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 把 run 层事件写成 logrus 日志（stderr），不触碰 stdout 的 JSON 契约。
//
// keepalive：长时间没有子目录完成时，定期输出一行进度。
type progressUI struct {
	log logrus.FieldLogger

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	failed  int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(log logrus.FieldLogger) *progressUI {
	return &progressUI{
		log:                log,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startedAt.IsZero() {
		p.startedAt = time.Now()
	}
	p.log.WithFields(logrus.Fields{
		"path":          eff.Path,
		"out":           eff.OutDir,
		"mode":          modeName(eff.Apply),
		"concurrency":   eff.Concurrency,
		"subfolders":    eff.Subfolders,
		"exclude_dirs":  eff.ExcludeDirs,
		"primary_ext":   eff.PrimaryExt,
		"companion_ext": eff.CompanionExt,
		"pattern":       eff.Grammar.String(),
	}).Info("wsesel select")
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := p.log.WithFields(logrus.Fields(fields)).WithField("dur", formatShortDuration(dur))
	switch name {
	case "discover":
		p.workers = intField(fields, "workers")
		p.total = intField(fields, "subfolders")
		entry.Info("发现子目录")
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		// 兜底：未知阶段也不要静默。
		entry.Info(name)
	}
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(subfolder string, res domain.ItemResult) {
	entry := p.log.WithFields(logrus.Fields{
		"subfolder":  subfolder,
		"identity":   res.Identity,
		"level":      formatLevel(res.Level),
		"selected":   res.Selected,
		"candidates": len(res.Candidates),
	})
	if !res.Matched {
		entry = entry.WithField("matched", false)
	}
	if len(res.Superseded) > 0 {
		entry = entry.WithField("superseded", len(res.Superseded))
	}
	// 每个分组的选择结果随处理进度即时可见（默认 info 级别）。
	entry.Info("选择")

	if res.Companion == domain.CompanionMissing {
		entry.Warn("缺少伴随文件")
	}

	p.mu.Lock()
	p.lastPrinted = time.Now()
	p.mu.Unlock()
}

func (p *progressUI) OnSubfolderDone(idx, total int, res domain.SubfolderResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total
	if res.Status == domain.StatusFailed {
		p.failed++
	}

	entry := p.log.WithFields(logrus.Fields{
		"progress":           fmt.Sprintf("%d/%d", idx, total),
		"subfolder":          res.Subfolder,
		"status":             res.Status,
		"scanned":            res.Scanned,
		"groups":             res.Groups,
		"staged":             res.Staged,
		"missing_companions": res.MissingCompanions,
		"removed":            res.Removed,
		"dur":                formatShortDuration(dur),
	})
	if res.Status == domain.StatusFailed {
		entry.WithField("error_code", res.ErrorCode).Error(truncate(res.ErrorMsg, 160))
	} else {
		entry.Info("子目录完成")
	}
	p.lastPrinted = time.Now()

	// 最后一个完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.tickerStarted && p.done >= p.total {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

// Close 停止 keepalive（run 提前返回时 OnSubfolderDone 可能不会走到最后一个）。
func (p *progressUI) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	threshold := p.keepaliveThreshold

	go func() {
		t := time.NewTicker(p.tickerInterval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					active := p.workers
					if remain := p.total - p.done; remain < active {
						active = remain
					}
					p.log.WithFields(logrus.Fields{
						"done":    fmt.Sprintf("%d/%d", p.done, p.total),
						"failed":  p.failed,
						"active":  active,
						"elapsed": formatElapsed(time.Since(p.startedAt)),
					}).Info("进度")
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func modeName(apply bool) string {
	if apply {
		return "apply"
	}
	return "dry-run"
}

func formatLevel(lv *int) string {
	if lv == nil {
		return "-"
	}
	return fmt.Sprintf("%02d", *lv)
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	n, _ := fields[key].(int)
	return n
}
