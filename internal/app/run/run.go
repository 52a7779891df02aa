package run

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/wsesel/internal/app"
	"github.com/John-Robertt/wsesel/internal/app/planner"
	"github.com/John-Robertt/wsesel/internal/config"
	"github.com/John-Robertt/wsesel/internal/domain"
	"github.com/John-Robertt/wsesel/internal/infra/fsx"
	"github.com/John-Robertt/wsesel/internal/scan"
	"github.com/John-Robertt/wsesel/internal/stage"
)

// Execute 执行一次 select（dry-run/apply），并返回对外稳定的 RunReport。
// I/O 失败只中止所在子目录，其他子目录照常处理。
func Execute(ctx context.Context, eff config.EffectiveConfig) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, obs Observer) domain.RunReport {
	if obs == nil {
		obs = nopObserver{}
	}
	obs.OnStart(eff)

	rr := domain.RunReport{
		RunID:      uuid.NewString(),
		Path:       eff.Path,
		OutDir:     eff.OutDir,
		DryRun:     !eff.Apply,
		StartedAt:  time.Now().UTC(),
		Subfolders: []domain.SubfolderResult{},
	}

	workers := eff.Concurrency
	if workers < 1 {
		workers = 1
	}

	discStarted := time.Now()
	subs, unreadable, err := scan.Subfolders(eff.Path, eff.OutDir, eff.Subfolders, eff.ExcludeDirs)
	if err != nil {
		rr.Subfolders = append(rr.Subfolders, domain.SubfolderResult{
			Status:    domain.StatusFailed,
			ErrorCode: domain.ErrCodeIOFailed,
			ErrorMsg:  fmt.Sprintf("发现子目录失败：%v", err),
			Items:     []domain.ItemResult{},
		})
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}
	total := len(subs) + len(unreadable)
	obs.OnPhaseDone("discover", map[string]any{
		"subfolders": total,
		"unreadable": len(unreadable),
		"workers":    workers,
	}, time.Since(discStarted))

	// 每个 goroutine 只写 results[i]：报告与串行执行完全一致，无需加锁。
	results := make([]domain.SubfolderResult, total)
	var done atomic.Int64

	// 读不了的目录只让它自己失败，其余子目录照常处理。
	for i, u := range unreadable {
		res := domain.SubfolderResult{
			Subfolder: filepath.ToSlash(u.Rel),
			Status:    domain.StatusFailed,
			ErrorCode: domain.ErrCodeIOFailed,
			ErrorMsg:  fmt.Sprintf("读取目录失败：%v", u.Err),
			Items:     []domain.ItemResult{},
		}
		results[len(subs)+i] = res
		obs.OnSubfolderDone(int(done.Add(1)), total, res, 0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			started := time.Now()
			results[i] = processSubfolder(gctx, eff, sub, obs)
			obs.OnSubfolderDone(int(done.Add(1)), total, results[i], time.Since(started))
			// 子目录失败记录在结果里，不取消其他子目录。
			return nil
		})
	}
	_ = g.Wait()

	rr.Subfolders = results
	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

// processSubfolder：scan -> group -> select/plan -> stage（apply）或仅检查伴随文件（dry-run）。
func processSubfolder(ctx context.Context, eff config.EffectiveConfig, sub string, obs Observer) domain.SubfolderResult {
	res := domain.SubfolderResult{
		Subfolder: filepath.ToSlash(sub),
		Status:    domain.StatusPlanned,
		Items:     []domain.ItemResult{},
	}
	if eff.Apply {
		res.Status = domain.StatusStaged
	}

	fail := func(code, msg string) domain.SubfolderResult {
		res.Status = domain.StatusFailed
		res.ErrorCode = code
		res.ErrorMsg = msg
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(domain.ErrCodeCanceled, err.Error())
	}

	files, err := scan.ListProducts(eff.Path, sub, eff.PrimaryExt)
	if err != nil {
		return fail(ioCode(err), fmt.Sprintf("列出文件失败：%v", err))
	}
	res.Scanned = len(files)

	groups := app.GroupByIdentity(files, eff.Grammar)
	res.Groups = len(groups)

	dest, err := planner.ReadDestState(eff.OutDir, sub, eff.Grammar, eff.PrimaryExt)
	if err != nil {
		return fail(ioCode(err), fmt.Sprintf("读取目标目录失败：%v", err))
	}
	srcDir := filepath.Join(eff.Path, sub)

	for _, grp := range groups {
		if err := ctx.Err(); err != nil {
			return fail(domain.ErrCodeCanceled, err.Error())
		}

		plan, err := planner.PlanGroup(sub, files, grp, dest, eff.CompanionExt)
		if err != nil {
			return fail(domain.ErrCodeIOFailed, fmt.Sprintf("规划失败：%v", err))
		}
		item := itemResult(eff, files, plan)
		selected := files[plan.Selected.FileIdx].Name

		if eff.Apply {
			r, err := stage.Stage(selected, srcDir, dest.Dir, eff.CompanionExt)
			if err != nil {
				markFiles(&item, domain.FileStatusFailed)
				res.Items = append(res.Items, item)
				return fail(ioCode(err), fmt.Sprintf("复制 %s 失败：%v", selected, err))
			}
			item.Companion = r.Companion
			if r.Companion == domain.CompanionFound {
				item.Files = append(item.Files, companionFile(eff, srcDir, dest.Dir, r.CompanionName))
			}
			markFiles(&item, domain.FileStatusCopied)
			res.Staged++

			// 新主文件落盘之后再删旧的：任何时刻目标里至少有一个该 identity 的文件。
			removed, err := stage.Prune(dest.Dir, plan.Superseded)
			item.Superseded = destPaths(eff, dest.Dir, removed)
			res.Removed += len(removed)
			if err != nil {
				res.Items = append(res.Items, item)
				return fail(ioCode(err), fmt.Sprintf("删除被取代的 %s 文件失败：%v", item.Identity, err))
			}
		} else {
			cs, err := stage.CompanionStatusOf(selected, srcDir, eff.CompanionExt)
			if err != nil {
				return fail(ioCode(err), fmt.Sprintf("检查伴随文件 %s 失败：%v", plan.CompanionName, err))
			}
			item.Companion = cs
			if cs == domain.CompanionFound {
				item.Files = append(item.Files, companionFile(eff, srcDir, dest.Dir, plan.CompanionName))
			}
			item.Superseded = destPaths(eff, dest.Dir, plan.Superseded)
		}

		if item.Companion == domain.CompanionMissing {
			res.MissingCompanions++
		}
		obs.OnItemDone(res.Subfolder, item)
		res.Items = append(res.Items, item)
	}
	return res
}

func itemResult(eff config.EffectiveConfig, files []domain.ProductFile, p domain.GroupPlan) domain.ItemResult {
	item := domain.ItemResult{
		Identity:   string(p.Identity),
		Matched:    p.Matched,
		Level:      domain.LevelPtr(p.Selected),
		Selected:   files[p.Selected.FileIdx].Name,
		Candidates: make([]domain.Candidate, 0, len(p.Candidates)),
		Files: []domain.FileResult{{
			Src:    reportPath(eff.Path, p.Primary.SrcAbs),
			Dst:    reportPath(eff.Path, p.Primary.DstAbs),
			Status: domain.FileStatusPlanned,
		}},
	}
	for _, c := range p.Candidates {
		item.Candidates = append(item.Candidates, domain.Candidate{
			Name:  files[c.FileIdx].Name,
			Level: domain.LevelPtr(c),
		})
	}
	return item
}

func companionFile(eff config.EffectiveConfig, srcDir, dstDir, name string) domain.FileResult {
	return domain.FileResult{
		Src:    reportPath(eff.Path, filepath.Join(srcDir, name)),
		Dst:    reportPath(eff.Path, filepath.Join(dstDir, name)),
		Status: domain.FileStatusPlanned,
	}
}

func destPaths(eff config.EffectiveConfig, dstDir string, names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, reportPath(eff.Path, filepath.Join(dstDir, n)))
	}
	return out
}

func markFiles(item *domain.ItemResult, status string) {
	for i := range item.Files {
		item.Files[i].Status = status
	}
}

// reportPath 尽量输出相对 <path> 的 slash 路径；out_dir 在 <path> 之外时输出绝对路径。
func reportPath(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

func ioCode(err error) string {
	if fsx.IsPathTypeConflict(err) {
		return domain.ErrCodeTargetConflict
	}
	return domain.ErrCodeIOFailed
}
