package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/wsesel/internal/app"
	"github.com/John-Robertt/wsesel/internal/domain"
	"github.com/John-Robertt/wsesel/internal/infra/fsx"
	"github.com/John-Robertt/wsesel/internal/level"
	"github.com/John-Robertt/wsesel/internal/stage"
)

// DestState 描述 <out>/<subfolder>/ 的现状（只做 ReadDir，不读内容）。
type DestState struct {
	Dir string

	// ExistingNames 是目录内现有文件名集合，用于 O(1) 判定“是否会替换”。
	ExistingNames map[string]struct{}

	// Primaries 是目录内已有主文件按 identity 的索引（只收语法匹配的文件名，已排序）。
	// 之前运行选出、现在已被更高等级取代的文件由此找到。
	Primaries map[domain.Identity][]string
}

// ReadDestState 读取 <outDir>/<subfolder>/ 的现状。
// 若目录不存在，返回空状态且不报错；若路径是文件，返回 PathTypeConflict 由上层归类。
func ReadDestState(outDir, subfolder string, grammar level.Grammar, primaryExt string) (DestState, error) {
	dir := filepath.Join(outDir, subfolder)
	st := DestState{
		Dir:           dir,
		ExistingNames: map[string]struct{}{},
		Primaries:     map[domain.Identity][]string{},
	}

	fi, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return DestState{}, err
	}
	if !fi.IsDir() {
		return DestState{}, &fsx.PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return DestState{}, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		st.ExistingNames[name] = struct{}{}

		ext := filepath.Ext(name)
		if !strings.EqualFold(ext, primaryExt) {
			continue
		}
		if p := grammar.Parse(strings.TrimSuffix(name, ext)); p.Matched {
			st.Primaries[p.Identity] = append(st.Primaries[p.Identity], name)
		}
	}
	for id := range st.Primaries {
		sort.Strings(st.Primaries[id])
	}
	return st, nil
}

// PlanGroup 基于 Group + DestState 生成确定性的复制计划（不做任何写入）。
func PlanGroup(subfolder string, files []domain.ProductFile, g domain.Group, st DestState, companionExt string) (domain.GroupPlan, error) {
	sel, ok := app.Select(g)
	if !ok {
		return domain.GroupPlan{}, fmt.Errorf("空分组：%q", g.Identity)
	}
	for _, e := range g.Entries {
		if e.FileIdx < 0 || e.FileIdx >= len(files) {
			return domain.GroupPlan{}, fmt.Errorf("非法 file index：%d", e.FileIdx)
		}
	}

	f := files[sel.FileIdx]
	_, replace := st.ExistingNames[f.Name]

	// 同一 identity 在目标目录里只能留一个主文件：其余（连同伴随文件）标为被取代。
	var superseded []string
	if g.Matched {
		for _, name := range st.Primaries[g.Identity] {
			if name == f.Name {
				continue
			}
			superseded = append(superseded, name)
			if cn := stage.CompanionName(name, companionExt); cn != stage.CompanionName(f.Name, companionExt) {
				if _, ok := st.ExistingNames[cn]; ok {
					superseded = append(superseded, cn)
				}
			}
		}
	}

	return domain.GroupPlan{
		Subfolder:  subfolder,
		Identity:   g.Identity,
		Matched:    g.Matched,
		Selected:   sel,
		Candidates: append([]domain.Entry(nil), g.Entries...),
		Primary: domain.CopyPlan{
			SrcAbs:  f.AbsPath,
			DstAbs:  filepath.Join(st.Dir, f.Name),
			Replace: replace,
		},
		CompanionName: stage.CompanionName(f.Name, companionExt),
		Superseded:    superseded,
	}, nil
}
