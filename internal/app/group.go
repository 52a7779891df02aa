package app

import (
	"sort"

	"github.com/John-Robertt/wsesel/internal/domain"
	"github.com/John-Robertt/wsesel/internal/level"
)

type groupKey struct {
	identity domain.Identity
	matched  bool
}

// GroupByIdentity 把同一子目录的产品文件按 Identity 分组（Group 只存 file index）。
//
// - 组内 Entries 保持 files 的输入顺序（决定等级相同时的胜者）
// - 未匹配语法的文件以 (完整文件名, unmatched) 为键，永远不会与匹配文件同组
// - 返回的 groups 按 Identity 字典序稳定排序；同名时 matched 在前
func GroupByIdentity(files []domain.ProductFile, g level.Grammar) []domain.Group {
	index := make(map[groupKey]int, len(files))
	groups := make([]domain.Group, 0, len(files))

	for i := range files {
		p := g.Parse(files[i].Base)
		e := domain.Entry{FileIdx: i, Level: p.Level, Matched: p.Matched}

		k := groupKey{identity: p.Identity, matched: p.Matched}
		if idx, ok := index[k]; ok {
			groups[idx].Entries = append(groups[idx].Entries, e)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, domain.Group{
			Identity: p.Identity,
			Matched:  p.Matched,
			Entries:  []domain.Entry{e},
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Identity != groups[j].Identity {
			return groups[i].Identity < groups[j].Identity
		}
		return groups[i].Matched && !groups[j].Matched
	})
	return groups
}

// Select 返回组内等级最高的 Entry；等级相同取先出现者（单次线性扫描）。
// 仅当分组为空时返回 false。
func Select(g domain.Group) (domain.Entry, bool) {
	if len(g.Entries) == 0 {
		return domain.Entry{}, false
	}
	best := g.Entries[0]
	for _, e := range g.Entries[1:] {
		if e.Rank() > best.Rank() {
			best = e
		}
	}
	return best, true
}
