package domain

// Entry 是分组内的一个候选（只保存 file index，指向 []ProductFile）。
type Entry struct {
	FileIdx int
	Level   int
	Matched bool
}

// Rank 与 Parsed.Rank 语义一致。
func (e Entry) Rank() int {
	if !e.Matched {
		return NoLevel
	}
	return e.Level
}

// Group 是按 Identity 聚合后的工作单元。
//
// 不变量：
// - Entries 保持输入遇到顺序（决定等级相同时谁胜出）
// - Matched=false 的分组只收纳 Base 完全相同的文件（实际几乎总是单成员）
type Group struct {
	Identity Identity
	Matched  bool
	Entries  []Entry
}
