package domain

// CopyPlan 规划一次文件复制（只描述 src/dst；真正执行由 stage 包完成）。
type CopyPlan struct {
	SrcAbs string
	DstAbs string

	// Replace 表示目标目录里已经存在同名文件（apply 时会被原子替换）。
	Replace bool
}

// CompanionStatus 描述伴随文件（例如 .tfw）的状态。
type CompanionStatus string

const (
	CompanionFound   CompanionStatus = "found"
	CompanionMissing CompanionStatus = "missing"
)

// GroupPlan 是对某个分组的最小执行计划。
type GroupPlan struct {
	Subfolder string
	Identity  Identity
	Matched   bool

	// Selected 指向被选中的 Entry；Candidates 是分组内全部成员（保持遇到顺序）。
	Selected   Entry
	Candidates []Entry

	Primary CopyPlan
	// CompanionName 是由主文件名替换扩展名得到的伴随文件名（是否存在在执行时判定）。
	CompanionName string

	// Superseded 是目标目录里同一 identity 的旧主文件及其伴随文件（文件名），apply 时删除。
	Superseded []string
}
