package domain

// Identity 是产品的分组主键：文件名去掉尾部 "_<NN>_wse[_laea]" 之后的部分。
type Identity string

// NoLevel 是未匹配文件名的排序等级，低于任何合法 level（合法 level 为两位数字，>= 0）。
const NoLevel = -1

// Parsed 是文件名（不含扩展名）的解析结果。
//
// 约束：
// - Matched=false 时 Identity 即完整文件名，Level/Suffix 无意义
// - 解析永不失败；未匹配只是降级为单成员分组
type Parsed struct {
	Identity Identity
	Level    int
	Matched  bool

	// Suffix 是 identity 之后的原文（保留大小写）；默认语法下满足 Identity+Suffix == 原文件名。
	Suffix string
}

// Rank 返回用于择优比较的等级；未匹配的文件名返回 NoLevel。
func (p Parsed) Rank() int {
	if !p.Matched {
		return NoLevel
	}
	return p.Level
}
