package level

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/wsesel/internal/domain"
)

// DefaultPattern 是默认的文件名语法：<identity>_<NN>_wse 或 <identity>_<NN>_wse_laea（大小写不敏感）。
// identity 用非贪婪匹配 + 尾部锚定：形如 "X_02_01_wse" 时，identity 为 "X_02"。
const DefaultPattern = `(?i)^(?P<identity>.+?)_(?P<level>[0-9]{2})_wse(?:_laea)?$`

// Grammar 把文件名（不含扩展名）拆成 identity + level。
type Grammar struct {
	re       *regexp.Regexp
	identity int
	level    int
}

// Default 返回 DefaultPattern 对应的 Grammar。
func Default() Grammar {
	g, err := Compile(DefaultPattern)
	if err != nil {
		panic(err)
	}
	return g
}

// Compile 编译自定义语法。pattern 必须声明命名分组 identity 与 level，
// 且 level 分组只能匹配数字（否则解析时会被视为未匹配）。
func Compile(pattern string) (Grammar, error) {
	if strings.TrimSpace(pattern) == "" {
		return Grammar{}, fmt.Errorf("pattern 不能为空")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Grammar{}, err
	}
	g := Grammar{re: re, identity: re.SubexpIndex("identity"), level: re.SubexpIndex("level")}
	if g.identity < 0 {
		return Grammar{}, fmt.Errorf("pattern 缺少命名分组 (?P<identity>...)：%q", pattern)
	}
	if g.level < 0 {
		return Grammar{}, fmt.Errorf("pattern 缺少命名分组 (?P<level>...)：%q", pattern)
	}
	return g, nil
}

// String 返回语法的原始正则。
func (g Grammar) String() string {
	if g.re == nil {
		return ""
	}
	return g.re.String()
}

// Parse 解析文件名（扩展名须由调用方事先去掉）。
//
// 永不失败：语法不匹配时返回 Matched=false、Identity=base，让该文件自成一组。
func (g Grammar) Parse(base string) domain.Parsed {
	unmatched := domain.Parsed{Identity: domain.Identity(base), Level: domain.NoLevel}
	if g.re == nil {
		return unmatched
	}

	m := g.re.FindStringSubmatchIndex(base)
	if m == nil {
		return unmatched
	}
	is, ie := m[2*g.identity], m[2*g.identity+1]
	ls, le := m[2*g.level], m[2*g.level+1]
	if is < 0 || ls < 0 || ie <= is {
		return unmatched
	}

	lv, err := strconv.Atoi(base[ls:le])
	if err != nil || lv < 0 {
		return unmatched
	}

	return domain.Parsed{
		Identity: domain.Identity(base[is:ie]),
		Level:    lv,
		Matched:  true,
		Suffix:   base[ie:],
	}
}

// FormatSuffix 按默认语法重建尾部：_<NN>_wse 或 _<NN>_wse_laea。
func FormatSuffix(lv int, laea bool) string {
	s := fmt.Sprintf("_%02d_wse", lv)
	if laea {
		s += "_laea"
	}
	return s
}
