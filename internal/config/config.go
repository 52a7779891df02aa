package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/wsesel/internal/level"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 wsesel.yaml。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

// FileName 是配置文件名（位置见 LoadEffective）。
const FileName = "wsesel.yaml"

const (
	DefaultConcurrency  = 4
	DefaultPrimaryExt   = ".tif"
	DefaultCompanionExt = ".tfw"
	DefaultLogLevel     = "info"
)

// CLIArgs 只包含 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 apply: true。
type CLIArgs struct {
	Path string

	Apply    bool
	ApplySet bool

	Concurrency    int
	ConcurrencySet bool

	LogLevel string
}

// FileConfig 对应 wsesel.yaml 的解析结构。
type FileConfig struct {
	Path         string      `yaml:"path"`
	Apply        *bool       `yaml:"apply"`
	Concurrency  int         `yaml:"concurrency"`
	OutDir       string      `yaml:"out_dir"`
	Subfolders   []string    `yaml:"subfolders"`
	ExcludeDirs  []string    `yaml:"exclude_dirs"`
	PrimaryExt   string      `yaml:"primary_ext"`
	CompanionExt string      `yaml:"companion_ext"`
	Pattern      string      `yaml:"pattern"`
	LogLevel     string      `yaml:"log_level"`
	Fetch        FetchConfig `yaml:"fetch"`
}

type FetchConfig struct {
	ProxyURL string `yaml:"proxy_url"`
	// RatePerSec 限制对远端的请求速率（index + 下载合计）；0 表示不限速。
	RatePerSec float64        `yaml:"rate_per_sec"`
	Include    []string       `yaml:"include"`
	Sources    []SourceConfig `yaml:"sources"`
}

// SourceConfig 是一个远端 index 页面与本地子目录的对应关系。
type SourceConfig struct {
	URL       string `yaml:"url"`
	Subfolder string `yaml:"subfolder"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path   string
	OutDir string
	Apply  bool

	Concurrency int
	Subfolders  []string
	ExcludeDirs []string

	PrimaryExt   string
	CompanionExt string
	Grammar      level.Grammar

	LogLevel logrus.Level

	FetchProxyURL   string
	FetchRatePerSec float64
	FetchInclude    []string
	FetchSources    []SourceConfig
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/wsesel.yaml（可选）
// 2) CLI 未提供 path：必须读取 <cwd>/wsesel.yaml（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path / apply / concurrency / log_level：CLI > config > 默认
// - 其他字段：仅由 config 控制
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Path) != "" {
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgPath := filepath.Join(absPath, FileName)

		fc, _, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		return merge(absPath, cli, fc, cfgPath)
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	return merge(absCleanFrom(cwdAbs, fc.Path), cli, fc, cfgPath)
}

func merge(absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	apply := false
	if cli.ApplySet {
		apply = cli.Apply
	} else if fc.Apply != nil {
		apply = *fc.Apply
	}

	concurrency := fc.Concurrency
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 范围 [1, 32]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 32 {
		concurrency = 32
	}

	outDir := filepath.Join(absPath, "out")
	if strings.TrimSpace(fc.OutDir) != "" {
		outDir = absCleanFrom(absPath, fc.OutDir)
	}
	if outDir == absPath {
		return EffectiveConfig{}, invalid("out_dir 不能等于 path")
	}

	subfolders := trimList(fc.Subfolders)
	if len(subfolders) == 0 {
		subfolders = []string{"*"}
	}
	for _, p := range subfolders {
		if !doublestar.ValidatePattern(p) {
			return EffectiveConfig{}, invalid("subfolders 含非法 glob：%q", p)
		}
	}

	primaryExt, err := normExt(fc.PrimaryExt, DefaultPrimaryExt)
	if err != nil {
		return EffectiveConfig{}, invalid("primary_ext 无效：%v", err)
	}
	companionExt, err := normExt(fc.CompanionExt, DefaultCompanionExt)
	if err != nil {
		return EffectiveConfig{}, invalid("companion_ext 无效：%v", err)
	}
	if primaryExt == companionExt {
		return EffectiveConfig{}, invalid("primary_ext 与 companion_ext 不能相同：%q", primaryExt)
	}

	grammar := level.Default()
	if strings.TrimSpace(fc.Pattern) != "" {
		g, err := level.Compile(fc.Pattern)
		if err != nil {
			return EffectiveConfig{}, invalid("pattern 无效：%v", err)
		}
		grammar = g
	}

	lvName := DefaultLogLevel
	if strings.TrimSpace(fc.LogLevel) != "" {
		lvName = fc.LogLevel
	}
	if strings.TrimSpace(cli.LogLevel) != "" {
		lvName = cli.LogLevel
	}
	logLevel, err := logrus.ParseLevel(strings.TrimSpace(lvName))
	if err != nil {
		return EffectiveConfig{}, invalid("log_level 无效：%v", err)
	}

	fetch, err := mergeFetch(fc.Fetch, primaryExt, companionExt)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	return EffectiveConfig{
		Path:            absPath,
		OutDir:          outDir,
		Apply:           apply,
		Concurrency:     concurrency,
		Subfolders:      subfolders,
		ExcludeDirs:     append([]string(nil), fc.ExcludeDirs...),
		PrimaryExt:      primaryExt,
		CompanionExt:    companionExt,
		Grammar:         grammar,
		LogLevel:        logLevel,
		FetchProxyURL:   fetch.ProxyURL,
		FetchRatePerSec: fetch.RatePerSec,
		FetchInclude:    fetch.Include,
		FetchSources:    fetch.Sources,
	}, nil
}

func mergeFetch(fc FetchConfig, primaryExt, companionExt string) (FetchConfig, error) {
	out := FetchConfig{ProxyURL: strings.TrimSpace(fc.ProxyURL), RatePerSec: fc.RatePerSec}
	if out.RatePerSec < 0 {
		return FetchConfig{}, fmt.Errorf("fetch.rate_per_sec 不能为负数：%v", out.RatePerSec)
	}

	if out.ProxyURL != "" {
		if _, err := url.Parse(out.ProxyURL); err != nil {
			return FetchConfig{}, fmt.Errorf("fetch.proxy_url 无效：%w", err)
		}
	}

	out.Include = trimList(fc.Include)
	if len(out.Include) == 0 {
		out.Include = []string{"*" + primaryExt, "*" + companionExt}
	}
	for i, p := range out.Include {
		// include 按小写文件名匹配。
		p = strings.ToLower(p)
		if !doublestar.ValidatePattern(p) {
			return FetchConfig{}, fmt.Errorf("fetch.include 含非法 glob：%q", p)
		}
		out.Include[i] = p
	}

	seen := make(map[string]struct{}, len(fc.Sources))
	for i, s := range fc.Sources {
		raw := strings.TrimSpace(s.URL)
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return FetchConfig{}, fmt.Errorf("fetch.sources[%d].url 无效：%q", i, raw)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return FetchConfig{}, fmt.Errorf("fetch.sources[%d].url 必须是 http/https：%q", i, raw)
		}

		sub := strings.TrimSpace(s.Subfolder)
		if sub == "" {
			return FetchConfig{}, fmt.Errorf("fetch.sources[%d].subfolder 不能为空", i)
		}
		clean := path.Clean(filepath.ToSlash(sub))
		if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
			return FetchConfig{}, fmt.Errorf("fetch.sources[%d].subfolder 必须是 path 内的相对路径：%q", i, sub)
		}
		if _, dup := seen[raw]; dup {
			return FetchConfig{}, fmt.Errorf("fetch.sources 重复的 url：%q", raw)
		}
		seen[raw] = struct{}{}

		out.Sources = append(out.Sources, SourceConfig{URL: raw, Subfolder: filepath.FromSlash(clean)})
	}
	return out, nil
}

func normExt(ext, def string) (string, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return def, nil
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == "." || strings.ContainsAny(ext[1:], `./\`) {
		return "", fmt.Errorf("%q", ext)
	}
	return ext, nil
}

func trimList(xs []string) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
