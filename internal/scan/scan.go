package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/John-Robertt/wsesel/internal/domain"
)

// Unreadable 是发现阶段无法读取的目录：只影响它自己（上层把它记为失败的子目录）。
type Unreadable struct {
	Rel string
	Err error
}

// Subfolders 发现 root 下需要处理的子目录（返回相对 root 的路径，已排序）。
//
// 规则（硬约束）：
// - 永久排除：outDir 与 <root>/cache/
// - excludeDirs：来自配置文件，均视为相对 root 的路径（若是绝对路径，则按绝对路径处理）
// - patterns：doublestar glob，匹配相对路径（统一用 '/' 分隔）；为空时等价于 ["*"]
// - 只向下走到 patterns 可能匹配的深度（不含 "**" 时不会遍历整棵树）
// - 符号链接目录不跟随，也不作为子目录：避免环，也避免把 root 之外的目录当成输入
//
// 读不了的目录不会中止发现：匹配的子目录照常返回（读取错误在处理该子目录时暴露），
// 其余的放进 unreadable。只有 root 本身读不了才返回 err。
func Subfolders(root, outDir string, patterns, excludeDirs []string) (subs []string, unreadable []Unreadable, err error) {
	root = filepath.Clean(root)
	excluded := buildExcluded(root, outDir, excludeDirs)
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	subs = make([]string, 0, 16)
	matched := map[string]struct{}{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if path == root {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if walkErr != nil {
			// WalkDir 对读失败的目录会带错误再回调一次。
			if _, ok := matched[rel]; !ok {
				unreadable = append(unreadable, Unreadable{Rel: rel, Err: walkErr})
			}
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if isExcluded(path, excluded) {
			return filepath.SkipDir
		}

		slashed := filepath.ToSlash(rel)
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, slashed); ok {
				subs = append(subs, rel)
				matched[rel] = struct{}{}
				break
			}
		}
		if !canDescend(patterns, slashed) {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Strings(subs)
	sort.Slice(unreadable, func(i, j int) bool { return unreadable[i].Rel < unreadable[j].Rel })
	return subs, unreadable, nil
}

// canDescend 判断 rel 之下是否还可能有目录匹配某个 pattern（逐段 glob 比较）。
// 含 "**" 或花括号的 pattern 无法逐段判断，保守地继续下行。
func canDescend(patterns []string, rel string) bool {
	segs := strings.Split(rel, "/")
	for _, p := range patterns {
		if strings.Contains(p, "**") || strings.ContainsAny(p, "{}") {
			return true
		}
		ps := strings.Split(p, "/")
		if len(ps) <= len(segs) {
			continue
		}
		ok := true
		for i, s := range segs {
			if m, _ := doublestar.Match(ps[i], s); !m {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// ListProducts 列出一个子目录下扩展名为 primaryExt 的文件（不递归，只做 stat）。
//
// 返回值按文件名字节序排序：这是分组内“等级相同取先出现者”的确定顺序，
// 不依赖文件系统的 ReadDir 行为。
func ListProducts(root, rel, primaryExt string) ([]domain.ProductFile, error) {
	dir := filepath.Join(root, rel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	primaryExt = strings.ToLower(primaryExt)
	files := make([]domain.ProductFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if strings.ToLower(ext) != primaryExt {
			continue
		}

		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}

		files = append(files, domain.ProductFile{
			AbsPath: filepath.Join(dir, name),
			RelPath: filepath.Join(rel, name),
			Name:    name,
			Base:    strings.TrimSuffix(name, ext),
			Ext:     strings.ToLower(ext),
			Size:    info.Size(),
			ModUnix: info.ModTime().Unix(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func buildExcluded(root, outDir string, excludeDirs []string) []string {
	excluded := make([]string, 0, 2+len(excludeDirs))
	excluded = append(excluded, filepath.Clean(filepath.Join(root, "cache")))
	if strings.TrimSpace(outDir) != "" {
		excluded = append(excluded, absUnder(root, outDir))
	}

	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		excluded = append(excluded, absUnder(root, x))
	}

	sort.Strings(excluded)
	return excluded
}

func absUnder(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(root, p))
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
