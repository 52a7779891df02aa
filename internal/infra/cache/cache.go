package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/John-Robertt/wsesel/internal/infra/fsx"
)

// Store 提供 <path>/cache/ 下的文件缓存读写。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
type Store struct {
	Root     string // <path>（扫描根目录）
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// Dir 返回 <path>/cache。
func (s Store) Dir() string {
	return filepath.Join(s.Root, "cache")
}

// IndexHTMLPath 返回某个 source（子目录 + index URL）对应的 index 页面缓存路径。
// 同一子目录可以挂多个 source，所以 key 必须包含 URL。
func (s Store) IndexHTMLPath(subfolder, sourceURL string) (string, error) {
	key, err := indexKey(subfolder, sourceURL)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Dir(), "index", key+".html"), nil
}

// ReadIndexHTML 读取 index 缓存；不存在返回 ok=false 且不报错。
func (s Store) ReadIndexHTML(subfolder, sourceURL string) ([]byte, bool, error) {
	path, err := s.IndexHTMLPath(subfolder, sourceURL)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s Store) WriteIndexHTML(subfolder, sourceURL string, html []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	key, err := indexKey(subfolder, sourceURL)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Join(s.Dir(), "index"), key+".html", html)
}

// WriteArtifact 把一次运行的产物（report.json / selection.csv 等）写到 <path>/cache/<name>。
func (s Store) WriteArtifact(name string, b []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("非法产物文件名：%q", name)
	}
	return fsx.WriteFileAtomicReplace(s.Dir(), name, b)
}

var keyUnsafeRE = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// indexKey 把相对子目录（可能多级）压平，再接上 URL 的 name-based UUID：
// ("2019/north", u) => "2019__north__<uuid5(u)>"。
func indexKey(subfolder, sourceURL string) (string, error) {
	sub := filepath.ToSlash(filepath.Clean(strings.TrimSpace(subfolder)))
	if sub == "" || sub == "." || sub == ".." || strings.HasPrefix(sub, "../") || strings.HasPrefix(sub, "/") {
		return "", fmt.Errorf("非法子目录：%q", subfolder)
	}
	parts := strings.Split(sub, "/")
	for i, p := range parts {
		parts[i] = keyUnsafeRE.ReplaceAllString(p, "_")
	}
	u := strings.TrimSpace(sourceURL)
	if u == "" {
		return "", fmt.Errorf("index URL 为空（子目录 %q）", subfolder)
	}
	return strings.Join(parts, "__") + "__" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(u)).String(), nil
}
