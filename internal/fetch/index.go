package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bmatcuk/doublestar/v4"
)

// Link 是 index 页面中的一个直接子文件。
type Link struct {
	Name string
	URL  string
}

// ParseIndex 从目录列表页（Apache/nginx autoindex 一类）提取直接子文件链接。
//
// 约束：
// - 只保留与 pageURL 同 scheme+host、且位于 pageURL 目录正下方的文件
// - 以 '/' 结尾的链接（子目录/父目录）与带 query 的链接（排序链接）忽略
// - 同名去重，结果按 Name 排序
func ParseIndex(html []byte, pageURL string) ([]Link, error) {
	if len(html) == 0 {
		return nil, errors.New("html 为空")
	}
	base, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return nil, err
	}
	dir := base.Path
	if !strings.HasSuffix(dir, "/") {
		dir = path.Dir(dir) + "/"
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var out []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		u := base.ResolveReference(ref)
		if u.RawQuery != "" || u.Scheme != base.Scheme || u.Host != base.Host {
			return
		}
		if !strings.HasPrefix(u.Path, dir) {
			return
		}
		name := strings.TrimPrefix(u.Path, dir)
		if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		u.Fragment = ""
		out = append(out, Link{Name: name, URL: u.String()})
	})

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Filter 保留文件名（小写）命中任一 include glob 的链接；include 须已小写。
func Filter(links []Link, include []string) []Link {
	out := make([]Link, 0, len(links))
	for _, l := range links {
		name := strings.ToLower(l.Name)
		for _, p := range include {
			if ok, _ := doublestar.Match(p, name); ok {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// HTTPStatusError 表示服务端返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	return fmt.Sprintf("HTTP %d url=%s", e.StatusCode, e.URL)
}
