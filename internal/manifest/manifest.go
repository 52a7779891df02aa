// Package manifest 把一次 select 的结果编码为 cache/selection.csv。
package manifest

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"

	"github.com/John-Robertt/wsesel/internal/domain"
)

// FileName 是 manifest 在 <path>/cache/ 下的文件名。
const FileName = "selection.csv"

var header = []string{"subfolder", "identity", "matched", "level", "selected", "companion", "candidates"}

// Encode 每个分组输出一行；失败子目录没有 items，因此不出现在 manifest 中。
//
// 行序沿用 report（Finalize 之后即确定）；candidates 按候选顺序以 ';' 连接。
func Encode(rr domain.RunReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, sr := range rr.Subfolders {
		for _, it := range sr.Items {
			lv := ""
			if it.Level != nil {
				lv = strconv.Itoa(*it.Level)
			}
			names := make([]string, 0, len(it.Candidates))
			for _, c := range it.Candidates {
				names = append(names, c.Name)
			}
			row := []string{
				sr.Subfolder,
				it.Identity,
				strconv.FormatBool(it.Matched),
				lv,
				it.Selected,
				string(it.Companion),
				strings.Join(names, ";"),
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
