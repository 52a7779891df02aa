// Package stage 把选中的主文件（以及存在时的伴随文件）复制到目标目录。
package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/wsesel/internal/domain"
	"github.com/John-Robertt/wsesel/internal/infra/fsx"
)

// Result 是一次 Stage 的结果。CopiedPrimary=false 只会伴随非 nil error 出现。
type Result struct {
	CopiedPrimary bool
	Companion     domain.CompanionStatus
	CompanionName string
}

// CompanionName 把 primary 的扩展名替换为 companionExt（"C_01_wse.tif" + ".tfw" => "C_01_wse.tfw"）。
func CompanionName(primary, companionExt string) string {
	return strings.TrimSuffix(primary, filepath.Ext(primary)) + companionExt
}

// CompanionStatusOf 只做 stat：srcDir 下是否存在 primary 对应的伴随文件（必须是常规文件）。
func CompanionStatusOf(primary, srcDir, companionExt string) (domain.CompanionStatus, error) {
	fi, err := os.Stat(filepath.Join(srcDir, CompanionName(primary, companionExt)))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.CompanionMissing, nil
		}
		return "", err
	}
	if !fi.Mode().IsRegular() {
		return domain.CompanionMissing, nil
	}
	return domain.CompanionFound, nil
}

// Prune 删除 dstDir 下被取代的文件（之前运行选出的低等级主文件与其伴随文件）。
// 返回实际删除的文件名；不存在的文件直接跳过。
func Prune(dstDir string, names []string) ([]string, error) {
	removed := make([]string, 0, len(names))
	for _, n := range names {
		ok, err := fsx.RemoveFile(dstDir, n)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, n)
		}
	}
	return removed, nil
}

// Stage 复制 srcDir/selected 到 dstDir，并在伴随文件存在时一并复制。
//
// 约束：
// - 主文件无条件复制（目标已存在则原子替换）
// - 伴随文件缺失不是错误：返回 CompanionMissing，由上层告警；目标里残留的同名伴随文件会被删除
// - 任何 I/O 失败都返回 error（已标明文件与操作），调用方据此中止当前子目录
// - 不删除、不修改源文件
func Stage(selected, srcDir, dstDir, companionExt string) (Result, error) {
	res := Result{CompanionName: CompanionName(selected, companionExt)}

	if err := fsx.EnsureDir(dstDir); err != nil {
		return res, err
	}
	if err := fsx.CopyFileAtomic(filepath.Join(srcDir, selected), dstDir, selected); err != nil {
		return res, err
	}
	res.CopiedPrimary = true

	st, err := CompanionStatusOf(selected, srcDir, companionExt)
	if err != nil {
		return res, fmt.Errorf("检查伴随文件 %q 失败：%w", res.CompanionName, err)
	}
	res.Companion = st
	if st == domain.CompanionMissing {
		// 上次运行留下的伴随文件已不对应当前主文件。
		if _, err := fsx.RemoveFile(dstDir, res.CompanionName); err != nil {
			return res, err
		}
		return res, nil
	}

	if err := fsx.CopyFileAtomic(filepath.Join(srcDir, res.CompanionName), dstDir, res.CompanionName); err != nil {
		return res, err
	}
	return res, nil
}
