package fsx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// 通过可替换的函数指针，让测试能稳定模拟 rename 失败。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
// 上层可把它映射为 error_code=target_conflict。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// OpError 标记失败的文件与操作（copy/write/rename/...），便于 report 直接定位。
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %q 失败：%v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// EnsureDir 确保 dir 存在且是目录。
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	if err == nil {
		if fi.IsDir() {
			return nil
		}
		return &PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// CopyFileAtomic 把 src 复制为 dstDir/name（临时文件 + rename，目标已存在则替换）。
//
// - 保留 src 的权限位与修改时间（rename 前设置，因此最终文件一出现就带着正确的元数据）
// - 失败时不会留下半写的目标文件；src 永远只读
func CopyFileAtomic(src, dstDir, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return &OpError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return &OpError{Op: "stat", Path: src, Err: err}
	}
	if !fi.Mode().IsRegular() {
		return &PathTypeConflictError{Path: src, Want: "regular file", Got: fi.Mode().Type().String()}
	}

	dst := filepath.Join(dstDir, name)
	if dfi, err := os.Lstat(dst); err == nil && dfi.IsDir() {
		return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}

	return writeAtomic(dstDir, name, in, fi.Mode().Perm(), fi.ModTime())
}

// WriteFileAtomic 在 dir 下原子写入 name；若目标已存在则覆盖（即 replace）。
//
// cache/report 等内部状态可以覆盖，使用该函数即可；下载的产品文件请用 WriteStreamAtomicNoOverwrite。
func WriteFileAtomic(dir, name string, data []byte) error {
	return WriteFileAtomicReplace(dir, name, data)
}

// WriteFileAtomicReplace 写入并覆盖同名文件（尽量保持原子性；Windows 上为 best-effort）。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	return writeAtomic(dir, name, bytes.NewReader(data), 0o644, time.Time{})
}

// WriteStreamAtomicNoOverwrite 把 r 的内容原子写入 dir/name；目标已存在时返回 os.ErrExist。
//
// - 临时文件必须与目标文件在同目录，以保证 rename 的原子性
// - 目标是目录等非常规文件时返回 PathTypeConflictError
//
// 注意：存在性检查与 rename 之间不加锁；同一目标只应由一个 worker 写入。
func WriteStreamAtomicNoOverwrite(dir, name string, r io.Reader) error {
	dst := filepath.Join(filepath.Clean(dir), name)
	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		if !fi.Mode().IsRegular() {
			return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
		}
		return os.ErrExist
	} else if !os.IsNotExist(err) {
		return err
	}
	return writeAtomic(dir, name, r, 0o644, time.Time{})
}

func writeAtomic(dir, name string, r io.Reader, perm os.FileMode, mtime time.Time) error {
	if err := EnsureDir(dir); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)

	// 创建同目录临时文件（前缀带 '.'，避免被下游 glob 当成产品）。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return &OpError{Op: "create", Path: dst, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return &OpError{Op: "write", Path: dst, Err: err}
	}
	if err := tmp.Chmod(perm); err != nil {
		return &OpError{Op: "chmod", Path: dst, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &OpError{Op: "sync", Path: dst, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &OpError{Op: "close", Path: dst, Err: err}
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(tmpName, mtime, mtime); err != nil {
			return &OpError{Op: "chtimes", Path: dst, Err: err}
		}
	}

	if err := renameFunc(tmpName, dst); err != nil {
		return &OpError{Op: "rename", Path: dst, Err: err}
	}

	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(dir)
	return nil
}

// RemoveFile 删除 dir/name；不存在视为成功，返回是否真的删除了文件。
// 目标是目录时返回 PathTypeConflict（绝不递归删除）。
func RemoveFile(dir, name string) (bool, error) {
	p := filepath.Join(dir, name)
	fi, err := os.Lstat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &OpError{Op: "stat", Path: p, Err: err}
	}
	if fi.IsDir() {
		return false, &PathTypeConflictError{Path: p, Want: "file", Got: "dir"}
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &OpError{Op: "remove", Path: p, Err: err}
	}
	return true, nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
