package fsx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_SuccessAndNoTempLeft(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteFileAtomic(dir, "a.txt", []byte("hello")))

	b, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	// 覆盖写。
	require.NoError(t, WriteFileAtomic(dir, "a.txt", []byte("world")))
	b, err = os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(b))

	assertNoTemp(t, dir, "a.txt")
}

func TestWriteFileAtomic_RenameFail_CleanupTemp(t *testing.T) {
	dir := t.TempDir()

	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return os.ErrPermission
	}
	defer func() { renameFunc = old }()

	err := WriteFileAtomic(dir, "a.txt", []byte("hello"))
	require.Error(t, err)

	var oe *OpError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "rename", oe.Op)
	assert.ErrorIs(t, err, os.ErrPermission)

	assertNoTemp(t, dir, "a.txt")
	_, statErr := os.Stat(filepath.Join(dir, "a.txt"))
	assert.True(t, os.IsNotExist(statErr), "不应写出最终文件")
}

func TestCopyFileAtomic_PreservesContentModeAndMtime(t *testing.T) {
	src := filepath.Join(t.TempDir(), "A_01_wse.tif")
	require.NoError(t, os.WriteFile(src, []byte("raster"), 0o640))
	mtime := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	dstDir := filepath.Join(t.TempDir(), "out", "2019")
	require.NoError(t, CopyFileAtomic(src, dstDir, "A_01_wse.tif"))

	dst := filepath.Join(dstDir, "A_01_wse.tif")
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "raster", string(b))

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(mtime), "mtime=%v", fi.ModTime())
	assert.Equal(t, os.FileMode(0o640), fi.Mode().Perm())

	// 源文件不受影响。
	sb, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "raster", string(sb))

	assertNoTemp(t, dstDir, "A_01_wse.tif")
}

func TestCopyFileAtomic_MissingSource(t *testing.T) {
	err := CopyFileAtomic(filepath.Join(t.TempDir(), "nope.tif"), t.TempDir(), "nope.tif")
	require.Error(t, err)

	var oe *OpError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "open", oe.Op)
}

func TestCopyFileAtomic_TargetIsDir(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.tif")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	dstDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dstDir, "a.tif"), 0o755))

	err := CopyFileAtomic(src, dstDir, "a.tif")
	require.Error(t, err)
	assert.True(t, IsPathTypeConflict(err), "%T %v", err, err)
}

func TestWriteStreamAtomicNoOverwrite(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteStreamAtomicNoOverwrite(dir, "a.tif", strings.NewReader("v1")))

	err := WriteStreamAtomicNoOverwrite(dir, "a.tif", strings.NewReader("v2"))
	assert.ErrorIs(t, err, os.ErrExist)

	b, err := os.ReadFile(filepath.Join(dir, "a.tif"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(b))
}

func TestWriteStreamAtomicNoOverwrite_TargetConflictDir(t *testing.T) {
	dir := t.TempDir()

	// 目标路径是目录：应返回 PathTypeConflictError，而不是 os.ErrExist。
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a.tif"), 0o755))

	err := WriteStreamAtomicNoOverwrite(dir, "a.tif", strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, IsPathTypeConflict(err))
}

func TestEnsureDir_FileInTheWay(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	err := EnsureDir(p)
	assert.True(t, IsPathTypeConflict(err))
}

func TestRemoveFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tif"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	removed, err := RemoveFile(dir, "a.tif")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoFileExists(t, filepath.Join(dir, "a.tif"))

	removed, err = RemoveFile(dir, "a.tif")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = RemoveFile(dir, "sub")
	assert.True(t, IsPathTypeConflict(err))
	assert.DirExists(t, filepath.Join(dir, "sub"))
}

func assertNoTemp(t *testing.T, dir, name string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "."+name+".tmp-"), "临时文件未清理：%q", e.Name())
	}
}
