package stage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/wsesel/internal/domain"
	"github.com/John-Robertt/wsesel/internal/infra/fsx"
)

func TestStage_CopiesPrimaryAndCompanion(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out", "2019")
	write(t, filepath.Join(src, "C_01_wse.tif"), "tif")
	write(t, filepath.Join(src, "C_01_wse.tfw"), "tfw")

	res, err := Stage("C_01_wse.tif", src, dst, ".tfw")
	require.NoError(t, err)
	assert.True(t, res.CopiedPrimary)
	assert.Equal(t, domain.CompanionFound, res.Companion)
	assert.Equal(t, "C_01_wse.tfw", res.CompanionName)

	assertContent(t, filepath.Join(dst, "C_01_wse.tif"), "tif")
	assertContent(t, filepath.Join(dst, "C_01_wse.tfw"), "tfw")

	// 源文件保持不变。
	assertContent(t, filepath.Join(src, "C_01_wse.tif"), "tif")
	assertContent(t, filepath.Join(src, "C_01_wse.tfw"), "tfw")
}

func TestStage_MissingCompanionIsWarningOnly(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	write(t, filepath.Join(src, "D_02_wse.tif"), "tif")

	res, err := Stage("D_02_wse.tif", src, dst, ".tfw")
	require.NoError(t, err)
	assert.True(t, res.CopiedPrimary)
	assert.Equal(t, domain.CompanionMissing, res.Companion)

	assertContent(t, filepath.Join(dst, "D_02_wse.tif"), "tif")
	_, statErr := os.Stat(filepath.Join(dst, "D_02_wse.tfw"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStage_RemovesStaleCompanion(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	write(t, filepath.Join(src, "D_02_wse.tif"), "tif")
	write(t, filepath.Join(dst, "D_02_wse.tfw"), "old")

	res, err := Stage("D_02_wse.tif", src, dst, ".tfw")
	require.NoError(t, err)
	assert.Equal(t, domain.CompanionMissing, res.Companion)
	assert.NoFileExists(t, filepath.Join(dst, "D_02_wse.tfw"))
}

func TestPrune(t *testing.T) {
	dst := t.TempDir()
	write(t, filepath.Join(dst, "A_01_wse.tif"), "a1")
	write(t, filepath.Join(dst, "A_01_wse.tfw"), "a1w")
	write(t, filepath.Join(dst, "A_03_wse.tif"), "a3")

	removed, err := Prune(dst, []string{"A_01_wse.tif", "A_01_wse.tfw", "A_02_wse.tif"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A_01_wse.tif", "A_01_wse.tfw"}, removed)
	assert.NoFileExists(t, filepath.Join(dst, "A_01_wse.tif"))
	assertContent(t, filepath.Join(dst, "A_03_wse.tif"), "a3")
}

func TestStage_ReplacesExistingTarget(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	write(t, filepath.Join(src, "A_03_wse.tif"), "new")
	write(t, filepath.Join(dst, "A_03_wse.tif"), "old")

	_, err := Stage("A_03_wse.tif", src, dst, ".tfw")
	require.NoError(t, err)
	assertContent(t, filepath.Join(dst, "A_03_wse.tif"), "new")
}

func TestStage_DestinationIsFile(t *testing.T) {
	src := t.TempDir()
	write(t, filepath.Join(src, "A_01_wse.tif"), "x")
	dst := filepath.Join(t.TempDir(), "out")
	write(t, dst, "not a dir")

	res, err := Stage("A_01_wse.tif", src, dst, ".tfw")
	require.Error(t, err)
	assert.False(t, res.CopiedPrimary)
	assert.True(t, fsx.IsPathTypeConflict(err))
}

func TestStage_MissingPrimaryFails(t *testing.T) {
	res, err := Stage("gone.tif", t.TempDir(), t.TempDir(), ".tfw")
	require.Error(t, err)
	assert.False(t, res.CopiedPrimary)
}

func TestCompanionName(t *testing.T) {
	assert.Equal(t, "C_01_wse.tfw", CompanionName("C_01_wse.tif", ".tfw"))
	assert.Equal(t, "C_01_wse_laea.tfw", CompanionName("C_01_wse_laea.TIF", ".tfw"))
}

func TestCompanionStatusOf_DirIsNotCompanion(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(src, "A_01_wse.tfw"), 0o755))

	st, err := CompanionStatusOf("A_01_wse.tif", src, ".tfw")
	require.NoError(t, err)
	assert.Equal(t, domain.CompanionMissing, st)
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func assertContent(t *testing.T, path, want string) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(b))
}
