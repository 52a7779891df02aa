package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/wsesel/internal/domain"
)

func seed(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(root, filepath.FromSlash(n))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(n), 0o644))
	}
}

func TestCLI_NoTTY_StdoutOnlyRunReportJSON(t *testing.T) {
	// 锁定对外契约：stdout 非 TTY 时只能输出一个 RunReport JSON（日志必须走 stderr）。
	root := t.TempDir()
	seed(t, root, "2019/A_01_wse.tif", "2019/A_02_wse.tif", "2019/A_02_wse.tfw")

	wd, err := os.Getwd()
	require.NoError(t, err)
	repoRoot := filepath.Clean(filepath.Join(wd, "..", ".."))

	cmd := exec.Command("go", "run", "./cmd/wsesel", "select", root)
	cmd.Dir = repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Run(), "stderr=%s\nstdout=%s", stderr.String(), stdout.String())

	var rr domain.RunReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rr), "stdout=%q", stdout.String())
	assert.True(t, rr.DryRun)
	assert.Equal(t, 1, rr.Summary.Groups)

	assert.NotContains(t, stdout.String(), "wsesel select")
	assert.Contains(t, stderr.String(), "完成：subfolders=1")
}

func TestExecute_ApplyWritesArtifacts(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "2019/A_01_wse.tif", "2019/A_03_wse.tif", "2020/B_01_wse.tif")

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"select", root, "--apply", "--concurrency", "2"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	var rr domain.RunReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rr))
	assert.False(t, rr.DryRun)
	assert.Equal(t, 2, rr.Summary.Staged)

	assert.FileExists(t, filepath.Join(root, "out", "2019", "A_03_wse.tif"))
	assert.NoFileExists(t, filepath.Join(root, "out", "2019", "A_01_wse.tif"))

	b, err := os.ReadFile(filepath.Join(root, "cache", "report.json"))
	require.NoError(t, err)
	var saved domain.RunReport
	require.NoError(t, json.Unmarshal(b, &saved))
	assert.Equal(t, rr.RunID, saved.RunID)

	csv, err := os.ReadFile(filepath.Join(root, "cache", "selection.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	assert.Len(t, lines, 3)
}

func TestExecute_DryRunWritesNoArtifacts(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "2019/A_01_wse.tif")

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"select", root}, &stdout, &stderr)
	require.Equal(t, 0, code)

	_, err := os.Stat(filepath.Join(root, "cache"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "out"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecute_ApplyFalseOverridesConfig(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "2019/A_01_wse.tif")
	require.NoError(t, os.WriteFile(filepath.Join(root, "wsesel.yaml"), []byte("apply: true\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"select", root, "--apply=false"}, &stdout, &stderr)
	require.Equal(t, 0, code)

	var rr domain.RunReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rr))
	assert.True(t, rr.DryRun)
}

func TestExecute_FailedSubfolderExitsOne(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "2019/A_01_wse.tif", "out/2019")

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"select", root, "--apply"}, &stdout, &stderr)
	assert.Equal(t, 1, code)

	var rr domain.RunReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rr))
	assert.Equal(t, 1, rr.Summary.Failed)
}

func TestExecute_UsageErrorsExitTwo(t *testing.T) {
	for _, args := range [][]string{
		{"select", "a", "b"},
		{"select", "--bogus"},
		{"nope"},
	} {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 2, execute(context.Background(), args, &stdout, &stderr), "%v", args)
		assert.Empty(t, stdout.String())
	}
}

func TestExecute_ConfigNotFoundReport(t *testing.T) {
	// 包目录下没有 wsesel.yaml，且未提供 path。
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"select"}, &stdout, &stderr)
	assert.Equal(t, 1, code)

	var rr domain.RunReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rr))
	require.Len(t, rr.Subfolders, 1)
	assert.Equal(t, domain.ErrCodeConfigNotFound, rr.Subfolders[0].ErrorCode)
}
