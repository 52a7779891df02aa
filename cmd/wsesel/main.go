package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/wsesel/internal/app/run"
	"github.com/John-Robertt/wsesel/internal/config"
	"github.com/John-Robertt/wsesel/internal/domain"
	"github.com/John-Robertt/wsesel/internal/fetch"
	"github.com/John-Robertt/wsesel/internal/infra/cache"
	"github.com/John-Robertt/wsesel/internal/infra/httpx"
	"github.com/John-Robertt/wsesel/internal/manifest"
)

const (
	reportFile      = "report.json"
	fetchReportFile = "fetch-report.json"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// exitError 携带非 0 退出码；cobra 自身的参数错误不会是该类型（退出码 2）。
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// 用法写 stderr：stdout 只留给报告。
	fmt.Fprintf(stderr, "参数错误：%v\n\n%s", err, root.UsageString())
	return 2
}

type globalFlags struct {
	logLevel string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	gf := &globalFlags{}
	root := &cobra.Command{
		Use:           "wsesel",
		Short:         "按 identity 分组 WSE 产品并把最高等级的版本集中到 out/",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "日志级别：trace|debug|info|warn|error（默认读配置，最终默认 info）")

	root.AddCommand(newSelectCmd(gf, stdout, stderr))
	root.AddCommand(newFetchCmd(gf, stdout, stderr))
	return root
}

func newSelectCmd(gf *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var (
		apply       bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "select [path]",
		Short: "分组、选择并复制（默认 dry-run）",
		Long: `在 <path> 的每个子目录内按 identity 分组，选出等级最高的产品文件，
apply 时连同伴随文件（.tfw）一起复制到 <out_dir>/<subfolder>/。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := config.CLIArgs{
				Apply:          apply,
				ApplySet:       cmd.Flags().Changed("apply"),
				Concurrency:    concurrency,
				ConcurrencySet: cmd.Flags().Changed("concurrency"),
				LogLevel:       gf.logLevel,
			}
			if len(args) == 1 {
				cli.Path = args[0]
			}
			if code := runSelect(cmd.Context(), cli, stdout, stderr); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "执行复制并写入 cache/report.json；支持 --apply=false 覆盖配置中的 apply: true")
	cmd.Flags().IntVar(&concurrency, "concurrency", config.DefaultConcurrency, "并行处理的子目录数（1..32）")
	return cmd
}

func newFetchCmd(gf *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "fetch [path]",
		Short: "从 fetch.sources 下载产品文件到 <path>/<subfolder>/（默认 dry-run）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := config.CLIArgs{
				Apply:    apply,
				ApplySet: cmd.Flags().Changed("apply"),
				LogLevel: gf.logLevel,
			}
			if len(args) == 1 {
				cli.Path = args[0]
			}
			if code := runFetch(cmd.Context(), cli, stdout, stderr); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "执行下载（已存在的文件不会被覆盖）")
	return cmd
}

func runSelect(ctx context.Context, cli config.CLIArgs, stdout, stderr io.Writer) int {
	log := newLogger(stderr)

	cwd, err := os.Getwd()
	if err != nil {
		log.WithError(err).Error("读取当前目录失败")
		return 1
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		log.WithError(err).Error("加载配置失败")
		emitReport(stdout, stderr, reportForConfigError(cwd, cli, err))
		return 1
	}
	log.SetLevel(eff.LogLevel)

	obs := newProgressUI(log)
	rr := run.ExecuteWithObserver(ctx, eff, obs)
	obs.Close()

	// apply：必须写入 <path>/cache/report.json 与 selection.csv；dry-run 禁止落盘。
	if eff.Apply {
		if err := writeSelectArtifacts(eff.Path, rr); err != nil {
			log.WithError(err).Error("写入 cache 产物失败")
			emitReport(stdout, stderr, rr)
			return 1
		}
	}

	emitReport(stdout, stderr, rr)
	emitLocations(log, eff)
	if rr.Summary.Failed > 0 {
		return 1
	}
	return 0
}

func runFetch(ctx context.Context, cli config.CLIArgs, stdout, stderr io.Writer) int {
	log := newLogger(stderr)

	cwd, err := os.Getwd()
	if err != nil {
		log.WithError(err).Error("读取当前目录失败")
		return 1
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		log.WithError(err).Error("加载配置失败")
		emitFetchReport(stdout, stderr, fetchReportForConfigError(cwd, cli, err))
		return 1
	}
	log.SetLevel(eff.LogLevel)

	if len(eff.FetchSources) == 0 {
		log.Warn("配置中没有 fetch.sources，无事可做")
	}

	c, err := httpx.NewClient(eff.FetchProxyURL)
	if err != nil {
		log.WithError(err).Error("初始化 HTTP client 失败")
		return 1
	}

	log.WithFields(logrus.Fields{
		"path":    eff.Path,
		"mode":    modeName(eff.Apply),
		"sources": len(eff.FetchSources),
		"include": eff.FetchInclude,
		"proxy":   formatProxy(eff.FetchProxyURL),
	}).Info("wsesel fetch")

	store := cache.New(eff.Path, !eff.Apply)
	fr := fetch.Execute(ctx, eff, c, store, log)

	if eff.Apply {
		b, err := marshalReport(fr)
		if err == nil {
			err = store.WriteArtifact(fetchReportFile, b)
		}
		if err != nil {
			log.WithError(err).Error("写入 fetch-report.json 失败")
			emitFetchReport(stdout, stderr, fr)
			return 1
		}
	}

	emitFetchReport(stdout, stderr, fr)
	if fr.Summary.Failed > 0 {
		return 1
	}
	return 0
}

func newLogger(w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
		ForceColors:     isTTY(w),
		DisableColors:   !isTTY(w),
	})
	return log
}

func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	summary := fmt.Sprintf("完成：subfolders=%d groups=%d staged=%d removed=%d unmatched=%d missing_companions=%d failed=%d",
		rr.Summary.Subfolders, rr.Summary.Groups, rr.Summary.Staged, rr.Summary.Removed,
		rr.Summary.Unmatched, rr.Summary.MissingCompanions, rr.Summary.Failed,
	)

	if isTTY(stdout) {
		fmt.Fprintln(stdout, summary)
		for _, sr := range rr.Subfolders {
			if sr.Status != domain.StatusFailed {
				continue
			}
			key := sr.Subfolder
			if key == "" {
				key = "<path>"
			}
			fmt.Fprintf(stderr, "%s %s: %s\n", key, sr.ErrorCode, sr.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	_ = json.NewEncoder(stdout).Encode(rr)
	fmt.Fprintln(stderr, summary)
}

func emitFetchReport(stdout, stderr io.Writer, fr domain.FetchReport) {
	summary := fmt.Sprintf("完成：planned=%d downloaded=%d exists=%d failed=%d",
		fr.Summary.Planned, fr.Summary.Downloaded, fr.Summary.Exists, fr.Summary.Failed,
	)

	if isTTY(stdout) {
		fmt.Fprintln(stdout, summary)
		for _, it := range fr.Items {
			if it.Status != domain.FetchStatusFailed {
				continue
			}
			key := it.URL
			if key == "" {
				key = it.Subfolder
			}
			fmt.Fprintf(stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
		}
		return
	}

	_ = json.NewEncoder(stdout).Encode(fr)
	fmt.Fprintln(stderr, summary)
}

func reportForConfigError(cwd string, cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Path:       absOrRaw(cwd),
		DryRun:     !(cli.ApplySet && cli.Apply),
		StartedAt:  now,
		FinishedAt: now,
		Subfolders: []domain.SubfolderResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
			Items:     []domain.ItemResult{},
		}},
	}
	rr.Finalize()
	return rr
}

func fetchReportForConfigError(cwd string, cli config.CLIArgs, err error) domain.FetchReport {
	now := time.Now().UTC()
	fr := domain.FetchReport{
		Path:       absOrRaw(cwd),
		DryRun:     !(cli.ApplySet && cli.Apply),
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.FetchItem{{
			Status:    domain.FetchStatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	fr.Finalize()
	return fr
}

func writeSelectArtifacts(root string, rr domain.RunReport) error {
	store := cache.New(root, false)

	b, err := marshalReport(rr)
	if err != nil {
		return err
	}
	if err := store.WriteArtifact(reportFile, b); err != nil {
		return err
	}

	csv, err := manifest.Encode(rr)
	if err != nil {
		return err
	}
	return store.WriteArtifact(manifest.FileName, csv)
}

func marshalReport(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func absOrRaw(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func emitLocations(log logrus.FieldLogger, eff config.EffectiveConfig) {
	// 降低“完成后不知道产物在哪”的摩擦，且不影响 stdout JSON 契约。
	fields := logrus.Fields{"out": eff.OutDir}
	if eff.Apply {
		fields["report"] = filepath.Join(eff.Path, "cache", reportFile)
		fields["manifest"] = filepath.Join(eff.Path, "cache", manifest.FileName)
	}
	log.WithFields(fields).Info("产物位置")
}
