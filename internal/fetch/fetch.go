// Package fetch 从远端目录列表页下载产品文件到 <path>/<subfolder>/。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/John-Robertt/wsesel/internal/config"
	"github.com/John-Robertt/wsesel/internal/domain"
	"github.com/John-Robertt/wsesel/internal/infra/cache"
	"github.com/John-Robertt/wsesel/internal/infra/fsx"
)

// Execute 执行一次 fetch（dry-run/apply），返回对外稳定的 FetchReport。
//
// - 单个 source 列表失败只产生一条 failed item，不影响其他 source
// - 本地已存在的文件记为 exists，永不覆盖
// - dry-run 不写任何文件（index 优先读缓存）；apply 刷新 index 缓存并并发下载
func Execute(ctx context.Context, eff config.EffectiveConfig, c *http.Client, store cache.Store, log logrus.FieldLogger) domain.FetchReport {
	if log == nil {
		log = logrus.StandardLogger()
	}

	rr := domain.FetchReport{
		RunID:     uuid.NewString(),
		Path:      eff.Path,
		DryRun:    !eff.Apply,
		StartedAt: time.Now().UTC(),
		Items:     []domain.FetchItem{},
	}

	lim := newLimiter(eff.FetchRatePerSec)

	type job struct {
		idx int
		dir string
	}
	var jobs []job

	for _, src := range eff.FetchSources {
		slog := log.WithFields(logrus.Fields{"subfolder": src.Subfolder, "url": src.URL})

		links, err := listSource(ctx, c, lim, store, src, eff.Apply)
		if err != nil {
			slog.WithError(err).Warn("index 获取失败")
			rr.Items = append(rr.Items, domain.FetchItem{
				Subfolder: src.Subfolder,
				URL:       src.URL,
				Status:    domain.FetchStatusFailed,
				ErrorCode: classify(err),
				ErrorMsg:  err.Error(),
			})
			continue
		}
		links = Filter(links, eff.FetchInclude)
		slog.WithField("files", len(links)).Debug("index 解析完成")

		dir := filepath.Join(eff.Path, src.Subfolder)
		for _, l := range links {
			it := domain.FetchItem{Subfolder: src.Subfolder, Name: l.Name, URL: l.URL, Status: domain.FetchStatusPlanned}
			if exists(filepath.Join(dir, l.Name)) {
				it.Status = domain.FetchStatusExists
			}
			rr.Items = append(rr.Items, it)
			if it.Status == domain.FetchStatusPlanned && eff.Apply {
				jobs = append(jobs, job{idx: len(rr.Items) - 1, dir: dir})
			}
		}
	}

	if len(jobs) > 0 {
		// 每个 job 只写自己的 rr.Items[idx]，无需加锁。
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(eff.Concurrency, 1))
		for _, j := range jobs {
			j := j
			g.Go(func() error {
				it := &rr.Items[j.idx]
				started := time.Now()
				err := download(gctx, c, lim, it.URL, j.dir, it.Name)
				switch {
				case err == nil:
					it.Status = domain.FetchStatusDownloaded
				case errors.Is(err, os.ErrExist):
					it.Status = domain.FetchStatusExists
				default:
					it.Status = domain.FetchStatusFailed
					it.ErrorCode = classify(err)
					it.ErrorMsg = err.Error()
				}
				log.WithFields(logrus.Fields{
					"subfolder": it.Subfolder,
					"name":      it.Name,
					"status":    it.Status,
					"dur":       time.Since(started).Round(time.Millisecond),
				}).Info("download")
				// 单文件失败不取消其他下载。
				return nil
			})
		}
		_ = g.Wait()
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

// newLimiter：perSec<=0 表示不限速。
func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}

func listSource(ctx context.Context, c *http.Client, lim *rate.Limiter, store cache.Store, src config.SourceConfig, apply bool) ([]Link, error) {
	// dry-run：缓存命中则不打网络。
	if !apply {
		if b, ok, err := store.ReadIndexHTML(src.Subfolder, src.URL); err == nil && ok {
			if links, perr := ParseIndex(b, src.URL); perr == nil {
				return links, nil
			}
			// 坏缓存：忽略，走网络。
		}
	}

	b, err := get(ctx, c, lim, src.URL)
	if err != nil {
		return nil, err
	}
	links, err := ParseIndex(b, src.URL)
	if err != nil {
		return nil, &parseError{err: err}
	}
	if apply && !store.ReadOnly {
		_ = store.WriteIndexHTML(src.Subfolder, src.URL, b)
	}
	return links, nil
}

func get(ctx context.Context, c *http.Client, lim *rate.Limiter, u string) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 为空")
	}
	if err := lim.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// downloadAttempts 是 body 读到一半断开时的整体尝试次数（状态码层面的重试由 httpx 负责）。
const downloadAttempts = 3

// download 把 u 的 body 流式写入 dir/name（原子、不覆盖）。
func download(ctx context.Context, c *http.Client, lim *rate.Limiter, u, dir, name string) error {
	if c == nil {
		return errors.New("http client 为空")
	}
	var err error
	for i := 0; i < downloadAttempts; i++ {
		err = downloadOnce(ctx, c, lim, u, dir, name)
		var nre *netReadError
		if !errors.As(err, &nre) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func downloadOnce(ctx context.Context, c *http.Client, lim *rate.Limiter, u, dir, name string) error {
	// 先判存在：避免对已存在的文件发请求。
	if exists(filepath.Join(dir, name)) {
		return os.ErrExist
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{URL: u, StatusCode: resp.StatusCode}
	}

	body := &trackedReader{r: resp.Body}
	if err := fsx.WriteStreamAtomicNoOverwrite(dir, name, body); err != nil {
		if body.err != nil {
			// 读 body 失败是网络问题，不是本地 I/O 问题。
			return &netReadError{err: body.err}
		}
		return err
	}
	return nil
}

func exists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// classify 把错误归类为 report 中的 error_code。
func classify(err error) string {
	var pe *parseError
	var oe *fsx.OpError
	var fe *fs.PathError
	switch {
	case errors.As(err, &pe):
		return domain.ErrCodeParseFailed
	case fsx.IsPathTypeConflict(err):
		return domain.ErrCodeTargetConflict
	case errors.As(err, &oe), errors.As(err, &fe):
		return domain.ErrCodeIOFailed
	default:
		return domain.ErrCodeFetchFailed
	}
}

type parseError struct{ err error }

func (e *parseError) Error() string { return fmt.Sprintf("解析 index 失败：%v", e.err) }
func (e *parseError) Unwrap() error { return e.err }

type netReadError struct{ err error }

func (e *netReadError) Error() string { return fmt.Sprintf("读取响应失败：%v", e.err) }
func (e *netReadError) Unwrap() error { return e.err }

type trackedReader struct {
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
