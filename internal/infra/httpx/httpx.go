package httpx

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRetryMax      = 3
	defaultBackoff       = 500 * time.Millisecond
	defaultMaxRetryAfter = time.Minute
)

// Transport 是 fetch 使用的 RoundTripper：随机 UA、代理下每请求新连接，以及面向批量下载的有界重试。
//
// 重试只针对可重放请求（GET/HEAD 且无 body），触发条件：
// - 传输层错误（连接被拒、重置、响应头超时）
// - 429 与 500/502/503/504：优先按 Retry-After 等待，否则指数退避
//
// 重试耗尽时原样返回最后一次的响应或错误，状态码由调用方归类。
// body 读到一半断开不在这里处理（响应已交给调用方），由 fetch 整体重下。
type Transport struct {
	Base *http.Transport

	// RetryMax 是最大重试次数（不含首次尝试）。
	RetryMax int
	// Backoff 是第一次重试前的等待，之后每次翻倍。
	Backoff time.Duration
	// MaxRetryAfter 是愿意等待的 Retry-After 上限；服务端要求更久时不再重试，直接返回该响应。
	MaxRetryAfter time.Duration

	// DisableKeepAlives 为 true 时对每个请求设置 Close=true；真正禁用依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	retries := 0
	if replayable(req) {
		retries = max(t.RetryMax, 0)
	}

	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		resp, err := t.Base.RoundTrip(t.prepare(req))
		if attempt >= retries || ctx.Err() != nil {
			return resp, err
		}
		wait, again := t.retryDelay(attempt, resp, err)
		if !again {
			return resp, err
		}
		if resp != nil {
			discard(resp)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func replayable(req *http.Request) bool {
	return (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil
}

// prepare 克隆请求后再补 UA，不改动调用方的 request。
func (t *Transport) prepare(req *http.Request) *http.Request {
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", randomUA())
	}
	if t.DisableKeepAlives {
		r.Close = true
	}
	return r
}

func (t *Transport) retryDelay(attempt int, resp *http.Response, err error) (time.Duration, bool) {
	if err != nil {
		return t.backoff(attempt), true
	}
	if !retryableStatus(resp.StatusCode) {
		return 0, false
	}
	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
		if d > t.MaxRetryAfter {
			return 0, false
		}
		return d, true
	}
	return t.backoff(attempt), true
}

func (t *Transport) backoff(attempt int) time.Duration {
	if t.Backoff <= 0 {
		return 0
	}
	return t.Backoff << attempt
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseRetryAfter 支持两种格式：秒数，或 HTTP-date。
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	return max(at.Sub(now), 0), true
}

// discard 读掉少量剩余 body 再关闭，让连接可以复用。
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.C:
		return nil
	}
}

// NewClient 构造用于 index 页面抓取与产品下载的 HTTP client。
//
// - proxyURL 非空：必须走代理，且禁用 keep-alive（每请求新连接）
// - 产品文件体积大：超时只约束到响应头，body 的读取时长由 ctx 控制
func NewClient(proxyURL string) (*http.Client, error) {
	base := &http.Transport{
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	tr := &Transport{
		Base:          base,
		RetryMax:      defaultRetryMax,
		Backoff:       defaultBackoff,
		MaxRetryAfter: defaultMaxRetryAfter,
	}

	if proxyURL = strings.TrimSpace(proxyURL); proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(u)
		// 代理池轮换依赖每请求新连接。
		base.DisableKeepAlives = true
		tr.DisableKeepAlives = true
	}
	return &http.Client{Transport: tr}, nil
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Wget/1.21.4",
}

func randomUA() string {
	return userAgents[rand.Intn(len(userAgents))]
}
