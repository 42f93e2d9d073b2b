package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"dropwin/backend/internal/cache"
	"dropwin/backend/internal/config"
	"dropwin/backend/internal/domain"
	"dropwin/backend/internal/monitoring"
)

// 服务商 API 动作
const (
	actionGetMessages   = "getMessages"
	actionReadMessage   = "readMessage"
	actionGetDomainList = "getDomainList"
)

// 单次响应体读取上限
const maxResponseBytes = 10 << 20

// Client 1secmail 兼容服务商的 HTTP 适配器
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	group      singleflight.Group
	readCache  *cache.LocalCache
	cacheTTL   time.Duration
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

// Option 客户端可选配置
type Option func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics 注入监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger 注入日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New 创建服务商客户端
func New(cfg config.ProviderConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		cacheTTL:   cfg.ReadCacheTTL,
		logger:     zap.NewNop(),
	}
	if cfg.ReadCacheTTL > 0 {
		c.readCache = cache.NewLocalCache(cfg.ReadCacheSize, cfg.ReadCacheTTL)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close 释放后台资源
func (c *Client) Close() {
	if c.readCache != nil {
		c.readCache.Stop()
	}
}

// ListMessages 获取邮箱中的邮件列表
//
// 任何失败（地址格式、超时、网络、非 2xx、响应格式错误）都降级为空列表，
// 失败原因记录在 ListResult.Failure 中，不作为错误返回。
func (c *Client) ListMessages(ctx context.Context, email string) ListResult {
	addr, err := domain.ParseAddress(email)
	if err != nil {
		return c.listFailure(email, err)
	}

	// 合并后的请求不随任一调用方取消，仍受 c.timeout 约束；每个调用方只等待自己的 ctx
	callCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(addr.Email, func() (any, error) {
		var raw []rawMessage
		if err := c.call(callCtx, actionGetMessages, url.Values{
			"login":  {addr.Username},
			"domain": {addr.Domain},
		}, &raw); err != nil {
			return nil, err
		}

		messages := make([]domain.Message, 0, len(raw))
		for _, item := range raw {
			messages = append(messages, normalize(item))
		}
		return messages, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return c.listFailure(addr.Email, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return c.listFailure(addr.Email, res.Err)
	}
	v, shared := res.Val, res.Shared

	messages := v.([]domain.Message)
	c.logger.Debug("listed messages",
		zap.String("email", addr.Email),
		zap.Int("count", len(messages)),
		zap.Bool("shared", shared),
	)
	// 合并请求的调用方共享同一切片，返回副本
	return ListResult{Messages: slices.Clone(messages)}
}

func (c *Client) listFailure(email string, cause error) ListResult {
	failure := fmt.Errorf("%w: %w", domain.ErrListFetch, cause)
	c.logger.Warn("list messages failed, degrading to empty list",
		zap.String("email", email),
		zap.Error(cause),
	)
	return ListResult{Messages: []domain.Message{}, Failure: failure}
}

// ReadMessage 获取单封邮件详情
//
// 失败时返回包装了 domain.ErrReadFetch 的错误；服务商明确没有该邮件时返回 domain.ErrMessageNotFound。
func (c *Client) ReadMessage(ctx context.Context, email string, id int64) (*domain.Message, error) {
	addr, err := domain.ParseAddress(email)
	if err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, domain.ErrInvalidMessageID
	}

	cacheKey := addr.Email + "#" + strconv.FormatInt(id, 10)
	if c.readCache != nil {
		if cached, ok := c.readCache.Get(cacheKey); ok {
			msg := cached.(domain.Message)
			return &msg, nil
		}
	}

	var raw *rawMessage
	err = c.call(ctx, actionReadMessage, url.Values{
		"login":  {addr.Username},
		"domain": {addr.Domain},
		"id":     {strconv.FormatInt(id, 10)},
	}, &raw)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return nil, err
		}
		c.logger.Error("read message failed",
			zap.String("email", addr.Email),
			zap.Int64("id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrReadFetch, err)
	}
	if raw == nil || raw.ID == 0 {
		return nil, domain.ErrMessageNotFound
	}

	msg := normalizeDetail(*raw)
	if c.readCache != nil {
		c.readCache.Set(cacheKey, msg, c.cacheTTL)
	}
	return &msg, nil
}

// Ping 检查服务商是否可达
func (c *Client) Ping(ctx context.Context) error {
	var domains []string
	return c.call(ctx, actionGetDomainList, url.Values{}, &domains)
}

// call 执行一次 GET 请求并将 JSON 响应解码到 out
func (c *Client) call(ctx context.Context, action string, params url.Values, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordProviderRequest(action, err, time.Since(start))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid provider base url: %w", err)
	}
	params.Set("action", action)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s read body: %w", action, err)
	}

	if resp.StatusCode == http.StatusNotFound && action == actionReadMessage {
		return domain.ErrMessageNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s unexpected status %d", action, resp.StatusCode)
	}

	trimmed := bytes.TrimSpace(body)
	// 服务商对不存在的邮件返回纯文本 "Message not found"
	if action == actionReadMessage && (len(trimmed) == 0 || isNotFoundText(trimmed)) {
		return domain.ErrMessageNotFound
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%s decode response: %w", action, err)
	}
	return nil
}

func isNotFoundText(body []byte) bool {
	if bytes.HasPrefix(body, []byte("{")) || bytes.HasPrefix(body, []byte("[")) {
		return false
	}
	return bytes.Contains(bytes.ToLower(body), []byte("not found"))
}
