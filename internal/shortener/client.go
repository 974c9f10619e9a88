// Package shortener 调用用户配置的短链服务，失败时回退为原链接
package shortener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"filestore_bot/internal/logger"
	"filestore_bot/internal/metrics"
	"filestore_bot/internal/telegram/models"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Options 熔断参数
type Options struct {
	// FailureThreshold 连续失败多少次后打开熔断
	FailureThreshold uint32
	// OpenTimeout 熔断打开后多久尝试恢复
	OpenTimeout time.Duration
}

// Client 短链客户端，每个短链域名一个熔断器
type Client struct {
	http *http.Client
	opts Options

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[string]
}

// rejectedError 短链服务正常响应但拒绝了请求（例如 API Key 无效），不计入熔断
type rejectedError struct {
	reason string
}

func (e *rejectedError) Error() string {
	return "shortener rejected request: " + e.reason
}

type apiResponse struct {
	Status       string `json:"status"`
	ShortenedURL string `json:"shortenedUrl"`
	Message      string `json:"message"`
}

// New 创建短链客户端
func New(client *http.Client, opts Options) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = time.Minute
	}
	return &Client{
		http:     client,
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker[string]),
	}
}

// Shorten 生成短链；未启用、缺少凭证、请求失败或熔断打开时返回 target
func (c *Client) Shorten(ctx context.Context, target string, settings models.ShortenerSettings) string {
	if !settings.Usable() {
		return target
	}

	domain := strings.TrimSpace(settings.Domain)
	short, err := c.breaker(domain).Execute(func() (string, error) {
		return c.request(ctx, domain, strings.TrimSpace(settings.APIKey), target)
	})
	if err != nil {
		var rejected *rejectedError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.ShortenerRequests.WithLabelValues("rejected").Inc()
			logger.L().Debugf("Shortener circuit open, using original link: domain=%s", domain)
		case errors.As(err, &rejected):
			metrics.ShortenerRequests.WithLabelValues("failure").Inc()
			logger.L().Warnf("Shortener refused request: domain=%s, reason=%s", domain, rejected.reason)
		default:
			metrics.ShortenerRequests.WithLabelValues("failure").Inc()
			logger.L().Errorf("Shortener request failed: domain=%s, err=%v", domain, err)
		}
		metrics.ShortenerRequests.WithLabelValues("fallback").Inc()
		return target
	}

	metrics.ShortenerRequests.WithLabelValues("success").Inc()
	return short
}

func (c *Client) request(ctx context.Context, domain, apiKey, target string) (string, error) {
	endpoint := domain
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/") + "/api?" + url.Values{
		"api": {apiKey},
		"url": {target},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request shortener: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("shortener returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &rejectedError{reason: resp.Status}
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if body.Status != "success" || body.ShortenedURL == "" {
		if body.Message == "" {
			body.Message = "unknown error"
		}
		return "", &rejectedError{reason: body.Message}
	}
	return body.ShortenedURL, nil
}

func (c *Client) breaker(domain string) *gobreaker.CircuitBreaker[string] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[domain]; ok {
		return cb
	}

	threshold := c.opts.FailureThreshold
	metrics.ShortenerBreakerState.WithLabelValues(domain).Set(0)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        domain,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     c.opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// 单个用户的凭证错误不能影响同域名下的其他用户
		IsSuccessful: func(err error) bool {
			var rejected *rejectedError
			return err == nil || errors.As(err, &rejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.L().Warnf("Shortener circuit state changed: domain=%s, from=%s, to=%s", name, from, to)
			metrics.ShortenerBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	c.breakers[domain] = cb
	return cb
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
