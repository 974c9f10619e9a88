package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"filestore_bot/internal/logger"

	"github.com/go-telegram/bot"
)

const (
	maxSendAttempts       = 3
	defaultRetryDelay     = 3 * time.Second
	maxExponentialBackoff = 30 * time.Second
)

// shouldRetry 判断 Telegram API 错误是否值得重试
// 权限、参数、迁移、鉴权、404 类错误重试也不会成功
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return true
	}

	var migrate *bot.MigrateError
	if errors.As(err, &migrate) {
		return false
	}

	switch {
	case errors.Is(err, bot.ErrorForbidden),
		errors.Is(err, bot.ErrorBadRequest),
		errors.Is(err, bot.ErrorUnauthorized),
		errors.Is(err, bot.ErrorNotFound):
		return false
	}

	return true
}

// isUnreachable 目标会话不可达：Bot 被移出、无权限、会话不存在或已迁移
func isUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := migrateToChatIDFromError(err); ok {
		return true
	}
	if errors.Is(err, bot.ErrorForbidden) {
		return true
	}
	if errors.Is(err, bot.ErrorBadRequest) {
		msg := strings.ToLower(err.Error())
		return strings.Contains(msg, "chat not found") ||
			strings.Contains(msg, "not enough rights") ||
			strings.Contains(msg, "have no rights")
	}
	return false
}

// migrateToChatIDFromError 群组升级为超级群时返回新的 chat id
func migrateToChatIDFromError(err error) (int64, bool) {
	if err == nil {
		return 0, false
	}
	var migrate *bot.MigrateError
	if !errors.As(err, &migrate) || migrate.MigrateToChatID == 0 {
		return 0, false
	}
	return int64(migrate.MigrateToChatID), true
}

// calculateRetryDelay 计算第 attempt 次失败后的等待时间
// 429 按 RetryAfter 加抖动，其余错误指数退避
func calculateRetryDelay(err error, attempt int, chatID int64) time.Duration {
	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		base := defaultRetryDelay
		if tooMany.RetryAfter > 0 {
			base = time.Duration(tooMany.RetryAfter) * time.Second
		}
		return base + retryJitter(chatID)
	}

	if attempt < 1 {
		attempt = 1
	}
	delay := time.Second << (attempt - 1)
	if delay <= 0 || delay > maxExponentialBackoff {
		return maxExponentialBackoff
	}
	return delay
}

// retryJitter 按会话错开重试时间，避免同时重试
func retryJitter(chatID int64) time.Duration {
	if chatID < 0 {
		chatID = -chatID
	}
	return time.Duration(chatID%5+1) * 200 * time.Millisecond
}

// withRetry 执行 API 调用，可重试错误最多尝试 maxSendAttempts 次
func withRetry(ctx context.Context, sleep func(context.Context, time.Duration) error, chatID int64, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		err = fn()
		if err == nil || !shouldRetry(err) || attempt == maxSendAttempts {
			return err
		}

		delay := calculateRetryDelay(err, attempt, chatID)
		logger.L().Warnf("%s attempt %d failed for chat %d: %v, retrying in %s", op, attempt, chatID, err, delay)
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
