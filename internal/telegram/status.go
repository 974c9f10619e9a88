package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// buildStatsMessage 构建 /stats 命令的响应文本
func (b *Bot) buildStatsMessage(ctx context.Context) string {
	lines := []string{"📊 <b>Bot 统计</b>", ""}
	if b.username != "" {
		lines = append(lines, fmt.Sprintf("🤖 Bot: @%s", escape(b.username)))
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if total, err := b.owners.CountAll(queryCtx); err == nil {
		lines = append(lines, fmt.Sprintf("👥 用户总数: %d", total))
	} else {
		lines = append(lines, fmt.Sprintf("👥 用户总数: ⚠️ %v", err))
	}

	if storageOwners, err := b.owners.CountStorageOwners(queryCtx); err == nil {
		lines = append(lines, fmt.Sprintf("🗂 已配置频道用户: %d", storageOwners))
	} else {
		lines = append(lines, fmt.Sprintf("🗂 已配置频道用户: ⚠️ %v", err))
	}

	if files, err := b.files.CountAll(queryCtx); err == nil {
		lines = append(lines, fmt.Sprintf("📁 文件总数: %d", files))
	} else {
		lines = append(lines, fmt.Sprintf("📁 文件总数: ⚠️ %v", err))
	}

	lines = append(lines, fmt.Sprintf("📥 入库队列: %d", b.queue.Len()))

	if storageID := b.storage.StorageChannel(); storageID != 0 {
		lines = append(lines, fmt.Sprintf("💾 存储频道: <code>%d</code>", storageID))
	} else {
		lines = append(lines, "💾 存储频道: ⚠️ 未设置")
	}

	if !b.startTime.IsZero() {
		lines = append(lines, fmt.Sprintf("⏱ 运行时间: %s", formatDuration(time.Since(b.startTime))))
	}

	if b.workerPool != nil {
		stats := b.workerPool.Stats()
		lines = append(lines, fmt.Sprintf("🛠 工作池: %d 个协程，队列 %d/%d", stats.Workers, stats.QueueLength, stats.QueueCapacity))
	}

	if b.db != nil {
		if err := b.db.Client().Ping(queryCtx, nil); err != nil {
			lines = append(lines, fmt.Sprintf("🗄 数据库: ⚠️ %v", err))
		} else {
			lines = append(lines, "🗄 数据库: ✅ 正常")
		}
	}

	return strings.Join(lines, "\n")
}

// formatDuration 将持续时间格式化为人类可读的字符串
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d天", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d小时", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d分钟", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d秒", seconds))
	}

	return strings.Join(parts, " ")
}
