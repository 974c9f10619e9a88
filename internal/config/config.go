package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 最短冷却时间：存储频道不可用时至少等待一分钟再重试
const minIngestCooldown = 60 * time.Second

// Config 应用程序配置
type Config struct {
	TelegramToken string  // Telegram Bot API Token
	BotUsername   string  // Bot 用户名（深链入口）；为空时通过 getMe 获取
	BotOwnerIDs   []int64 // Bot管理员ID列表
	MongoURI      string  // MongoDB连接URI
	MongoDBName   string  // MongoDB数据库名称

	StorageChannelID int64  // 存储频道 ID（可在运行时通过 /setstorage 修改）
	VerifyTargetURL  string // 验证链接的原始目标地址

	BatchWindow       time.Duration // 批次聚合窗口
	IngestDelay       time.Duration // 入库间隔
	IngestCooldown    time.Duration // 存储不可用时的冷却时间
	IngestMaxAttempts int           // 入库最大尝试次数

	GateDwell               time.Duration // 验证后的最短停留时间
	GateAllowMissingSession bool          // 确认时找不到会话是否放行

	PublishRatePerSecond int    // 发帖速率
	WebAddr              string // HTTP 监听地址，为空表示不启动
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	mongoDBName := os.Getenv("MONGO_DB_NAME")
	if mongoDBName == "" {
		mongoDBName = "filestore_bot"
	}

	verifyTarget := strings.TrimSpace(os.Getenv("VERIFY_TARGET_URL"))
	if verifyTarget == "" {
		verifyTarget = "https://google.com"
	}

	cfg := &Config{
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		BotUsername:     strings.TrimPrefix(strings.TrimSpace(os.Getenv("BOT_USERNAME")), "@"),
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDBName:     mongoDBName,
		VerifyTargetURL: verifyTarget,
		WebAddr:         strings.TrimSpace(os.Getenv("WEB_ADDR")),
	}

	// 解析BOT_OWNER_IDS
	ownerIDsStr := os.Getenv("BOT_OWNER_IDS")
	if ownerIDsStr != "" {
		var err error
		cfg.BotOwnerIDs, err = parseOwnerIDs(ownerIDsStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse BOT_OWNER_IDS: %w", err)
		}
	}

	if channelIDStr := strings.TrimSpace(os.Getenv("STORAGE_CHANNEL_ID")); channelIDStr != "" {
		channelID, err := strconv.ParseInt(channelIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse STORAGE_CHANNEL_ID: %w", err)
		}
		cfg.StorageChannelID = channelID
	}

	var err error
	if cfg.BatchWindow, err = secondsEnv("BATCH_WINDOW_SECONDS", 10, 1); err != nil {
		return nil, err
	}
	if cfg.IngestDelay, err = secondsEnv("INGEST_DELAY_SECONDS", 2, 0); err != nil {
		return nil, err
	}
	if cfg.IngestCooldown, err = secondsEnv("INGEST_COOLDOWN_SECONDS", 60, 1); err != nil {
		return nil, err
	}
	if cfg.IngestCooldown < minIngestCooldown {
		cfg.IngestCooldown = minIngestCooldown
	}
	if cfg.IngestMaxAttempts, err = intEnv("INGEST_MAX_ATTEMPTS", 5, 1); err != nil {
		return nil, err
	}
	if cfg.GateDwell, err = secondsEnv("GATE_DWELL_SECONDS", 15, 1); err != nil {
		return nil, err
	}
	if cfg.PublishRatePerSecond, err = intEnv("PUBLISH_RATE_PER_SECOND", 20, 0); err != nil {
		return nil, err
	}

	cfg.GateAllowMissingSession = true
	if allow := strings.TrimSpace(os.Getenv("GATE_ALLOW_MISSING_SESSION")); allow != "" {
		value, err := strconv.ParseBool(allow)
		if err != nil {
			return nil, fmt.Errorf("failed to parse GATE_ALLOW_MISSING_SESSION: %w", err)
		}
		cfg.GateAllowMissingSession = value
	}

	return cfg, nil
}

// Validate 检查启动必需的配置项
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	return nil
}

// parseOwnerIDs 解析逗号分隔的用户ID字符串
// 支持格式: "123456789" 或 "123456789,987654321"
func parseOwnerIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid owner ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// intEnv 读取整数环境变量，未设置时返回默认值
func intEnv(name string, def, min int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if value < min {
		return 0, fmt.Errorf("%s must be >= %d, got %d", name, min, value)
	}
	return value, nil
}

func secondsEnv(name string, def, min int) (time.Duration, error) {
	seconds, err := intEnv(name, def, min)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}
