package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"filestore_bot/internal/config"
	"filestore_bot/internal/gate"
	"filestore_bot/internal/linkcodec"
	"filestore_bot/internal/logger"
	"filestore_bot/internal/pipeline"
	"filestore_bot/internal/telegram/repository"

	"github.com/go-telegram/bot"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/time/rate"
)

// Config Telegram Bot 配置
type Config struct {
	Token         string        // Bot Token
	Username      string        // 深链使用的 Bot 用户名，为空时通过 getMe 获取
	OperatorIDs   []int64       // 运维账号 IDs
	Debug         bool          // 是否开启调试模式
	Workers       int           // 用户命令工作池协程数
	QueueSize     int           // 用户命令工作池队列长度
	RouteCacheTTL time.Duration // 索引频道路由缓存时间
}

// AccessGate 文件领取门禁
type AccessGate interface {
	Request(ctx context.Context, userID int64, token string) (*gate.Outcome, error)
	Confirm(ctx context.Context, userID int64, token string) (*gate.Outcome, error)
	Retry(ctx context.Context, userID int64, token string) (*gate.Outcome, error)
}

var _ AccessGate = (*gate.Gate)(nil)

// Deps Bot 依赖的存储与入库队列
type Deps struct {
	DB      *mongo.Database
	Files   repository.FileRepository
	Owners  repository.OwnerRepository
	Storage *StorageChannel
	Queue   *pipeline.Queue
}

// Bot Telegram Bot 服务
type Bot struct {
	bot         *bot.Bot
	messenger   *Messenger
	username    string
	botID       int64
	operatorIDs []int64

	db      *mongo.Database
	files   repository.FileRepository
	owners  repository.OwnerRepository
	storage *StorageChannel
	queue   *pipeline.Queue
	gate    AccessGate

	routes      *ownerRouteCache
	workerPool  *WorkerPool
	broadcasts  *rate.Limiter
	broadcastMu sync.Mutex
	startTime   time.Time
}

// New 创建 Telegram Bot 实例
func New(cfg Config, deps Deps) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}
	if deps.Queue == nil || deps.Storage == nil || deps.Files == nil || deps.Owners == nil {
		return nil, fmt.Errorf("telegram bot dependencies are incomplete")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RouteCacheTTL <= 0 {
		cfg.RouteCacheTTL = time.Minute
	}

	telegramBot := &Bot{
		botID:       botIDFromToken(cfg.Token),
		operatorIDs: cfg.OperatorIDs,
		db:          deps.DB,
		files:       deps.Files,
		owners:      deps.Owners,
		storage:     deps.Storage,
		queue:       deps.Queue,
		routes:      newOwnerRouteCache(cfg.RouteCacheTTL),
		broadcasts:  rate.NewLimiter(rate.Limit(broadcastRatePerSecond), 1),
		startTime:   time.Now(),
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(telegramBot.handleDefault),
	}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	telegramBot.bot = b
	telegramBot.messenger = NewMessenger(b)

	telegramBot.username = strings.TrimPrefix(strings.TrimSpace(cfg.Username), "@")
	if telegramBot.username == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		me, err := b.GetMe(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to get bot info: %w", err)
		}
		telegramBot.username = me.Username
		telegramBot.botID = me.ID
	}

	telegramBot.workerPool = NewWorkerPool(cfg.Workers, cfg.QueueSize)
	telegramBot.registerHandlers()

	logger.L().Infof("Telegram bot initialized successfully: username=%s", telegramBot.username)
	return telegramBot, nil
}

// InitFromConfig 从应用配置初始化 Telegram Bot
func InitFromConfig(cfg *config.Config, deps Deps) (*Bot, error) {
	telegramCfg := Config{
		Token:       cfg.TelegramToken,
		Username:    cfg.BotUsername,
		OperatorIDs: cfg.BotOwnerIDs,
		Debug:       false,
	}
	return New(telegramCfg, deps)
}

// UseGate 设置门禁，需在 Start 前调用
func (b *Bot) UseGate(g AccessGate) {
	b.gate = g
}

// Messenger 消息平台适配器
func (b *Bot) Messenger() *Messenger {
	return b.messenger
}

// DeepLink 根据原始引用生成领取深链
func (b *Bot) DeepLink(rawLink string) string {
	return linkcodec.DeepLink(b.username, rawLink)
}

// Start 启动长轮询，阻塞直到 ctx 取消
func (b *Bot) Start(ctx context.Context) error {
	if b.gate == nil {
		return fmt.Errorf("access gate is not configured")
	}
	logger.L().Info("Starting Telegram bot...")
	b.bot.Start(ctx)
	logger.L().Info("Telegram bot stopped")
	return nil
}

// Stop 停止 Bot，等待进行中的用户命令处理完成
// 轮询通过 Start 的 context 取消
func (b *Bot) Stop(ctx context.Context) error {
	logger.L().Info("Stopping Telegram bot...")

	done := make(chan struct{})
	go func() {
		b.workerPool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

// botIDFromToken 从 "<id>:<secret>" 格式的 token 中解析 Bot ID
func botIDFromToken(token string) int64 {
	idPart, _, ok := strings.Cut(token, ":")
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
