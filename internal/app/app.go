package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"filestore_bot/internal/batchkey"
	"filestore_bot/internal/config"
	"filestore_bot/internal/gate"
	"filestore_bot/internal/logger"
	"filestore_bot/internal/mongo"
	"filestore_bot/internal/pipeline"
	"filestore_bot/internal/poster"
	"filestore_bot/internal/shortener"
	"filestore_bot/internal/telegram"
	"filestore_bot/internal/telegram/repository"
	"filestore_bot/internal/web"
)

// App 应用服务容器
// 负责管理所有服务的生命周期（初始化、运行、关闭）
type App struct {
	MongoDB     *mongo.Client
	TelegramBot *telegram.Bot
	Queue       *pipeline.Queue
	Worker      *pipeline.Worker
	Aggregator  *pipeline.Aggregator
	Dispatcher  *pipeline.Dispatcher
	Gate        *gate.Gate
	Web         *web.Server
}

// New 初始化应用及其所有服务
// 按顺序初始化各个服务，任何服务初始化失败都会返回错误
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	app := &App{}

	mongoClient, err := mongo.InitFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init MongoDB failed: %w", err)
	}
	app.MongoDB = mongoClient
	logger.L().Info("MongoDB initialized successfully")

	db := mongoClient.Database()
	files := repository.NewMongoFileRepository(db)
	owners := repository.NewMongoOwnerRepository(db)
	settings := repository.NewMongoSettingsRepository(db)
	deadLetters := repository.NewDeadLetterRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for name, ensure := range map[string]func(context.Context) error{
		"files":        files.EnsureIndexes,
		"users":        owners.EnsureIndexes,
		"dead_letters": deadLetters.EnsureIndexes,
	} {
		if err := ensure(ctx); err != nil {
			app.Close(context.Background())
			return nil, fmt.Errorf("ensure %s indexes failed: %w", name, err)
		}
	}

	storage := telegram.NewStorageChannel(settings, cfg.StorageChannelID)
	if err := storage.Load(ctx); err != nil {
		app.Close(context.Background())
		return nil, err
	}

	app.Queue = pipeline.NewQueue()

	app.TelegramBot, err = telegram.InitFromConfig(cfg, telegram.Deps{
		DB:      db,
		Files:   files,
		Owners:  owners,
		Storage: storage,
		Queue:   app.Queue,
	})
	if err != nil {
		app.Close(context.Background())
		return nil, fmt.Errorf("init Telegram bot failed: %w", err)
	}
	messenger := app.TelegramBot.Messenger()

	httpClient := &http.Client{Timeout: 15 * time.Second}
	covers := poster.NewIMDbFinder(httpClient, "")
	shortLinks := shortener.New(httpClient, shortener.Options{})

	app.Dispatcher = pipeline.NewDispatcher(owners, messenger, covers, app.TelegramBot.DeepLink, cfg.PublishRatePerSecond, cfg.BotOwnerIDs)
	app.Aggregator = pipeline.NewAggregator(cfg.BatchWindow, 0, app.Dispatcher.Flush)
	app.Worker = pipeline.NewWorker(
		app.Queue,
		storage,
		messenger,
		files,
		deadLetters,
		app.Aggregator,
		batchkey.NewNormalizer(),
		pipeline.WorkerConfig{
			ItemDelay:   cfg.IngestDelay,
			Cooldown:    cfg.IngestCooldown,
			MaxAttempts: cfg.IngestMaxAttempts,
			Operators:   cfg.BotOwnerIDs,
		},
	)

	policy := gate.AllowMissingSession
	if !cfg.GateAllowMissingSession {
		policy = gate.RejectMissingSession
	}
	app.Gate = gate.New(files, owners, messenger, shortLinks, gate.Config{
		Dwell:         cfg.GateDwell,
		VerifyTarget:  cfg.VerifyTargetURL,
		MissingPolicy: policy,
	})
	app.TelegramBot.UseGate(app.Gate)

	if cfg.WebAddr != "" {
		app.Web = web.NewServer(cfg.WebAddr, files, mongoClient, app.TelegramBot.DeepLink)
	}

	logger.L().Infof("Application initialized: batch_window=%s, dwell=%s, missing_session=%s",
		cfg.BatchWindow, cfg.GateDwell, policy)
	return app, nil
}

// Run 启动后台服务并阻塞运行 Bot，直到 ctx 取消
func (a *App) Run(ctx context.Context) error {
	if a.Web != nil {
		if err := a.Web.Start(); err != nil {
			return err
		}
	}
	a.Worker.Start()
	return a.TelegramBot.Start(ctx)
}

// Close 优雅关闭所有服务
// 先停止入库，再把未到期的分组立即发出，最后断开数据库
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.Aggregator != nil {
		if err := a.Aggregator.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close aggregator failed: %w", err))
		}
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	if a.TelegramBot != nil {
		if err := a.TelegramBot.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop Telegram bot failed: %w", err))
		}
	}
	if a.Web != nil {
		if err := a.Web.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MongoDB != nil {
		if err := a.MongoDB.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close MongoDB failed: %w", err))
		}
	}
	return errors.Join(errs...)
}
