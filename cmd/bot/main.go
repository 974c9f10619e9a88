package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filestore_bot/internal/app"
	"filestore_bot/internal/config"
	"filestore_bot/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")

	// 初始化logger
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("配置加载失败: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		logger.L().Fatalf("应用初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.L().Errorf("应用运行失败: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Close(shutdownCtx); err != nil {
		logger.L().Errorf("应用关闭失败: %v", err)
	}
	logger.L().Info("Bye")
}
