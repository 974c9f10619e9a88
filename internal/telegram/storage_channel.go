package telegram

import (
	"context"
	"fmt"
	"sync/atomic"

	"filestore_bot/internal/logger"
	"filestore_bot/internal/telegram/models"
	"filestore_bot/internal/telegram/repository"
)

// StorageChannel 当前存储频道，持久化在 bot_settings 中
type StorageChannel struct {
	id       atomic.Int64
	settings repository.SettingsRepository
}

// NewStorageChannel 创建存储频道设置；fallback 为环境变量提供的默认值
func NewStorageChannel(settings repository.SettingsRepository, fallback int64) *StorageChannel {
	s := &StorageChannel{settings: settings}
	s.id.Store(fallback)
	return s
}

// Load 从数据库读取存储频道，数据库中未设置时保留默认值
func (s *StorageChannel) Load(ctx context.Context) error {
	id, err := s.settings.GetInt(ctx, models.SettingStorageChannel)
	if err != nil {
		return fmt.Errorf("failed to load storage channel: %w", err)
	}
	if id != 0 {
		s.id.Store(id)
	}
	logger.L().Infof("Storage channel loaded: chat_id=%d", s.id.Load())
	return nil
}

// StorageChannel 当前存储频道 ID，0 表示未设置
func (s *StorageChannel) StorageChannel() int64 {
	return s.id.Load()
}

// Set 更新并持久化存储频道
func (s *StorageChannel) Set(ctx context.Context, chatID, updatedBy int64) error {
	if err := s.settings.SetInt(ctx, models.SettingStorageChannel, chatID, updatedBy); err != nil {
		return err
	}
	s.id.Store(chatID)
	logger.L().Infof("Storage channel updated: chat_id=%d, updated_by=%d", chatID, updatedBy)
	return nil
}
