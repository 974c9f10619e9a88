// Package pipeline 实现文件入库、按标题分组与多频道发帖流程
//
// 数据流：Queue -> Worker（复制到存储频道、写库、计算分组键）
// -> Aggregator（防抖窗口内合并）-> Dispatcher（渲染并逐频道发布）。
package pipeline

import (
	"context"
	"errors"

	"filestore_bot/internal/telegram/models"
)

var (
	// ErrStorageNotConfigured 存储频道尚未设置
	ErrStorageNotConfigured = errors.New("storage channel not configured")
	// ErrDestinationUnreachable 目标频道不可达（Bot 被移出、无权限、频道不存在）
	ErrDestinationUnreachable = errors.New("destination unreachable")
	// ErrAggregatorClosed 聚合器已关闭
	ErrAggregatorClosed = errors.New("aggregator closed")
)

// IngestedItem 源频道新到达的文件
type IngestedItem struct {
	OwnerID      int64
	ChatID       int64 // 源频道
	MessageID    int   // 源消息
	FileName     string
	FileSize     int64
	FileID       string
	FileUniqueID string
}

// Button 内联按钮，URL 与 CallbackData 二选一
type Button struct {
	Text         string
	URL          string
	CallbackData string
}

// Post 渲染完成的帖子
type Post struct {
	Text     string     // HTML 格式正文或图片说明
	CoverURL string     // 海报地址，为空时发送纯文本
	Buttons  [][]Button // 底部按钮
}

// Messenger 消息平台协作方
type Messenger interface {
	// CopyItem 将消息复制到目标会话，返回新消息 ID
	CopyItem(ctx context.Context, toChatID, fromChatID int64, messageID int, caption string) (int, error)

	// Publish 向频道发布帖子
	Publish(ctx context.Context, chatID int64, post *Post) error

	// SendText 发送 HTML 文本消息
	SendText(ctx context.Context, chatID int64, text string) error
}

// FileStore 文件记录写入
type FileStore interface {
	UpsertFile(ctx context.Context, file *models.FileRecord) error
}

// OwnerStore 用户配置读取
type OwnerStore interface {
	GetOwnerConfig(ctx context.Context, userID int64) (*models.OwnerConfig, error)
}

// DeadLetterStore 死信写入
type DeadLetterStore interface {
	SaveDeadLetter(ctx context.Context, letter *models.DeadLetter) error
}

// StorageTarget 返回当前存储频道 ID，0 表示未设置
type StorageTarget interface {
	StorageChannel() int64
}

// CoverFinder 海报查找，失败时返回 false
type CoverFinder interface {
	FindCover(ctx context.Context, title, year string) (string, bool)
}

// Submitter 接收已入库文件的分组器
type Submitter interface {
	Submit(ownerID int64, key string, file *models.FileRecord) error
}
