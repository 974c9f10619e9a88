package repository

import (
	"context"
	"errors"

	"filestore_bot/internal/telegram/models"
)

var (
	// ErrFileNotFound 文件记录不存在
	ErrFileNotFound = errors.New("file not found")
	// ErrOwnerNotFound 用户配置不存在
	ErrOwnerNotFound = errors.New("owner not found")
)

// Audience 广播对象
type Audience string

const (
	AudienceAll           Audience = "all"    // 全部用户
	AudienceStorageOwners Audience = "owners" // 配置过频道的用户
	AudienceNormalUsers   Audience = "users"  // 未配置任何频道的用户
)

// ParseAudience 解析广播对象，空字符串视为全部用户
func ParseAudience(s string) (Audience, bool) {
	switch a := Audience(s); a {
	case "":
		return AudienceAll, true
	case AudienceAll, AudienceStorageOwners, AudienceNormalUsers:
		return a, true
	default:
		return "", false
	}
}

// FileRepository 文件记录数据访问接口
type FileRepository interface {
	// UpsertFile 按 owner_id + file_unique_id 写入或覆盖文件记录
	UpsertFile(ctx context.Context, file *models.FileRecord) error

	// FindByRawLink 根据原始引用查找文件
	FindByRawLink(ctx context.Context, rawLink string) (*models.FileRecord, error)

	// ListByOwner 按入库时间倒序列出用户最近的文件
	ListByOwner(ctx context.Context, ownerID int64, limit int64) ([]*models.FileRecord, error)

	// CountByOwner 统计用户文件数
	CountByOwner(ctx context.Context, ownerID int64) (int64, error)

	// CountAll 统计全部文件数
	CountAll(ctx context.Context) (int64, error)

	// DeleteAll 清空文件库，返回删除数量
	DeleteAll(ctx context.Context) (int64, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// OwnerRepository 用户配置数据访问接口
type OwnerRepository interface {
	// EnsureOwner 首次出现的用户写入默认配置
	EnsureOwner(ctx context.Context, userID int64) error

	// GetOwnerConfig 获取用户配置
	GetOwnerConfig(ctx context.Context, userID int64) (*models.OwnerConfig, error)

	// FindOwnerByDBChannel 根据索引频道查找所属用户
	FindOwnerByDBChannel(ctx context.Context, channelID int64) (int64, error)

	// CountAll 统计全部用户
	CountAll(ctx context.Context) (int64, error)

	// CountStorageOwners 统计配置过频道的用户
	CountStorageOwners(ctx context.Context) (int64, error)

	// ListUserIDs 列出广播对象的用户 ID
	ListUserIDs(ctx context.Context, audience Audience) ([]int64, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// SettingsRepository 全局设置数据访问接口
type SettingsRepository interface {
	// GetInt 读取整数设置，不存在时返回 0
	GetInt(ctx context.Context, key string) (int64, error)

	// SetInt 写入整数设置
	SetInt(ctx context.Context, key string, value, updatedBy int64) error
}

// DeadLetterRepository 死信数据访问接口
type DeadLetterRepository interface {
	// SaveDeadLetter 保存死信
	SaveDeadLetter(ctx context.Context, letter *models.DeadLetter) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}
