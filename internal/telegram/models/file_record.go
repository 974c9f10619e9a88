package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FileRecord 已入库文件（owner_id + file_unique_id 唯一）
type FileRecord struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	OwnerID      int64              `bson:"owner_id"`       // 所属用户 ID
	FileUniqueID string             `bson:"file_unique_id"` // Telegram 平台唯一文件标识
	FileID       string             `bson:"file_id"`        // Telegram file_id
	FileName     string             `bson:"file_name"`      // 展示名称
	FileSize     int64              `bson:"file_size"`      // 字节数
	RawLink      string             `bson:"raw_link"`       // 存储频道中的原始引用
	ChatID       int64              `bson:"chat_id"`        // 存储频道 ID
	MessageID    int                `bson:"message_id"`     // 存储频道中的消息 ID
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}
