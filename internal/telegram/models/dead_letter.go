package models

import "time"

// DeadLetter 超过重试上限仍未入库的文件
type DeadLetter struct {
	ID              string    `bson:"_id"`               // UUID
	OwnerID         int64     `bson:"owner_id"`          // 所属用户
	SourceChatID    int64     `bson:"source_chat_id"`    // 源频道
	SourceMessageID int       `bson:"source_message_id"` // 源消息 ID
	FileName        string    `bson:"file_name"`
	FileUniqueID    string    `bson:"file_unique_id"`
	Attempts        int       `bson:"attempts"` // 已尝试次数
	Reason          string    `bson:"reason"`   // 最后一次失败原因
	CreatedAt       time.Time `bson:"created_at"` // 创建时间（TTL索引）
}
