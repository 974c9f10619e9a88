package models

import "time"

// 全局设置键
const (
	SettingStorageChannel = "storage_channel"
)

// BotSetting bot_settings 集合中的一条全局设置
type BotSetting struct {
	Key       string    `bson:"_id"`
	IntValue  int64     `bson:"int_value"`
	UpdatedBy int64     `bson:"updated_by,omitempty"`
	UpdatedAt time.Time `bson:"updated_at"`
}
