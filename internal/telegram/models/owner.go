package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FooterButton 发帖底部自定义按钮
type FooterButton struct {
	Name string `bson:"name"`
	URL  string `bson:"url"`
}

// ShortenerSettings 用户的短链服务凭证
type ShortenerSettings struct {
	Enabled bool
	Domain  string
	APIKey  string
}

// Usable 是否配置了可用的短链服务
func (s ShortenerSettings) Usable() bool {
	return s.Enabled && s.Domain != "" && s.APIKey != ""
}

// OwnerConfig 用户配置（users 集合）
type OwnerConfig struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	UserID           int64              `bson:"user_id"`           // Telegram 用户 ID（唯一）
	PostChannels     []int64            `bson:"post_channels"`     // 自动发帖目标频道
	DBChannels       []int64            `bson:"db_channels"`       // 上传文件的索引频道
	FSubChannel      int64              `bson:"fsub_channel"`      // 强制关注频道，0 表示未设置
	ShortenerURL     string             `bson:"shortener_url"`     // 短链服务域名
	ShortenerAPI     string             `bson:"shortener_api"`     // 短链服务 API Key
	ShortenerEnabled bool               `bson:"shortener_enabled"` // 是否启用短链
	CustomCaption    string             `bson:"custom_caption"`    // 发帖附加文案
	FooterButtons    []FooterButton     `bson:"footer_buttons"`    // 发帖底部按钮
	ShowPoster       bool               `bson:"show_poster"`       // 是否附带海报
	CreatedAt        time.Time          `bson:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at"`
}

// Shortener 返回短链凭证
func (o *OwnerConfig) Shortener() ShortenerSettings {
	if o == nil {
		return ShortenerSettings{}
	}
	return ShortenerSettings{
		Enabled: o.ShortenerEnabled,
		Domain:  o.ShortenerURL,
		APIKey:  o.ShortenerAPI,
	}
}

// HasGate 是否配置了强制关注频道
func (o *OwnerConfig) HasGate() bool {
	return o != nil && o.FSubChannel != 0
}
