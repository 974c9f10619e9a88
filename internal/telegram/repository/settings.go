package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filestore_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSettingsRepository 全局设置数据访问层
type MongoSettingsRepository struct {
	collection *mongo.Collection
}

// NewMongoSettingsRepository 创建全局设置 Repository
func NewMongoSettingsRepository(db *mongo.Database) *MongoSettingsRepository {
	return &MongoSettingsRepository{
		collection: db.Collection("bot_settings"),
	}
}

// GetInt 读取整数设置，不存在时返回 0
func (r *MongoSettingsRepository) GetInt(ctx context.Context, key string) (int64, error) {
	var setting models.BotSetting
	err := r.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&setting)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return setting.IntValue, nil
}

// SetInt 写入整数设置
func (r *MongoSettingsRepository) SetInt(ctx context.Context, key string, value, updatedBy int64) error {
	update := bson.M{
		"$set": bson.M{
			"int_value":  value,
			"updated_by": updatedBy,
			"updated_at": time.Now(),
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": key}, update, opts); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
