package repository

import (
	"context"
	"fmt"

	"filestore_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 死信保留 7 天
const deadLetterTTLSeconds = 7 * 24 * 3600

type deadLetterRepository struct {
	collection *mongo.Collection
}

// NewDeadLetterRepository 创建死信仓储实例
func NewDeadLetterRepository(db *mongo.Database) DeadLetterRepository {
	return &deadLetterRepository{
		collection: db.Collection("dead_letters"),
	}
}

// SaveDeadLetter 保存死信
func (r *deadLetterRepository) SaveDeadLetter(ctx context.Context, letter *models.DeadLetter) error {
	if letter == nil {
		return fmt.Errorf("dead letter is nil")
	}
	if _, err := r.collection.InsertOne(ctx, letter); err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *deadLetterRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}},
		},
		// TTL 索引（过期自动删除）
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(deadLetterTTLSeconds),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for dead_letters: %w", err)
	}
	return nil
}
