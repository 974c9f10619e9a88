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

// MongoOwnerRepository 用户配置数据访问层
type MongoOwnerRepository struct {
	collection *mongo.Collection
}

// NewMongoOwnerRepository 创建用户配置 Repository
func NewMongoOwnerRepository(db *mongo.Database) *MongoOwnerRepository {
	return &MongoOwnerRepository{
		collection: db.Collection("users"),
	}
}

// storageOwnerFilter 至少配置了一个发帖频道或索引频道
var storageOwnerFilter = bson.M{
	"$or": bson.A{
		bson.M{"post_channels": bson.M{"$exists": true, "$ne": bson.A{}}},
		bson.M{"db_channels": bson.M{"$exists": true, "$ne": bson.A{}}},
	},
}

// EnsureOwner 首次出现的用户写入默认配置，已存在的用户不做修改
func (r *MongoOwnerRepository) EnsureOwner(ctx context.Context, userID int64) error {
	now := time.Now()
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"user_id":           userID,
			"post_channels":     bson.A{},
			"db_channels":       bson.A{},
			"fsub_channel":      int64(0),
			"shortener_url":     "",
			"shortener_api":     "",
			"shortener_enabled": true,
			"custom_caption":    "",
			"footer_buttons":    bson.A{},
			"show_poster":       true,
			"created_at":        now,
			"updated_at":        now,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to ensure owner: %w", err)
	}
	return nil
}

// GetOwnerConfig 获取用户配置
func (r *MongoOwnerRepository) GetOwnerConfig(ctx context.Context, userID int64) (*models.OwnerConfig, error) {
	var owner models.OwnerConfig
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&owner)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %d", ErrOwnerNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}
	return &owner, nil
}

// FindOwnerByDBChannel 根据索引频道查找所属用户
func (r *MongoOwnerRepository) FindOwnerByDBChannel(ctx context.Context, channelID int64) (int64, error) {
	var owner models.OwnerConfig
	opts := options.FindOne().SetProjection(bson.M{"user_id": 1})
	err := r.collection.FindOne(ctx, bson.M{"db_channels": channelID}, opts).Decode(&owner)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("%w: channel %d", ErrOwnerNotFound, channelID)
		}
		return 0, fmt.Errorf("failed to find owner by channel: %w", err)
	}
	return owner.UserID, nil
}

// CountAll 统计全部用户
func (r *MongoOwnerRepository) CountAll(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// CountStorageOwners 统计配置过频道的用户
func (r *MongoOwnerRepository) CountStorageOwners(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, storageOwnerFilter)
	if err != nil {
		return 0, fmt.Errorf("failed to count storage owners: %w", err)
	}
	return count, nil
}

// ListUserIDs 列出广播对象的用户 ID
func (r *MongoOwnerRepository) ListUserIDs(ctx context.Context, audience Audience) ([]int64, error) {
	var filter bson.M
	switch audience {
	case AudienceAll:
		filter = bson.M{}
	case AudienceStorageOwners:
		filter = storageOwnerFilter
	case AudienceNormalUsers:
		filter = bson.M{"$nor": storageOwnerFilter["$or"]}
	default:
		return nil, fmt.Errorf("unknown audience %q", audience)
	}

	opts := options.Find().SetProjection(bson.M{"user_id": 1, "_id": 0})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []int64
	for cursor.Next(ctx) {
		var owner models.OwnerConfig
		if err := cursor.Decode(&owner); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		ids = append(ids, owner.UserID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return ids, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoOwnerRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "db_channels", Value: 1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for users: %w", err)
	}
	return nil
}
