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

// MongoFileRepository 文件记录数据访问层
type MongoFileRepository struct {
	collection *mongo.Collection
}

// NewMongoFileRepository 创建文件 Repository
func NewMongoFileRepository(db *mongo.Database) *MongoFileRepository {
	return &MongoFileRepository{
		collection: db.Collection("files"),
	}
}

// UpsertFile 写入或覆盖文件记录，同一文件重复入库不会产生重复记录
func (r *MongoFileRepository) UpsertFile(ctx context.Context, file *models.FileRecord) error {
	if file == nil {
		return fmt.Errorf("file record is nil")
	}
	if file.FileUniqueID == "" {
		return fmt.Errorf("file unique id is required")
	}

	now := time.Now()
	file.UpdatedAt = now

	filter := bson.M{
		"owner_id":       file.OwnerID,
		"file_unique_id": file.FileUniqueID,
	}
	update := bson.M{
		"$set": bson.M{
			"file_id":    file.FileID,
			"file_name":  file.FileName,
			"file_size":  file.FileSize,
			"raw_link":   file.RawLink,
			"chat_id":    file.ChatID,
			"message_id": file.MessageID,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

// FindByRawLink 根据原始引用查找文件
func (r *MongoFileRepository) FindByRawLink(ctx context.Context, rawLink string) (*models.FileRecord, error) {
	var file models.FileRecord
	err := r.collection.FindOne(ctx, bson.M{"raw_link": rawLink}).Decode(&file)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, rawLink)
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &file, nil
}

// CountByOwner 统计用户文件数
func (r *MongoFileRepository) CountByOwner(ctx context.Context, ownerID int64) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return count, nil
}

// CountAll 统计全部文件数
func (r *MongoFileRepository) CountAll(ctx context.Context) (int64, error) {
	count, err := r.collection.EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return count, nil
}

// ListByOwner 按入库时间倒序列出用户最近的文件
func (r *MongoFileRepository) ListByOwner(ctx context.Context, ownerID int64, limit int64) ([]*models.FileRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer cursor.Close(ctx)

	var files []*models.FileRecord
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("failed to decode files: %w", err)
	}
	return files, nil
}

// DeleteAll 清空文件库，返回删除数量
func (r *MongoFileRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to delete files: %w", err)
	}
	return result.DeletedCount, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoFileRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// 同一用户的同一文件只保留一条
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "file_unique_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		// 深链领取时按原始引用查询
		{
			Keys: bson.D{{Key: "raw_link", Value: 1}},
		},
		// 「我的文件」按入库时间倒序
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for files: %w", err)
	}
	return nil
}
