package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoOwnerRepositoryEnsureOwner(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoOwnerRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		if err := repo.EnsureOwner(context.Background(), 42); err != nil {
			t.Fatalf("EnsureOwner failed: %v", err)
		}
	})

	mt.Run("update error", func(mt *mtest.T) {
		repo := &MongoOwnerRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    123,
			Name:    "WriteError",
			Message: "mock write failure",
		}))

		err := repo.EnsureOwner(context.Background(), 42)
		if err == nil || !strings.Contains(err.Error(), "failed to ensure owner") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMongoOwnerRepositoryGetOwnerConfig(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoOwnerRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			ownerNamespace(mt),
			mtest.FirstBatch,
			bson.D{
				{Key: "user_id", Value: int64(42)},
				{Key: "post_channels", Value: bson.A{int64(-1001), int64(-1002)}},
				{Key: "fsub_channel", Value: int64(-1009)},
				{Key: "shortener_url", Value: "short.example"},
				{Key: "shortener_api", Value: "key"},
				{Key: "shortener_enabled", Value: true},
				{Key: "show_poster", Value: true},
				{Key: "footer_buttons", Value: bson.A{
					bson.D{{Key: "name", Value: "Help"}, {Key: "url", Value: "https://example.com"}},
				}},
			},
		))

		owner, err := repo.GetOwnerConfig(context.Background(), 42)
		if err != nil {
			t.Fatalf("GetOwnerConfig failed: %v", err)
		}
		if len(owner.PostChannels) != 2 || owner.PostChannels[1] != -1002 {
			t.Fatalf("unexpected post channels: %v", owner.PostChannels)
		}
		if !owner.HasGate() || !owner.Shortener().Usable() {
			t.Fatalf("expected gate and shortener to be configured: %+v", owner)
		}
		if len(owner.FooterButtons) != 1 || owner.FooterButtons[0].Name != "Help" {
			t.Fatalf("unexpected footer buttons: %+v", owner.FooterButtons)
		}
	})

	mt.Run("not found", func(mt *mtest.T) {
		repo := &MongoOwnerRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ownerNamespace(mt), mtest.FirstBatch))

		_, err := repo.GetOwnerConfig(context.Background(), 7)
		if !errors.Is(err, ErrOwnerNotFound) {
			t.Fatalf("expected ErrOwnerNotFound, got %v", err)
		}
	})
}

func TestMongoOwnerRepositoryFindOwnerByDBChannel(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoOwnerRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			ownerNamespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "user_id", Value: int64(42)}},
		))

		ownerID, err := repo.FindOwnerByDBChannel(context.Background(), -100555)
		if err != nil {
			t.Fatalf("FindOwnerByDBChannel failed: %v", err)
		}
		if ownerID != 42 {
			t.Fatalf("unexpected owner: got %d, want 42", ownerID)
		}
	})

	mt.Run("not found", func(mt *mtest.T) {
		repo := &MongoOwnerRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ownerNamespace(mt), mtest.FirstBatch))

		_, err := repo.FindOwnerByDBChannel(context.Background(), -100556)
		if !errors.Is(err, ErrOwnerNotFound) {
			t.Fatalf("expected ErrOwnerNotFound, got %v", err)
		}
	})
}

func TestMongoOwnerRepositoryCountStorageOwners(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoOwnerRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			ownerNamespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "n", Value: int32(2)}},
		))

		count, err := repo.CountStorageOwners(context.Background())
		if err != nil {
			t.Fatalf("CountStorageOwners failed: %v", err)
		}
		if count != 2 {
			t.Fatalf("unexpected count: got %d, want 2", count)
		}
	})
}

func TestMongoOwnerRepositoryListUserIDs(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoOwnerRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			ownerNamespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "user_id", Value: int64(7)}},
			bson.D{{Key: "user_id", Value: int64(9)}},
		))

		ids, err := repo.ListUserIDs(context.Background(), AudienceStorageOwners)
		if err != nil {
			t.Fatalf("ListUserIDs failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != 7 || ids[1] != 9 {
			t.Fatalf("unexpected ids: %v", ids)
		}
	})

	mt.Run("unknown audience", func(mt *mtest.T) {
		repo := &MongoOwnerRepository{collection: mt.Coll}

		if _, err := repo.ListUserIDs(context.Background(), Audience("admins")); err == nil {
			t.Fatalf("expected error for unknown audience")
		}
	})

	mt.Run("find error", func(mt *mtest.T) {
		repo := &MongoOwnerRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "mock find failure",
		}))

		_, err := repo.ListUserIDs(context.Background(), AudienceNormalUsers)
		if err == nil || !strings.Contains(err.Error(), "failed to list users") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestParseAudience(t *testing.T) {
	tests := []struct {
		in     string
		want   Audience
		wantOK bool
	}{
		{"", AudienceAll, true},
		{"all", AudienceAll, true},
		{"owners", AudienceStorageOwners, true},
		{"users", AudienceNormalUsers, true},
		{"admins", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseAudience(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("ParseAudience(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func ownerNamespace(mt *mtest.T) string {
	return mt.DB.Name() + "." + mt.Coll.Name()
}
