package telegram

import (
	"context"

	"filestore_bot/internal/gate"
	"filestore_bot/internal/telegram/models"
	"filestore_bot/internal/telegram/repository"

	botModels "github.com/go-telegram/bot/models"
)

type gateCall struct {
	method string
	userID int64
	token  string
}

type fakeGate struct {
	outcome *gate.Outcome
	err     error
	calls   []gateCall
}

func (f *fakeGate) record(method string, userID int64, token string) (*gate.Outcome, error) {
	f.calls = append(f.calls, gateCall{method: method, userID: userID, token: token})
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func (f *fakeGate) Request(_ context.Context, userID int64, token string) (*gate.Outcome, error) {
	return f.record("request", userID, token)
}

func (f *fakeGate) Confirm(_ context.Context, userID int64, token string) (*gate.Outcome, error) {
	return f.record("confirm", userID, token)
}

func (f *fakeGate) Retry(_ context.Context, userID int64, token string) (*gate.Outcome, error) {
	return f.record("retry", userID, token)
}

type fakeOwnerRepo struct {
	ensured  []int64
	audience map[repository.Audience][]int64
	listErr  error
}

func (f *fakeOwnerRepo) EnsureOwner(_ context.Context, userID int64) error {
	f.ensured = append(f.ensured, userID)
	return nil
}

func (f *fakeOwnerRepo) GetOwnerConfig(context.Context, int64) (*models.OwnerConfig, error) {
	return nil, repository.ErrOwnerNotFound
}

func (f *fakeOwnerRepo) FindOwnerByDBChannel(context.Context, int64) (int64, error) {
	return 0, repository.ErrOwnerNotFound
}

func (f *fakeOwnerRepo) CountAll(context.Context) (int64, error) {
	return int64(len(f.audience[repository.AudienceAll])), nil
}

func (f *fakeOwnerRepo) CountStorageOwners(context.Context) (int64, error) {
	return int64(len(f.audience[repository.AudienceStorageOwners])), nil
}

func (f *fakeOwnerRepo) ListUserIDs(_ context.Context, audience repository.Audience) ([]int64, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.audience[audience], nil
}

func (f *fakeOwnerRepo) EnsureIndexes(context.Context) error { return nil }

type fakeFileRepo struct {
	count     int64
	recent    []*models.FileRecord
	deleteErr error
	deletes   int
}

func (f *fakeFileRepo) UpsertFile(context.Context, *models.FileRecord) error { return nil }

func (f *fakeFileRepo) FindByRawLink(context.Context, string) (*models.FileRecord, error) {
	return nil, repository.ErrFileNotFound
}

func (f *fakeFileRepo) ListByOwner(_ context.Context, _ int64, limit int64) ([]*models.FileRecord, error) {
	if int64(len(f.recent)) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeFileRepo) CountByOwner(context.Context, int64) (int64, error) { return f.count, nil }

func (f *fakeFileRepo) CountAll(context.Context) (int64, error) { return f.count, nil }

func (f *fakeFileRepo) DeleteAll(context.Context) (int64, error) {
	f.deletes++
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	deleted := f.count
	f.count = 0
	return deleted, nil
}

func (f *fakeFileRepo) EnsureIndexes(context.Context) error { return nil }

const testOperatorID int64 = 1

// newHandlerBot 不连接 Telegram 的 Bot，处理器可以直接调用
func newHandlerBot(api *fakeBotAPI, g AccessGate) (*Bot, *fakeOwnerRepo, *fakeFileRepo) {
	owners := &fakeOwnerRepo{audience: make(map[repository.Audience][]int64)}
	files := &fakeFileRepo{}
	return &Bot{
		messenger:   newTestMessenger(api),
		username:    "FileStoreBot",
		operatorIDs: []int64{testOperatorID},
		owners:      owners,
		files:       files,
		gate:        g,
	}, owners, files
}

func privateMessage(userID int64, text string) *botModels.Update {
	return &botModels.Update{Message: &botModels.Message{
		ID:   10,
		Chat: botModels.Chat{ID: userID, Type: botModels.ChatTypePrivate},
		From: &botModels.User{ID: userID, FirstName: "Ann"},
		Text: text,
	}}
}

func callbackUpdate(userID int64, data string) *botModels.Update {
	return &botModels.Update{CallbackQuery: &botModels.CallbackQuery{
		ID:   "cb-1",
		From: botModels.User{ID: userID},
		Data: data,
		Message: botModels.MaybeInaccessibleMessage{
			Message: &botModels.Message{ID: 77, Chat: botModels.Chat{ID: userID}},
		},
	}}
}
