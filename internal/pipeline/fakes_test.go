package pipeline

import (
	"context"
	"errors"
	"sync"

	"filestore_bot/internal/telegram/models"
	"filestore_bot/internal/telegram/repository"
)

type copyCall struct {
	toChatID   int64
	fromChatID int64
	messageID  int
}

type publishCall struct {
	chatID int64
	post   *Post
}

type textCall struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu         sync.Mutex
	nextID     int
	copyErrs   []error
	publishErr map[int64]error
	copies     []copyCall
	published  []publishCall
	texts      []textCall
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 100, publishErr: make(map[int64]error)}
}

func (m *fakeMessenger) CopyItem(_ context.Context, toChatID, fromChatID int64, messageID int, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.copyErrs) > 0 {
		err := m.copyErrs[0]
		m.copyErrs = m.copyErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	m.nextID++
	m.copies = append(m.copies, copyCall{toChatID: toChatID, fromChatID: fromChatID, messageID: messageID})
	return m.nextID, nil
}

func (m *fakeMessenger) Publish(_ context.Context, chatID int64, post *Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.publishErr[chatID]; err != nil {
		return err
	}
	m.published = append(m.published, publishCall{chatID: chatID, post: post})
	return nil
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, textCall{chatID: chatID, text: text})
	return nil
}

func (m *fakeMessenger) publishedTo() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.published))
	for _, call := range m.published {
		ids = append(ids, call.chatID)
	}
	return ids
}

func (m *fakeMessenger) textsTo(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var texts []string
	for _, call := range m.texts {
		if call.chatID == chatID {
			texts = append(texts, call.text)
		}
	}
	return texts
}

type fakeFiles struct {
	mu      sync.Mutex
	err     error
	records map[string]*models.FileRecord
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{records: make(map[string]*models.FileRecord)}
}

func (f *fakeFiles) UpsertFile(_ context.Context, file *models.FileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records[file.RawLink] = file
	return nil
}

func (f *fakeFiles) byRawLink(raw string) *models.FileRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[raw]
}

type fakeOwners struct {
	owners map[int64]*models.OwnerConfig
	err    error
}

func (f *fakeOwners) GetOwnerConfig(_ context.Context, userID int64) (*models.OwnerConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	owner, ok := f.owners[userID]
	if !ok {
		return nil, repository.ErrOwnerNotFound
	}
	return owner, nil
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	letters []*models.DeadLetter
}

func (f *fakeDeadLetters) SaveDeadLetter(_ context.Context, letter *models.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters = append(f.letters, letter)
	return nil
}

func (f *fakeDeadLetters) all() []*models.DeadLetter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.DeadLetter(nil), f.letters...)
}

// fakeStorage 前 unavailable 次返回 0，之后返回 channelID
type fakeStorage struct {
	mu          sync.Mutex
	channelID   int64
	unavailable int
}

func (f *fakeStorage) StorageChannel() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable > 0 {
		f.unavailable--
		return 0
	}
	return f.channelID
}

type submission struct {
	ownerID int64
	key     string
	file    *models.FileRecord
}

type fakeSubmitter struct {
	mu    sync.Mutex
	items []submission
	ch    chan submission
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{ch: make(chan submission, 16)}
}

func (f *fakeSubmitter) Submit(ownerID int64, key string, file *models.FileRecord) error {
	f.mu.Lock()
	f.items = append(f.items, submission{ownerID: ownerID, key: key, file: file})
	f.mu.Unlock()

	select {
	case f.ch <- submission{ownerID: ownerID, key: key, file: file}:
	default:
	}
	return nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

type fakeCovers struct {
	url string
}

func (f *fakeCovers) FindCover(context.Context, string, string) (string, bool) {
	if f.url == "" {
		return "", false
	}
	return f.url, true
}

var errBoom = errors.New("boom")
