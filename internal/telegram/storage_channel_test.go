package telegram

import (
	"context"
	"errors"
	"testing"

	"filestore_bot/internal/telegram/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	values map[string]int64
	err    error
}

func (f *fakeSettings) GetInt(_ context.Context, key string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.values[key], nil
}

func (f *fakeSettings) SetInt(_ context.Context, key string, value, _ int64) error {
	if f.err != nil {
		return f.err
	}
	if f.values == nil {
		f.values = make(map[string]int64)
	}
	f.values[key] = value
	return nil
}

func TestStorageChannelLoad(t *testing.T) {
	settings := &fakeSettings{}
	storage := NewStorageChannel(settings, -1001)

	require.NoError(t, storage.Load(context.Background()))
	assert.Equal(t, int64(-1001), storage.StorageChannel(), "fallback kept when unset")

	settings.values = map[string]int64{models.SettingStorageChannel: -1002}
	require.NoError(t, storage.Load(context.Background()))
	assert.Equal(t, int64(-1002), storage.StorageChannel())
}

func TestStorageChannelSet(t *testing.T) {
	settings := &fakeSettings{}
	storage := NewStorageChannel(settings, 0)

	require.NoError(t, storage.Set(context.Background(), -1003, 1))
	assert.Equal(t, int64(-1003), storage.StorageChannel())
	assert.Equal(t, int64(-1003), settings.values[models.SettingStorageChannel])

	settings.err = errors.New("db down")
	require.Error(t, storage.Set(context.Background(), -1004, 1))
	assert.Equal(t, int64(-1003), storage.StorageChannel())
}
