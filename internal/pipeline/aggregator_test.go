package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"filestore_bot/internal/telegram/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushed struct {
	ownerID int64
	files   []*models.FileRecord
}

func collectFlushes() (FlushFunc, <-chan flushed) {
	ch := make(chan flushed, 64)
	return func(_ context.Context, ownerID int64, files []*models.FileRecord) {
		ch <- flushed{ownerID: ownerID, files: files}
	}, ch
}

func waitFlush(t *testing.T, ch <-chan flushed) flushed {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
		return flushed{}
	}
}

func assertNoFlush(t *testing.T, ch <-chan flushed, wait time.Duration) {
	t.Helper()
	select {
	case f := <-ch:
		t.Fatalf("unexpected flush with %d files", len(f.files))
	case <-time.After(wait):
	}
}

func names(files []*models.FileRecord) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.FileName)
	}
	return out
}

func TestAggregatorFlushesOnceSorted(t *testing.T) {
	onFlush, ch := collectFlushes()
	agg := NewAggregator(50*time.Millisecond, time.Second, onFlush)

	for _, name := range []string{"Show S01E03.mkv", "Show S01E01.mkv", "Show S01E02.mkv"} {
		require.NoError(t, agg.Submit(7, "show", &models.FileRecord{FileName: name}))
	}
	assert.Equal(t, 1, agg.OpenGroups())

	got := waitFlush(t, ch)
	assert.Equal(t, int64(7), got.ownerID)
	assert.Equal(t, []string{"Show S01E01.mkv", "Show S01E02.mkv", "Show S01E03.mkv"}, names(got.files))

	assertNoFlush(t, ch, 100*time.Millisecond)
	assert.Equal(t, 0, agg.OpenGroups())
}

func TestAggregatorLateSubmissionStartsNewGroup(t *testing.T) {
	onFlush, ch := collectFlushes()
	agg := NewAggregator(30*time.Millisecond, time.Second, onFlush)

	require.NoError(t, agg.Submit(1, "movie", &models.FileRecord{FileName: "Movie 720p.mkv"}))
	first := waitFlush(t, ch)

	require.NoError(t, agg.Submit(1, "movie", &models.FileRecord{FileName: "Movie 1080p.mkv"}))
	second := waitFlush(t, ch)

	assert.Equal(t, []string{"Movie 720p.mkv"}, names(first.files))
	assert.Equal(t, []string{"Movie 1080p.mkv"}, names(second.files))
}

func TestAggregatorSeparatesOwnersAndKeys(t *testing.T) {
	onFlush, ch := collectFlushes()
	agg := NewAggregator(30*time.Millisecond, time.Second, onFlush)

	require.NoError(t, agg.Submit(1, "a", &models.FileRecord{FileName: "a1"}))
	require.NoError(t, agg.Submit(2, "a", &models.FileRecord{FileName: "a2"}))
	require.NoError(t, agg.Submit(1, "b", &models.FileRecord{FileName: "b1"}))
	assert.Equal(t, 3, agg.OpenGroups())

	total := 0
	for i := 0; i < 3; i++ {
		total += len(waitFlush(t, ch).files)
	}
	assert.Equal(t, 3, total)
}

func TestAggregatorConcurrentSubmitsShareOneGroup(t *testing.T) {
	onFlush, ch := collectFlushes()
	agg := NewAggregator(100*time.Millisecond, time.Second, onFlush)

	const producers = 50
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if err := agg.Submit(9, "show", &models.FileRecord{FileName: fmt.Sprintf("Show E%02d.mkv", i)}); err != nil {
				t.Errorf("submit failed: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	got := waitFlush(t, ch)
	assert.Len(t, got.files, producers)
	assertNoFlush(t, ch, 200*time.Millisecond)
}

func TestAggregatorReleasesKeyAfterFlush(t *testing.T) {
	onFlush, ch := collectFlushes()
	agg := NewAggregator(20*time.Millisecond, time.Second, onFlush)

	for i := 0; i < 5; i++ {
		require.NoError(t, agg.Submit(int64(i), "key", &models.FileRecord{FileName: "f"}))
	}
	assert.Equal(t, 5, agg.trackedKeys())

	for i := 0; i < 5; i++ {
		waitFlush(t, ch)
	}
	assert.Eventually(t, func() bool { return agg.trackedKeys() == 0 }, time.Second, 10*time.Millisecond)
}

func TestAggregatorCloseDrainsPendingGroups(t *testing.T) {
	onFlush, ch := collectFlushes()
	agg := NewAggregator(time.Hour, time.Second, onFlush)

	require.NoError(t, agg.Submit(1, "a", &models.FileRecord{FileName: "a"}))
	require.NoError(t, agg.Submit(1, "b", &models.FileRecord{FileName: "b"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, agg.Close(ctx))

	assert.Len(t, ch, 2)
	assert.Equal(t, 0, agg.OpenGroups())
	assert.Equal(t, 0, agg.trackedKeys())

	err := agg.Submit(1, "c", &models.FileRecord{FileName: "c"})
	assert.ErrorIs(t, err, ErrAggregatorClosed)
	require.NoError(t, agg.Close(ctx))
}

func TestAggregatorCloseDuringSubmitsFlushesEveryAcceptedFile(t *testing.T) {
	const producers = 40
	onFlush, ch := collectFlushes()
	agg := NewAggregator(time.Hour, time.Second, onFlush)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	start := make(chan struct{})
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if err := agg.Submit(1, fmt.Sprintf("key-%d", i), &models.FileRecord{FileName: "f"}); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrAggregatorClosed)
			}
		}(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	close(start)
	require.NoError(t, agg.Close(ctx))
	wg.Wait()

	assert.Len(t, ch, accepted)
	assert.Equal(t, 0, agg.OpenGroups())
}
