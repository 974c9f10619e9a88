package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"filestore_bot/internal/logger"
	"filestore_bot/internal/metrics"
	"filestore_bot/internal/telegram/models"
)

// FlushFunc 分组刷新回调，在分组锁之外执行
type FlushFunc func(ctx context.Context, ownerID int64, files []*models.FileRecord)

// groupKey 分组标识：用户 + 归一化标题
type groupKey struct {
	ownerID int64
	key     string
}

// batchGroup 一个打开中的分组，刷新后即失效
type batchGroup struct {
	files   []*models.FileRecord
	timer   *time.Timer
	created time.Time
}

// batchEntry 单个分组键的锁与当前分组
type batchEntry struct {
	mu    sync.Mutex
	refs  int         // 由 Aggregator.mu 保护
	group *batchGroup // 由 mu 保护
}

// Aggregator 按 (owner, key) 在防抖窗口内合并文件，每个分组只刷新一次
type Aggregator struct {
	mu      sync.Mutex
	entries map[groupKey]*batchEntry
	pending map[*batchGroup]groupKey
	closed  bool

	window       time.Duration
	flushTimeout time.Duration
	onFlush      FlushFunc
	wg           sync.WaitGroup
}

// NewAggregator 创建分组器
// window: 防抖窗口，从分组第一个文件开始计时
// flushTimeout: 单次刷新回调的超时时间
func NewAggregator(window, flushTimeout time.Duration, onFlush FlushFunc) *Aggregator {
	if flushTimeout <= 0 {
		flushTimeout = 2 * time.Minute
	}
	return &Aggregator{
		entries:      make(map[groupKey]*batchEntry),
		pending:      make(map[*batchGroup]groupKey),
		window:       window,
		flushTimeout: flushTimeout,
		onFlush:      onFlush,
	}
}

// Submit 将文件加入分组；分组不存在时创建并安排刷新
func (a *Aggregator) Submit(ownerID int64, key string, file *models.FileRecord) error {
	k := groupKey{ownerID: ownerID, key: key}

	entry, err := a.acquire(k)
	if err != nil {
		return err
	}
	defer a.release(k, entry)

	if entry.group != nil {
		entry.group.files = append(entry.group.files, file)
		logger.L().Debugf("Added file to batch: owner_id=%d, key=%q, total_files=%d", ownerID, key, len(entry.group.files))
		return nil
	}

	// 关闭检查、计数与登记必须在同一把锁内完成，否则 Close 可能漏掉这个分组
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAggregatorClosed
	}
	group := &batchGroup{
		files:   []*models.FileRecord{file},
		created: time.Now(),
	}
	entry.group = group
	a.wg.Add(1)
	// flush 需要同一把分组锁，当前 Submit 返回前不会执行
	group.timer = time.AfterFunc(a.window, func() {
		a.flush(k, group)
	})
	a.pending[group] = k
	a.mu.Unlock()
	metrics.OpenBatches.Inc()

	logger.L().Debugf("Created new batch: owner_id=%d, key=%q, window=%s", ownerID, key, a.window)
	return nil
}

// acquire 获取分组键的锁，必要时创建
func (a *Aggregator) acquire(k groupKey) (*batchEntry, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrAggregatorClosed
	}
	entry, ok := a.entries[k]
	if !ok {
		entry = &batchEntry{}
		a.entries[k] = entry
	}
	entry.refs++
	a.mu.Unlock()

	entry.mu.Lock()
	return entry, nil
}

// acquireForFlush 刷新路径获取锁，聚合器关闭后仍可使用
func (a *Aggregator) acquireForFlush(k groupKey) *batchEntry {
	a.mu.Lock()
	entry, ok := a.entries[k]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	entry.refs++
	a.mu.Unlock()

	entry.mu.Lock()
	return entry
}

// release 释放分组键的锁；无人使用且没有打开的分组时回收条目
// 锁顺序为 entry.mu -> a.mu，acquire 不会在持有 a.mu 时等待 entry.mu
func (a *Aggregator) release(k groupKey, entry *batchEntry) {
	a.mu.Lock()
	entry.refs--
	if entry.refs == 0 && entry.group == nil {
		delete(a.entries, k)
	}
	a.mu.Unlock()
	entry.mu.Unlock()
}

// flush 取出分组中的文件并在锁外交给回调
func (a *Aggregator) flush(k groupKey, group *batchGroup) {
	defer a.wg.Done()

	var files []*models.FileRecord

	entry := a.acquireForFlush(k)
	if entry != nil {
		if entry.group == group {
			files = group.files
			group.files = nil
			entry.group = nil
		}
		a.release(k, entry)
	}

	a.mu.Lock()
	delete(a.pending, group)
	a.mu.Unlock()
	metrics.OpenBatches.Dec()

	if len(files) == 0 {
		logger.L().Debugf("Batch already flushed, skipping: owner_id=%d, key=%q", k.ownerID, k.key)
		return
	}

	SortByName(files)
	metrics.BatchSize.Observe(float64(len(files)))
	logger.L().Infof("Batch collection completed: owner_id=%d, key=%q, file_count=%d, age=%s",
		k.ownerID, k.key, len(files), time.Since(group.created).Round(time.Millisecond))

	if a.onFlush == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.flushTimeout)
	defer cancel()
	a.onFlush(ctx, k.ownerID, files)
}

// Close 停止接收新文件，立即刷新所有未到期的分组并等待进行中的刷新完成
func (a *Aggregator) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	outstanding := make(map[*batchGroup]groupKey, len(a.pending))
	for group, k := range a.pending {
		outstanding[group] = k
	}
	a.mu.Unlock()

	logger.L().Infof("Draining %d open batches...", len(outstanding))

	for group, k := range outstanding {
		// Stop 返回 false 说明定时器已触发，由定时器自己完成刷新
		if group.timer != nil && group.timer.Stop() {
			a.flush(k, group)
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.L().Info("Aggregator drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenGroups 当前打开的分组数
func (a *Aggregator) OpenGroups() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// trackedKeys 当前仍持有锁条目的分组键数量（测试用）
func (a *Aggregator) trackedKeys() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// SortByName 按展示名称排序，名称相同时保持原顺序
func SortByName(files []*models.FileRecord) {
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].FileName < files[j].FileName
	})
}
