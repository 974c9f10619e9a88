package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"filestore_bot/internal/batchkey"
	"filestore_bot/internal/linkcodec"
	"filestore_bot/internal/logger"
	"filestore_bot/internal/metrics"
	"filestore_bot/internal/telegram/models"

	"github.com/google/uuid"
)

// errPersist 文件记录写库失败，需要通知运维
var errPersist = errors.New("persist file record")

// WorkerConfig 入库 Worker 参数
type WorkerConfig struct {
	ItemDelay   time.Duration // 每处理一个文件后的固定间隔
	Cooldown    time.Duration // 存储频道不可用时的首次冷却时间
	MaxCooldown time.Duration // 冷却时间上限
	MaxAttempts int           // 进入死信前的最大尝试次数
	Operators   []int64       // 接收告警的运维账号
	ItemTimeout time.Duration // 单个文件的处理超时
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.ItemDelay <= 0 {
		c.ItemDelay = 2 * time.Second
	}
	if c.Cooldown < time.Minute {
		c.Cooldown = time.Minute
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = 16 * c.Cooldown
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 2 * time.Minute
	}
	return c
}

// Worker 单协程入库循环：复制到存储频道、写库、计算分组键并提交给分组器
type Worker struct {
	queue       *Queue
	storage     StorageTarget
	messenger   Messenger
	files       FileStore
	deadLetters DeadLetterStore
	batches     Submitter
	normalizer  *batchkey.Normalizer
	cfg         WorkerConfig

	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker 创建入库 Worker
func NewWorker(
	queue *Queue,
	storage StorageTarget,
	messenger Messenger,
	files FileStore,
	deadLetters DeadLetterStore,
	batches Submitter,
	normalizer *batchkey.Normalizer,
	cfg WorkerConfig,
) *Worker {
	if normalizer == nil {
		normalizer = batchkey.NewNormalizer()
	}
	return &Worker{
		queue:       queue,
		storage:     storage,
		messenger:   messenger,
		files:       files,
		deadLetters: deadLetters,
		batches:     batches,
		normalizer:  normalizer,
		cfg:         cfg.withDefaults(),
		sleep:       sleepContext,
		now:         time.Now,
	}
}

// Start 启动入库循环
func (w *Worker) Start() {
	if w == nil || w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx)
	logger.L().Infof("Ingestion worker started: item_delay=%s, cooldown=%s, max_attempts=%d",
		w.cfg.ItemDelay, w.cfg.Cooldown, w.cfg.MaxAttempts)
}

// Stop 停止入库循环，等待当前文件处理完成
func (w *Worker) Stop() {
	if w == nil || w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil
	logger.L().Info("Ingestion worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			return
		}

		w.process(ctx, item)

		if err := w.sleep(ctx, w.cfg.ItemDelay); err != nil {
			return
		}
	}
}

// process 处理单个文件，任何错误都不会终止循环
// 存储频道未配置或不可达时整个 Worker 冷却后重试，超过上限进入死信
func (w *Worker) process(ctx context.Context, item *IngestedItem) {
	for attempt := 1; ; attempt++ {
		err := w.ingestOnce(item)
		if err == nil {
			metrics.ItemsProcessed.WithLabelValues("stored").Inc()
			return
		}

		if !isRetryable(err) {
			metrics.ItemsProcessed.WithLabelValues("failed").Inc()
			logger.L().Errorf("Failed to ingest item: owner_id=%d, chat_id=%d, message_id=%d, file=%q, err=%v",
				item.OwnerID, item.ChatID, item.MessageID, item.FileName, err)
			if errors.Is(err, errPersist) {
				w.notifyOperators(fmt.Sprintf("⚠️ 文件入库写库失败\n\n文件: <code>%s</code>\n错误: <code>%s</code>",
					html.EscapeString(item.FileName), html.EscapeString(err.Error())))
			}
			return
		}

		if attempt >= w.cfg.MaxAttempts {
			w.deadLetter(item, attempt, err)
			return
		}

		delay := w.backoff(attempt)
		metrics.WorkerCooldowns.Inc()
		logger.L().Warnf("Storage unavailable, worker cooling down: owner_id=%d, file=%q, attempt=%d/%d, delay=%s, err=%v",
			item.OwnerID, item.FileName, attempt, w.cfg.MaxAttempts, delay, err)

		if sleepErr := w.sleep(ctx, delay); sleepErr != nil {
			// 停机时不再等待，直接转入死信保留现场
			w.deadLetter(item, attempt, err)
			return
		}
	}
}

func (w *Worker) ingestOnce(item *IngestedItem) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ItemTimeout)
	defer cancel()
	return w.ingest(ctx, item)
}

// ingest 复制文件到存储频道、写库并提交分组
func (w *Worker) ingest(ctx context.Context, item *IngestedItem) error {
	storageID := w.storage.StorageChannel()
	if storageID == 0 {
		return ErrStorageNotConfigured
	}

	messageID, err := w.messenger.CopyItem(ctx, storageID, item.ChatID, item.MessageID, "")
	if err != nil {
		return fmt.Errorf("failed to copy item to storage channel %d: %w", storageID, err)
	}

	now := w.now()
	record := &models.FileRecord{
		OwnerID:      item.OwnerID,
		FileUniqueID: item.FileUniqueID,
		FileID:       item.FileID,
		FileName:     item.FileName,
		FileSize:     item.FileSize,
		RawLink:      linkcodec.RawLink(storageID, messageID),
		ChatID:       storageID,
		MessageID:    messageID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := w.files.UpsertFile(ctx, record); err != nil {
		return fmt.Errorf("%w: %w", errPersist, err)
	}

	key := w.normalizer.Key(item.FileName)
	if err := w.batches.Submit(item.OwnerID, key, record); err != nil {
		return fmt.Errorf("failed to submit file to batch: %w", err)
	}

	logger.L().Infof("Item stored: owner_id=%d, file=%q, key=%q, raw_link=%s", item.OwnerID, item.FileName, key, record.RawLink)
	return nil
}

// backoff 第 attempt 次失败后的冷却时间：Cooldown * 2^(attempt-1)，不超过 MaxCooldown
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.cfg.Cooldown
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.cfg.MaxCooldown {
			return w.cfg.MaxCooldown
		}
	}
	return delay
}

func (w *Worker) deadLetter(item *IngestedItem, attempts int, cause error) {
	metrics.ItemsProcessed.WithLabelValues("dead_letter").Inc()

	letter := &models.DeadLetter{
		ID:              uuid.New().String(),
		OwnerID:         item.OwnerID,
		SourceChatID:    item.ChatID,
		SourceMessageID: item.MessageID,
		FileName:        item.FileName,
		FileUniqueID:    item.FileUniqueID,
		Attempts:        attempts,
		Reason:          cause.Error(),
		CreatedAt:       w.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.deadLetters.SaveDeadLetter(ctx, letter); err != nil {
		logger.L().Errorf("Failed to save dead letter: owner_id=%d, file=%q, err=%v", item.OwnerID, item.FileName, err)
	} else {
		logger.L().Warnf("Item moved to dead letters: id=%s, owner_id=%d, file=%q, attempts=%d, reason=%v",
			letter.ID, item.OwnerID, item.FileName, attempts, cause)
	}

	notice := fmt.Sprintf("❌ 文件入库失败，已放弃重试\n\n文件: <code>%s</code>\n尝试次数: %d\n原因: <code>%s</code>",
		html.EscapeString(item.FileName), attempts, html.EscapeString(cause.Error()))

	if item.OwnerID != 0 {
		if err := w.messenger.SendText(ctx, item.OwnerID, notice); err != nil {
			logger.L().Warnf("Failed to notify owner %d about dead letter: %v", item.OwnerID, err)
		}
	}
	w.notifyOperators(notice)
}

func (w *Worker) notifyOperators(text string) {
	if len(w.cfg.Operators) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, operatorID := range w.cfg.Operators {
		if err := w.messenger.SendText(ctx, operatorID, text); err != nil {
			logger.L().Warnf("Failed to notify operator %d: %v", operatorID, err)
		}
	}
}

// isRetryable 存储频道未配置或不可达时才重试
func isRetryable(err error) bool {
	return errors.Is(err, ErrStorageNotConfigured) || errors.Is(err, ErrDestinationUnreachable)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
