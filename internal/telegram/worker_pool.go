package telegram

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"filestore_bot/internal/logger"
)

// HandlerTask Handler 任务
type HandlerTask struct {
	Ctx         context.Context
	BotInstance *bot.Bot
	Update      *botModels.Update
	Handler     bot.HandlerFunc
}

// WorkerPoolStats 工作池运行状态
type WorkerPoolStats struct {
	Workers       int
	QueueLength   int
	QueueCapacity int
}

// WorkerPool Handler 工作池
type WorkerPool struct {
	taskQueue chan HandlerTask
	wg        sync.WaitGroup
	workers   int
	closeOnce sync.Once
}

// NewWorkerPool 创建工作池
// workers: worker 协程数量
// queueSize: 任务队列大小
func NewWorkerPool(workers int, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	pool := &WorkerPool{
		taskQueue: make(chan HandlerTask, queueSize),
		workers:   workers,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	logger.L().Infof("Worker pool started with %d workers, queue size %d", workers, queueSize)
	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	logger.L().Debugf("Worker %d started", id)

	for task := range p.taskQueue {
		p.run(id, task)
	}

	logger.L().Debugf("Worker %d stopped", id)
}

// run 执行 handler，带 panic recovery
func (p *WorkerPool) run(id int, task HandlerTask) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Errorf("Worker %d: handler panic recovered: %v", id, r)
			if task.BotInstance == nil {
				return
			}
			if chatID, ok := updateChatID(task.Update); ok {
				_, _ = task.BotInstance.SendMessage(task.Ctx, &bot.SendMessageParams{
					ChatID: chatID,
					Text:   "❌ 服务器内部错误，请稍后重试",
				})
			}
		}
	}()

	task.Handler(task.Ctx, task.BotInstance, task.Update)
}

// Submit 提交任务到工作池，队列已满时丢弃
func (p *WorkerPool) Submit(task HandlerTask) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		logger.L().Warnf("Worker pool queue is full, task dropped")
		return false
	}
}

// Stats 工作池状态
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:       p.workers,
		QueueLength:   len(p.taskQueue),
		QueueCapacity: cap(p.taskQueue),
	}
}

// Shutdown 优雅关闭工作池
// 等待所有正在执行的任务完成
func (p *WorkerPool) Shutdown() {
	p.closeOnce.Do(func() {
		logger.L().Info("Shutting down worker pool...")
		close(p.taskQueue)
		p.wg.Wait()
		logger.L().Info("Worker pool shut down successfully")
	})
}

// updateChatID 私聊消息或回调所在会话
func updateChatID(update *botModels.Update) (int64, bool) {
	if update == nil {
		return 0, false
	}
	if update.Message != nil {
		return update.Message.Chat.ID, true
	}
	if update.CallbackQuery != nil {
		return update.CallbackQuery.From.ID, true
	}
	return 0, false
}
