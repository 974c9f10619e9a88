package pipeline

import (
	"context"
	"sync"

	"filestore_bot/internal/metrics"
)

// Queue 无界 FIFO 入库队列，Enqueue 永不阻塞调用方
type Queue struct {
	mu     sync.Mutex
	items  []*IngestedItem
	notify chan struct{}
}

// NewQueue 创建入库队列
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
	}
}

// Enqueue 追加一个文件
func (q *Queue) Enqueue(item *IngestedItem) {
	if item == nil {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.ItemsEnqueued.Inc()
	metrics.QueueDepth.Set(float64(depth))

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue 取出队首文件，队列为空时挂起直到有新文件或 ctx 取消
func (q *Queue) Dequeue(ctx context.Context) (*IngestedItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			depth := len(q.items)
			q.mu.Unlock()

			metrics.QueueDepth.Set(float64(depth))
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len 当前排队数
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
