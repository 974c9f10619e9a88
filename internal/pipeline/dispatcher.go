package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"filestore_bot/internal/logger"
	"filestore_bot/internal/metrics"
	"filestore_bot/internal/telegram/models"
	"filestore_bot/internal/telegram/repository"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DispatchResult 一次发帖的结果
type DispatchResult struct {
	TaskID    string
	Delivered []int64
	Failed    map[int64]error
}

// Dispatcher 渲染分组帖子并发布到用户配置的所有目标频道
type Dispatcher struct {
	owners    OwnerStore
	messenger Messenger
	covers    CoverFinder
	link      LinkFunc
	limiter   *rate.Limiter
	operators []int64
	reports   sync.WaitGroup
}

// NewDispatcher 创建发帖器
// ratePerSecond: 目标频道发帖速率上限，<=0 表示不限速
// operators: 用户配置读取失败、分组无法发布时通知的管理员
func NewDispatcher(owners OwnerStore, messenger Messenger, covers CoverFinder, link LinkFunc, ratePerSecond int, operators []int64) *Dispatcher {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond)
	}
	return &Dispatcher{
		owners:    owners,
		messenger: messenger,
		covers:    covers,
		link:      link,
		limiter:   limiter,
		operators: operators,
	}
}

// Flush 适配 FlushFunc
func (d *Dispatcher) Flush(ctx context.Context, ownerID int64, files []*models.FileRecord) {
	d.Publish(ctx, ownerID, files)
}

// Publish 发布分组；用户未配置目标频道时直接返回
// 单个频道失败不影响其他频道，失败情况异步通知用户，本轮不重试
func (d *Dispatcher) Publish(ctx context.Context, ownerID int64, files []*models.FileRecord) *DispatchResult {
	result := &DispatchResult{
		TaskID: uuid.New().String(),
		Failed: make(map[int64]error),
	}
	if len(files) == 0 {
		return result
	}

	owner, err := d.owners.GetOwnerConfig(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrOwnerNotFound) {
			logger.L().Debugf("Owner %d has no config, skipping publish", ownerID)
		} else {
			logger.L().Errorf("Failed to load owner config, batch dropped: owner_id=%d, files=%d, err=%v", ownerID, len(files), err)
			d.reportLostBatch(ownerID, files, err)
		}
		return result
	}
	if len(owner.PostChannels) == 0 {
		logger.L().Debugf("Owner %d has no post channels, skipping publish", ownerID)
		return result
	}

	sorted := append([]*models.FileRecord(nil), files...)
	SortByName(sorted)

	posts, title, year := RenderPosts(owner, sorted, d.link)
	if owner.ShowPoster && d.covers != nil {
		if cover, ok := d.covers.FindCover(ctx, title, year); ok {
			posts[0].CoverURL = cover
		}
	}
	if posts[0].CoverURL != "" && !captionFits(posts[0].Text) {
		logger.L().Warnf("Caption too long for photo, sending text post: owner_id=%d, length=%d", ownerID, len([]rune(posts[0].Text)))
		posts[0].CoverURL = ""
	}

	startTime := time.Now()
	logger.L().Infof("Starting publish task: task_id=%s, owner_id=%d, files=%d, parts=%d, channels=%d",
		result.TaskID, ownerID, len(sorted), len(posts), len(owner.PostChannels))

	for _, channelID := range owner.PostChannels {
		if err := d.publishParts(ctx, channelID, posts); err != nil {
			result.Failed[channelID] = err
			metrics.Publishes.WithLabelValues("failure").Inc()
			logger.L().Errorf("Failed to publish to channel %d: owner_id=%d, err=%v", channelID, ownerID, err)
			d.reportFailure(ownerID, channelID, err)
			continue
		}

		result.Delivered = append(result.Delivered, channelID)
		metrics.Publishes.WithLabelValues("success").Inc()
		logger.L().Debugf("Published to channel %d: owner_id=%d", channelID, ownerID)
	}

	logger.L().Infof("Publish task completed: task_id=%s, success=%d, failed=%d, duration=%v",
		result.TaskID, len(result.Delivered), len(result.Failed), time.Since(startTime))
	return result
}

// publishParts 按顺序发送同一帖子的各个部分，任一部分失败即停止
func (d *Dispatcher) publishParts(ctx context.Context, channelID int64, posts []*Post) error {
	for i, post := range posts {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait error: %w", err)
		}
		if err := d.messenger.Publish(ctx, channelID, post); err != nil {
			if len(posts) > 1 {
				return fmt.Errorf("part %d/%d: %w", i+1, len(posts), err)
			}
			return err
		}
	}
	return nil
}

// reportFailure 异步通知用户发帖失败
func (d *Dispatcher) reportFailure(ownerID, channelID int64, cause error) {
	text := fmt.Sprintf("❌ 自动发帖失败\n\n频道: <code>%d</code>\n错误: <code>%s</code>",
		channelID, html.EscapeString(cause.Error()))
	d.notify(ownerID, text)
}

// reportLostBatch 用户配置读取失败时通知管理员，附带丢失分组的文件名
func (d *Dispatcher) reportLostBatch(ownerID int64, files []*models.FileRecord, cause error) {
	if len(d.operators) == 0 {
		return
	}

	var text strings.Builder
	fmt.Fprintf(&text, "⚠️ 分组未能发布\n\n用户: <code>%d</code>\n错误: <code>%s</code>\n\n",
		ownerID, html.EscapeString(cause.Error()))
	for i, file := range files {
		line := fmt.Sprintf("• <code>%s</code>\n", html.EscapeString(file.FileName))
		if len([]rune(text.String()))+len([]rune(line)) > maxMessageLength-64 {
			fmt.Fprintf(&text, "… 另有 %d 个文件", len(files)-i)
			break
		}
		text.WriteString(line)
	}

	report := strings.TrimRight(text.String(), "\n")
	for _, operatorID := range d.operators {
		d.notify(operatorID, report)
	}
}

func (d *Dispatcher) notify(chatID int64, text string) {
	d.reports.Add(1)
	go func() {
		defer d.reports.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := d.messenger.SendText(ctx, chatID, text); err != nil {
			logger.L().Warnf("Failed to send dispatch report to %d: %v", chatID, err)
		}
	}()
}

// Wait 等待所有失败通知发送完成
func (d *Dispatcher) Wait() {
	d.reports.Wait()
}
