package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"filestore_bot/internal/logger"
	"filestore_bot/internal/pipeline"
	"filestore_bot/internal/telegram/repository"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// 广播速率，低于 Bot API 的全局限制
const broadcastRatePerSecond = 20

const broadcastUsage = "用法:\n" +
	"回复一条消息并发送 /broadcast [all|owners|users]\n" +
	"或 /broadcast [all|owners|users] <文本>\n\n" +
	"all: 全部用户\nowners: 配置过频道的用户\nusers: 普通用户"

// broadcastResult 广播统计
type broadcastResult struct {
	Total       int
	Sent        int
	Unreachable int
	Failed      int
}

// handleBroadcast 处理 /broadcast；回复消息时复制该消息，否则发送命令后的文本
func (b *Bot) handleBroadcast(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	msg := update.Message

	audience, body := parseBroadcast(msg.Text)
	if body == "" && msg.ReplyToMessage == nil {
		b.sendErrorMessage(ctx, msg.Chat.ID, broadcastUsage)
		return
	}

	if !b.broadcastMu.TryLock() {
		b.sendErrorMessage(ctx, msg.Chat.ID, "已有广播正在进行，请稍后再试")
		return
	}
	defer b.broadcastMu.Unlock()

	ids, err := b.owners.ListUserIDs(ctx, audience)
	if err != nil {
		logger.L().Errorf("Failed to list broadcast audience: audience=%s, err=%v", audience, err)
		b.sendErrorMessage(ctx, msg.Chat.ID, "读取用户列表失败，请稍后重试")
		return
	}

	var send func(ctx context.Context, chatID int64) error
	if reply := msg.ReplyToMessage; reply != nil {
		send = func(ctx context.Context, chatID int64) error {
			_, err := b.messenger.CopyItem(ctx, chatID, reply.Chat.ID, reply.ID, "")
			return err
		}
	} else {
		text := escape(body)
		send = func(ctx context.Context, chatID int64) error {
			return b.messenger.SendText(ctx, chatID, text)
		}
	}

	b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf("📣 开始广播: 对象 <code>%s</code>，共 %d 人", audience, len(ids)))

	startTime := time.Now()
	result := b.broadcast(ctx, ids, send)
	logger.L().Infof("Broadcast completed: audience=%s, total=%d, sent=%d, unreachable=%d, failed=%d, duration=%v",
		audience, result.Total, result.Sent, result.Unreachable, result.Failed, time.Since(startTime))

	b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf(
		"📣 <b>广播完成</b>\n\n对象: <code>%s</code>\n总数: %d\n成功: %d\n无法送达: %d\n失败: %d\n耗时: %s",
		audience, result.Total, result.Sent, result.Unreachable, result.Failed, formatDuration(time.Since(startTime)),
	))
}

// broadcast 逐个发送并统计结果；ctx 取消时停止，未发送的计为失败
func (b *Bot) broadcast(ctx context.Context, ids []int64, send func(ctx context.Context, chatID int64) error) broadcastResult {
	result := broadcastResult{Total: len(ids)}

	for i, chatID := range ids {
		err := ctx.Err()
		if err == nil && b.broadcasts != nil {
			err = b.broadcasts.Wait(ctx)
		}
		if err != nil {
			result.Failed += len(ids) - i
			logger.L().Warnf("Broadcast interrupted: sent=%d, remaining=%d, err=%v", result.Sent, len(ids)-i, err)
			return result
		}

		err = send(ctx, chatID)
		switch {
		case err == nil:
			result.Sent++
		case errors.Is(err, pipeline.ErrDestinationUnreachable):
			result.Unreachable++
			logger.L().Debugf("Broadcast target unreachable: chat_id=%d, err=%v", chatID, err)
		default:
			result.Failed++
			logger.L().Warnf("Broadcast to %d failed: %v", chatID, err)
		}
	}
	return result
}

// parseBroadcast 解析 "/broadcast [audience] [text]"，第一个词不是广播对象时整段视为文本
func parseBroadcast(text string) (repository.Audience, string) {
	_, rest := cutWord(text)
	word, body := cutWord(rest)
	if word != "" {
		if audience, ok := repository.ParseAudience(strings.ToLower(word)); ok {
			return audience, body
		}
	}
	return repository.AudienceAll, rest
}

func cutWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// handleResetFiles 处理 /resetfiles，需追加 confirm 参数才会真正清空文件库
func (b *Bot) handleResetFiles(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	msg := update.Message

	parts := strings.Fields(msg.Text)
	if len(parts) < 2 || parts[1] != "confirm" {
		count, err := b.files.CountAll(ctx)
		if err != nil {
			b.sendErrorMessage(ctx, msg.Chat.ID, "读取文件数量失败，请稍后重试")
			return
		}
		b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf(
			"⚠️ 此操作会删除文件库中的全部 %d 条记录，已发布的领取链接将全部失效。\n\n确认请发送 <code>/resetfiles confirm</code>", count))
		return
	}

	deleted, err := b.files.DeleteAll(ctx)
	if err != nil {
		logger.L().Errorf("Failed to reset files: operator=%d, err=%v", msg.From.ID, err)
		b.sendErrorMessage(ctx, msg.Chat.ID, "清空文件库失败，请稍后重试")
		return
	}

	logger.L().Warnf("File database reset: operator=%d, deleted=%d", msg.From.ID, deleted)
	b.sendSuccessMessage(ctx, msg.Chat.ID, fmt.Sprintf("文件库已清空，共删除 %d 条记录", deleted))
}
