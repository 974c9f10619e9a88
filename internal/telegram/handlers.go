package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"filestore_bot/internal/gate"
	"filestore_bot/internal/linkcodec"
	"filestore_bot/internal/logger"
	"filestore_bot/internal/pipeline"
	"filestore_bot/internal/telegram/repository"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// registerHandlers 注册所有命令处理器（异步执行）
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix,
		b.asyncHandler(b.RequirePrivate(b.handleStart)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/myfiles", bot.MatchTypeExact,
		b.asyncHandler(b.RequirePrivate(b.handleMyFiles)))

	// 门禁回调
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, linkcodec.PrefixFinalGet, bot.MatchTypePrefix,
		b.asyncHandler(b.handleConfirm))
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, linkcodec.PrefixRetry, bot.MatchTypePrefix,
		b.asyncHandler(b.handleRetry))

	// 管理员命令
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOperator(b.handleStats)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/setstorage", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOperator(b.handleSetStorage)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/connect_db", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOperator(b.handleConnectDB)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/broadcast", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOperator(b.handleBroadcast)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/resetfiles", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOperator(b.handleResetFiles)))

	logger.L().Debug("All handlers registered with async execution")
}

// handleDefault 处理未匹配命令的更新，频道文件在这里进入入库队列
func (b *Bot) handleDefault(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	if update.ChannelPost != nil {
		b.handleChannelPost(ctx, update.ChannelPost)
	}
}

// handleChannelPost 把索引频道中的新文件路由给所属用户并入队
func (b *Bot) handleChannelPost(ctx context.Context, msg *botModels.Message) {
	chatID := msg.Chat.ID
	if chatID == b.storage.StorageChannel() {
		return
	}

	item, ok := extractMedia(msg)
	if !ok {
		return
	}

	ownerID, found := b.resolveOwner(ctx, chatID)
	if !found {
		logger.L().Debugf("Channel post from unconfigured channel ignored: chat_id=%d", chatID)
		return
	}

	item.OwnerID = ownerID
	b.queue.Enqueue(item)
	logger.L().Infof("Queued file: owner_id=%d, chat_id=%d, message_id=%d, file=%q, queue=%d",
		ownerID, chatID, msg.ID, item.FileName, b.queue.Len())
}

// resolveOwner 查找索引频道所属用户，结果短期缓存
func (b *Bot) resolveOwner(ctx context.Context, chatID int64) (int64, bool) {
	if ownerID, found, cached := b.routes.Get(chatID); cached {
		return ownerID, found
	}

	ownerID, err := b.owners.FindOwnerByDBChannel(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrOwnerNotFound) {
			b.routes.Set(chatID, 0, false)
		} else {
			logger.L().Errorf("Failed to route channel post: chat_id=%d, err=%v", chatID, err)
		}
		return 0, false
	}

	b.routes.Set(chatID, ownerID, true)
	return ownerID, true
}

// extractMedia 提取文档、视频或音频的元数据；没有可用名称时忽略
func extractMedia(msg *botModels.Message) (*pipeline.IngestedItem, bool) {
	if msg == nil {
		return nil, false
	}

	item := &pipeline.IngestedItem{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
	}

	switch {
	case msg.Document != nil:
		item.FileID = msg.Document.FileID
		item.FileUniqueID = msg.Document.FileUniqueID
		item.FileName = msg.Document.FileName
		item.FileSize = msg.Document.FileSize
	case msg.Video != nil:
		item.FileID = msg.Video.FileID
		item.FileUniqueID = msg.Video.FileUniqueID
		item.FileName = msg.Video.FileName
		item.FileSize = msg.Video.FileSize
	case msg.Audio != nil:
		item.FileID = msg.Audio.FileID
		item.FileUniqueID = msg.Audio.FileUniqueID
		item.FileName = msg.Audio.FileName
		item.FileSize = msg.Audio.FileSize
	default:
		return nil, false
	}

	item.FileName = strings.TrimSpace(item.FileName)
	if item.FileName == "" {
		caption, _, _ := strings.Cut(strings.TrimSpace(msg.Caption), "\n")
		item.FileName = strings.TrimSpace(caption)
	}
	if item.FileName == "" || item.FileUniqueID == "" {
		return nil, false
	}
	return item, true
}

// handleStart 处理 /start，带 get_/finalget_ 参数时进入门禁流程
func (b *Bot) handleStart(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	msg := update.Message
	if msg.From == nil || msg.From.IsBot {
		return
	}
	userID := msg.From.ID

	if err := b.owners.EnsureOwner(ctx, userID); err != nil {
		logger.L().Warnf("Failed to ensure owner %d: %v", userID, err)
	}

	parts := strings.Fields(msg.Text)
	if len(parts) > 1 {
		action, token := linkcodec.ParsePayload(parts[1])
		switch action {
		case linkcodec.ActionGet:
			outcome, err := b.gate.Request(ctx, userID, token)
			b.replyOutcome(ctx, msg.Chat.ID, outcome, err)
			return
		case linkcodec.ActionFinalGet:
			outcome, err := b.gate.Confirm(ctx, userID, token)
			b.replyOutcome(ctx, msg.Chat.ID, outcome, err)
			return
		}
	}

	b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf(
		"👋 你好, %s!\n\n把 Bot 加入你的索引频道并完成配置后，新上传的文件会自动整理并发布到你的频道。",
		escape(msg.From.FirstName),
	))
}

// handleConfirm 处理「获取文件」回调
func (b *Bot) handleConfirm(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}
	_, token := linkcodec.ParsePayload(query.Data)

	outcome, err := b.gate.Confirm(ctx, query.From.ID, token)
	if err != nil {
		logger.L().Errorf("Failed to release file: user_id=%d, err=%v", query.From.ID, err)
		b.answerCallback(ctx, query, "文件发送失败，请稍后重试", true)
		return
	}

	switch outcome.State {
	case gate.StateReleased:
		b.answerCallback(ctx, query, "", false)
		b.deletePrompt(ctx, query)
	case gate.StateDwellWait:
		b.answerCallback(ctx, query, fmt.Sprintf("⏳ 请先完成验证任务，还需等待 %d 秒", ceilSeconds(outcome)), true)
	case gate.StateNotFound:
		b.answerCallback(ctx, query, "文件不存在或已被删除", true)
	default:
		b.answerCallback(ctx, query, "", false)
		b.deletePrompt(ctx, query)
		b.replyOutcome(ctx, query.From.ID, outcome, nil)
	}
}

// handleRetry 处理「重试」回调，重新检查关注状态
func (b *Bot) handleRetry(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}
	_, token := linkcodec.ParsePayload(query.Data)

	outcome, err := b.gate.Retry(ctx, query.From.ID, token)
	if err != nil {
		logger.L().Errorf("Failed to retry gate check: user_id=%d, err=%v", query.From.ID, err)
		b.answerCallback(ctx, query, "操作失败，请稍后重试", true)
		return
	}

	switch outcome.State {
	case gate.StateJoinRequired:
		b.answerCallback(ctx, query, "你还没有加入频道", true)
	case gate.StateNotFound:
		b.answerCallback(ctx, query, "文件不存在或已被删除", true)
	default:
		b.answerCallback(ctx, query, "", false)
		b.deletePrompt(ctx, query)
		b.replyOutcome(ctx, query.From.ID, outcome, nil)
	}
}

// replyOutcome 把门禁结果发送给用户
func (b *Bot) replyOutcome(ctx context.Context, chatID int64, outcome *gate.Outcome, err error) {
	if err != nil {
		logger.L().Errorf("Gate request failed: chat_id=%d, err=%v", chatID, err)
		b.sendErrorMessage(ctx, chatID, "处理失败，请稍后重试")
		return
	}

	text, buttons := renderOutcome(outcome)
	if text == "" {
		return
	}
	b.sendWithButtons(ctx, chatID, text, buttons)
}

// renderOutcome 门禁结果对应的提示文本与按钮；放行时无需提示
func renderOutcome(outcome *gate.Outcome) (string, [][]pipeline.Button) {
	switch outcome.State {
	case gate.StateNotFound:
		return "❌ 文件不存在或已被删除", nil
	case gate.StateJoinRequired:
		var rows [][]pipeline.Button
		if outcome.InviteLink != "" {
			rows = append(rows, []pipeline.Button{{Text: "📢 加入频道", URL: outcome.InviteLink}})
		}
		rows = append(rows, []pipeline.Button{{Text: "🔄 重试", CallbackData: outcome.RetryPayload}})
		return "⚠️ 请先加入频道后再获取文件", rows
	case gate.StateVerifyIssued:
		return "🔐 请先完成下方链接中的验证任务，然后点击「获取文件」", [][]pipeline.Button{
			{{Text: "👉 完成验证任务", URL: outcome.VerifyURL}},
			{{Text: "✅ 获取文件", CallbackData: outcome.ConfirmPayload}},
		}
	case gate.StateDwellWait:
		return fmt.Sprintf("⏳ 请先完成验证任务，还需等待 %d 秒", ceilSeconds(outcome)), [][]pipeline.Button{
			{{Text: "✅ 获取文件", CallbackData: outcome.ConfirmPayload}},
		}
	default:
		return "", nil
	}
}

// handleStats 处理 /stats
func (b *Bot) handleStats(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	b.sendMessage(ctx, update.Message.Chat.ID, b.buildStatsMessage(ctx))
}

// handleSetStorage 处理 /setstorage <channel_id>
func (b *Bot) handleSetStorage(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	msg := update.Message

	parts := strings.Fields(msg.Text)
	if len(parts) < 2 {
		b.sendErrorMessage(ctx, msg.Chat.ID, "用法: /setstorage <channel_id>\n例如: /setstorage -1001234567890")
		return
	}

	channelID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || channelID >= 0 {
		b.sendErrorMessage(ctx, msg.Chat.ID, "无效的频道 ID")
		return
	}

	if err := b.verifyStorageAccess(ctx, channelID); err != nil {
		b.sendErrorMessage(ctx, msg.Chat.ID, fmt.Sprintf("无法访问频道 <code>%d</code>: %s", channelID, escape(err.Error())))
		return
	}

	if err := b.storage.Set(ctx, channelID, msg.From.ID); err != nil {
		logger.L().Errorf("Failed to save storage channel: %v", err)
		b.sendErrorMessage(ctx, msg.Chat.ID, "保存失败，请稍后重试")
		return
	}

	b.sendSuccessMessage(ctx, msg.Chat.ID, fmt.Sprintf("存储频道已设置为 <code>%d</code>", channelID))
}

// handleConnectDB 处理 /connect_db，检查存储频道是否可用
func (b *Bot) handleConnectDB(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	msg := update.Message

	channelID := b.storage.StorageChannel()
	if channelID == 0 {
		b.sendErrorMessage(ctx, msg.Chat.ID, "尚未设置存储频道，请先使用 /setstorage")
		return
	}

	if err := b.verifyStorageAccess(ctx, channelID); err != nil {
		b.sendErrorMessage(ctx, msg.Chat.ID, fmt.Sprintf("存储频道 <code>%d</code> 不可用: %s", channelID, escape(err.Error())))
		return
	}

	b.sendSuccessMessage(ctx, msg.Chat.ID, fmt.Sprintf("存储频道 <code>%d</code> 连接正常", channelID))
}

// verifyStorageAccess 确认 Bot 是频道管理员
func (b *Bot) verifyStorageAccess(ctx context.Context, channelID int64) error {
	if b.botID == 0 {
		return fmt.Errorf("bot id unknown")
	}

	status, err := b.messenger.api.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: channelID,
		UserID: b.botID,
	})
	if err != nil {
		return err
	}
	if status.Type != botModels.ChatMemberTypeAdministrator && status.Type != botModels.ChatMemberTypeOwner {
		return fmt.Errorf("bot is not an administrator of the channel")
	}
	return nil
}

func ceilSeconds(outcome *gate.Outcome) int {
	return int(math.Ceil(outcome.Remaining.Seconds()))
}
