package telegram

import (
	"context"
	"html"

	botModels "github.com/go-telegram/bot/models"

	"filestore_bot/internal/logger"
	"filestore_bot/internal/pipeline"
)

// sendMessage 发送消息（统一错误处理，使用 HTML 格式）
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) {
	if err := b.messenger.SendText(ctx, chatID, text); err != nil {
		logger.L().Errorf("Failed to send message to chat %d: %v", chatID, err)
	}
}

// sendWithButtons 发送带内联按钮的消息
func (b *Bot) sendWithButtons(ctx context.Context, chatID int64, text string, buttons [][]pipeline.Button) {
	if err := b.messenger.SendWithButtons(ctx, chatID, text, buttons); err != nil {
		logger.L().Errorf("Failed to send message to chat %d: %v", chatID, err)
	}
}

// sendErrorMessage 发送错误消息
func (b *Bot) sendErrorMessage(ctx context.Context, chatID int64, message string) {
	b.sendMessage(ctx, chatID, "❌ "+message)
}

// sendSuccessMessage 发送成功消息
func (b *Bot) sendSuccessMessage(ctx context.Context, chatID int64, message string) {
	b.sendMessage(ctx, chatID, "✅ "+message)
}

// answerCallback 应答回调，alert 为 true 时弹窗提示
func (b *Bot) answerCallback(ctx context.Context, query *botModels.CallbackQuery, text string, alert bool) {
	if err := b.messenger.AnswerCallback(ctx, query.ID, text, alert); err != nil {
		logger.L().Warnf("Failed to answer callback query %s: %v", query.ID, err)
	}
}

// deletePrompt 删除回调所在的提示消息
func (b *Bot) deletePrompt(ctx context.Context, query *botModels.CallbackQuery) {
	msg := query.Message.Message
	if msg == nil {
		return
	}
	if err := b.messenger.DeleteMessage(ctx, msg.Chat.ID, msg.ID); err != nil {
		logger.L().Warnf("Failed to delete prompt message: chat_id=%d, message_id=%d, err=%v", msg.Chat.ID, msg.ID, err)
	}
}

func escape(s string) string {
	return html.EscapeString(s)
}
