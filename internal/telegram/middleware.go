package telegram

import (
	"context"

	"filestore_bot/internal/logger"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// RequireOperator 中间件：仅允许 BOT_OWNER_IDS 中的运维账号执行
func (b *Bot) RequireOperator(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}

		if !b.isOperator(update.Message.From.ID) {
			logger.L().Warnf("Non-operator user %d attempted to use admin command %q", update.Message.From.ID, update.Message.Text)
			b.sendErrorMessage(ctx, update.Message.Chat.ID, "此命令仅限 Bot 管理员使用")
			return
		}

		next(ctx, botInstance, update)
	}
}

// RequirePrivate 中间件：仅处理私聊消息
func (b *Bot) RequirePrivate(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		if update.Message == nil || update.Message.Chat.Type != botModels.ChatTypePrivate {
			return
		}
		next(ctx, botInstance, update)
	}
}

// asyncHandler 把 handler 放入工作池执行
func (b *Bot) asyncHandler(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		b.workerPool.Submit(HandlerTask{
			Ctx:         ctx,
			BotInstance: botInstance,
			Update:      update,
			Handler:     next,
		})
	}
}

func (b *Bot) isOperator(userID int64) bool {
	for _, id := range b.operatorIDs {
		if id == userID {
			return true
		}
	}
	return false
}
