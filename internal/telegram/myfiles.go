package telegram

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"filestore_bot/internal/batchkey"
	"filestore_bot/internal/logger"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

const (
	myFilesLimit     = 20
	maxMessageLength = 4096
)

// handleMyFiles 处理 /myfiles，列出用户最近入库的文件及领取链接
func (b *Bot) handleMyFiles(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	msg := update.Message
	if msg.From == nil {
		return
	}
	userID := msg.From.ID

	total, err := b.files.CountByOwner(ctx, userID)
	if err != nil {
		logger.L().Errorf("Failed to count files: user_id=%d, err=%v", userID, err)
		b.sendErrorMessage(ctx, msg.Chat.ID, "读取文件失败，请稍后重试")
		return
	}
	if total == 0 {
		b.sendMessage(ctx, msg.Chat.ID, "📂 你还没有入库的文件")
		return
	}

	files, err := b.files.ListByOwner(ctx, userID, myFilesLimit)
	if err != nil {
		logger.L().Errorf("Failed to list files: user_id=%d, err=%v", userID, err)
		b.sendErrorMessage(ctx, msg.Chat.ID, "读取文件失败，请稍后重试")
		return
	}

	var text strings.Builder
	fmt.Fprintf(&text, "📂 <b>我的文件</b>（共 %d 个，显示最近 %d 个）\n\n", total, len(files))
	for _, file := range files {
		line := fmt.Sprintf("📁 <a href=\"%s\">%s</a>\n", escape(b.DeepLink(file.RawLink)), escape(batchkey.Label(file.FileName)))
		if utf8.RuneCountInString(text.String())+utf8.RuneCountInString(line) > maxMessageLength {
			break
		}
		text.WriteString(line)
	}

	b.sendMessage(ctx, msg.Chat.ID, strings.TrimRight(text.String(), "\n"))
}
