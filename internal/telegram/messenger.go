package telegram

import (
	"context"
	"fmt"
	"time"

	"filestore_bot/internal/gate"
	"filestore_bot/internal/pipeline"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// botAPI Messenger 使用到的 Bot API 子集
type botAPI interface {
	CopyMessage(ctx context.Context, params *bot.CopyMessageParams) (*botModels.MessageID, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*botModels.Message, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*botModels.ChatMember, error)
	ExportChatInviteLink(ctx context.Context, params *bot.ExportChatInviteLinkParams) (string, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// Messenger 把 Bot API 适配为入库、发帖与门禁流程使用的消息平台接口
type Messenger struct {
	api   botAPI
	sleep func(context.Context, time.Duration) error
}

// NewMessenger 创建消息平台适配器
func NewMessenger(api botAPI) *Messenger {
	return &Messenger{api: api, sleep: sleepContext}
}

var (
	_ pipeline.Messenger = (*Messenger)(nil)
	_ gate.Platform      = (*Messenger)(nil)
)

// CopyItem 复制消息，不可达错误包装为 pipeline.ErrDestinationUnreachable
func (m *Messenger) CopyItem(ctx context.Context, toChatID, fromChatID int64, messageID int, caption string) (int, error) {
	params := &bot.CopyMessageParams{
		ChatID:     toChatID,
		FromChatID: fromChatID,
		MessageID:  messageID,
	}
	if caption != "" {
		params.Caption = caption
		params.ParseMode = botModels.ParseModeHTML
	}

	var newID int
	err := withRetry(ctx, m.sleep, toChatID, "Copy message", func() error {
		result, err := m.api.CopyMessage(ctx, params)
		if err != nil {
			return err
		}
		newID = result.ID
		return nil
	})
	if err != nil {
		return 0, classify(err, "copy message to %d", toChatID)
	}
	return newID, nil
}

// Publish 发布帖子：有海报时发图片，否则发文本；不重试
func (m *Messenger) Publish(ctx context.Context, chatID int64, post *pipeline.Post) error {
	markup := inlineKeyboard(post.Buttons)

	var err error
	if post.CoverURL != "" {
		params := &bot.SendPhotoParams{
			ChatID:    chatID,
			Photo:     &botModels.InputFileString{Data: post.CoverURL},
			Caption:   post.Text,
			ParseMode: botModels.ParseModeHTML,
		}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		_, err = m.api.SendPhoto(ctx, params)
	} else {
		params := &bot.SendMessageParams{
			ChatID:             chatID,
			Text:               post.Text,
			ParseMode:          botModels.ParseModeHTML,
			LinkPreviewOptions: &botModels.LinkPreviewOptions{IsDisabled: bot.True()},
		}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		_, err = m.api.SendMessage(ctx, params)
	}
	if err != nil {
		return classify(err, "publish to %d", chatID)
	}
	return nil
}

// SendText 发送 HTML 文本
func (m *Messenger) SendText(ctx context.Context, chatID int64, text string) error {
	return m.SendWithButtons(ctx, chatID, text, nil)
}

// SendWithButtons 发送带内联按钮的 HTML 文本
func (m *Messenger) SendWithButtons(ctx context.Context, chatID int64, text string, buttons [][]pipeline.Button) error {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: botModels.ParseModeHTML,
	}
	if markup := inlineKeyboard(buttons); markup != nil {
		params.ReplyMarkup = markup
	}

	err := withRetry(ctx, m.sleep, chatID, "Send message", func() error {
		_, err := m.api.SendMessage(ctx, params)
		return err
	})
	if err != nil {
		return classify(err, "send message to %d", chatID)
	}
	return nil
}

// Membership 查询用户在频道中的状态
func (m *Messenger) Membership(ctx context.Context, chatID, userID int64) (gate.MemberStatus, error) {
	member, err := m.api.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chatID,
		UserID: userID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get chat member: %w", err)
	}
	return memberStatus(member), nil
}

// InviteLink 导出频道邀请链接
func (m *Messenger) InviteLink(ctx context.Context, chatID int64) (string, error) {
	link, err := m.api.ExportChatInviteLink(ctx, &bot.ExportChatInviteLinkParams{ChatID: chatID})
	if err != nil {
		return "", fmt.Errorf("failed to export invite link: %w", err)
	}
	return link, nil
}

// DeleteMessage 删除消息
func (m *Messenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if _, err := m.api.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: messageID}); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// AnswerCallback 应答回调，alert 为 true 时弹窗提示
func (m *Messenger) AnswerCallback(ctx context.Context, queryID, text string, alert bool) error {
	if _, err := m.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	}); err != nil {
		return fmt.Errorf("failed to answer callback query: %w", err)
	}
	return nil
}

func memberStatus(member *botModels.ChatMember) gate.MemberStatus {
	if member == nil {
		return gate.MemberLeft
	}
	switch member.Type {
	case botModels.ChatMemberTypeOwner, botModels.ChatMemberTypeAdministrator, botModels.ChatMemberTypeMember:
		return gate.MemberActive
	case botModels.ChatMemberTypeRestricted:
		return gate.MemberRestricted
	case botModels.ChatMemberTypeBanned:
		return gate.MemberBanned
	default:
		return gate.MemberLeft
	}
}

func classify(err error, format string, args ...any) error {
	op := fmt.Sprintf(format, args...)
	if isUnreachable(err) {
		return fmt.Errorf("%s: %w: %w", op, pipeline.ErrDestinationUnreachable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func inlineKeyboard(rows [][]pipeline.Button) *botModels.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	keyboard := make([][]botModels.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]botModels.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, botModels.InlineKeyboardButton{
				Text:         btn.Text,
				URL:          btn.URL,
				CallbackData: btn.CallbackData,
			})
		}
		if len(buttons) > 0 {
			keyboard = append(keyboard, buttons)
		}
	}
	if len(keyboard) == 0 {
		return nil
	}
	return &botModels.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}
