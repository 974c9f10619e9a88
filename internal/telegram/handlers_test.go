package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"filestore_bot/internal/gate"
	"filestore_bot/internal/telegram/models"

	botModels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMedia(t *testing.T) {
	tests := []struct {
		name     string
		msg      *botModels.Message
		wantOK   bool
		wantName string
	}{
		{
			name: "document",
			msg: &botModels.Message{
				ID:       10,
				Chat:     botModels.Chat{ID: -1001},
				Document: &botModels.Document{FileID: "f1", FileUniqueID: "u1", FileName: " Show.S01E01.mkv ", FileSize: 100},
			},
			wantOK:   true,
			wantName: "Show.S01E01.mkv",
		},
		{
			name: "video falls back to caption",
			msg: &botModels.Message{
				ID:      11,
				Chat:    botModels.Chat{ID: -1001},
				Caption: "Movie 2023 1080p\nuploaded by someone",
				Video:   &botModels.Video{FileID: "f2", FileUniqueID: "u2"},
			},
			wantOK:   true,
			wantName: "Movie 2023 1080p",
		},
		{
			name: "audio",
			msg: &botModels.Message{
				ID:    12,
				Chat:  botModels.Chat{ID: -1001},
				Audio: &botModels.Audio{FileID: "f3", FileUniqueID: "u3", FileName: "track.mp3"},
			},
			wantOK:   true,
			wantName: "track.mp3",
		},
		{
			name:   "plain text",
			msg:    &botModels.Message{ID: 13, Chat: botModels.Chat{ID: -1001}, Text: "hello"},
			wantOK: false,
		},
		{
			name: "no usable name",
			msg: &botModels.Message{
				ID:    14,
				Chat:  botModels.Chat{ID: -1001},
				Video: &botModels.Video{FileID: "f4", FileUniqueID: "u4"},
			},
			wantOK: false,
		},
		{
			name: "missing unique id",
			msg: &botModels.Message{
				ID:       15,
				Chat:     botModels.Chat{ID: -1001},
				Document: &botModels.Document{FileID: "f5", FileName: "a.mkv"},
			},
			wantOK: false,
		},
		{
			name:   "nil message",
			msg:    nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, ok := extractMedia(tt.msg)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantName, item.FileName)
			assert.Equal(t, tt.msg.Chat.ID, item.ChatID)
			assert.Equal(t, tt.msg.ID, item.MessageID)
		})
	}
}

func TestRenderOutcome(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		text, buttons := renderOutcome(&gate.Outcome{State: gate.StateNotFound})
		assert.Contains(t, text, "不存在")
		assert.Nil(t, buttons)
	})

	t.Run("join required", func(t *testing.T) {
		text, buttons := renderOutcome(&gate.Outcome{
			State:        gate.StateJoinRequired,
			InviteLink:   "https://t.me/+abc",
			RetryPayload: "retry_tok",
		})
		assert.Contains(t, text, "加入频道")
		require.Len(t, buttons, 2)
		assert.Equal(t, "https://t.me/+abc", buttons[0][0].URL)
		assert.Equal(t, "retry_tok", buttons[1][0].CallbackData)
	})

	t.Run("join required without invite", func(t *testing.T) {
		_, buttons := renderOutcome(&gate.Outcome{State: gate.StateJoinRequired, RetryPayload: "retry_tok"})
		require.Len(t, buttons, 1)
		assert.Equal(t, "retry_tok", buttons[0][0].CallbackData)
	})

	t.Run("verify issued", func(t *testing.T) {
		_, buttons := renderOutcome(&gate.Outcome{
			State:          gate.StateVerifyIssued,
			VerifyURL:      "https://sho.rt/x",
			ConfirmPayload: "finalget_tok",
		})
		require.Len(t, buttons, 2)
		assert.Equal(t, "https://sho.rt/x", buttons[0][0].URL)
		assert.Equal(t, "finalget_tok", buttons[1][0].CallbackData)
	})

	t.Run("dwell wait rounds up", func(t *testing.T) {
		text, buttons := renderOutcome(&gate.Outcome{
			State:          gate.StateDwellWait,
			Remaining:      9200 * time.Millisecond,
			ConfirmPayload: "finalget_tok",
		})
		assert.True(t, strings.Contains(text, "10 秒"), text)
		require.Len(t, buttons, 1)
	})

	t.Run("released", func(t *testing.T) {
		text, buttons := renderOutcome(&gate.Outcome{State: gate.StateReleased})
		assert.Empty(t, text)
		assert.Nil(t, buttons)
	})
}

func TestHandleStart(t *testing.T) {
	verify := &gate.Outcome{State: gate.StateVerifyIssued, VerifyURL: "https://sho.rt/x", ConfirmPayload: "finalget_abc"}

	tests := []struct {
		name        string
		text        string
		outcome     *gate.Outcome
		err         error
		wantCalls   []gateCall
		wantMessage string
	}{
		{
			name:        "get payload enters the gate",
			text:        "/start get_abc",
			outcome:     verify,
			wantCalls:   []gateCall{{method: "request", userID: 42, token: "abc"}},
			wantMessage: "验证任务",
		},
		{
			name:      "finalget payload confirms and releases silently",
			text:      "/start finalget_abc",
			outcome:   &gate.Outcome{State: gate.StateReleased},
			wantCalls: []gateCall{{method: "confirm", userID: 42, token: "abc"}},
		},
		{
			name:        "finalget payload still waiting",
			text:        "/start finalget_abc",
			outcome:     &gate.Outcome{State: gate.StateDwellWait, Remaining: 3 * time.Second, ConfirmPayload: "finalget_abc"},
			wantCalls:   []gateCall{{method: "confirm", userID: 42, token: "abc"}},
			wantMessage: "3 秒",
		},
		{
			name:        "gate error",
			text:        "/start get_abc",
			err:         errors.New("mongo down"),
			wantCalls:   []gateCall{{method: "request", userID: 42, token: "abc"}},
			wantMessage: "处理失败",
		},
		{
			name:        "plain start shows welcome",
			text:        "/start",
			wantMessage: "你好, Ann",
		},
		{
			name:        "unknown payload shows welcome",
			text:        "/start hello",
			wantMessage: "你好, Ann",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeBotAPI{}
			g := &fakeGate{outcome: tt.outcome, err: tt.err}
			b, owners, _ := newHandlerBot(api, g)

			b.handleStart(context.Background(), nil, privateMessage(42, tt.text))

			assert.Equal(t, []int64{42}, owners.ensured)
			assert.Equal(t, tt.wantCalls, g.calls)
			if tt.wantMessage == "" {
				assert.Empty(t, api.messages)
				return
			}
			require.Len(t, api.messages, 1)
			assert.Equal(t, int64(42), api.messages[0].ChatID)
			assert.Contains(t, api.messages[0].Text, tt.wantMessage)
		})
	}
}

func TestHandleConfirm(t *testing.T) {
	tests := []struct {
		name        string
		outcome     *gate.Outcome
		err         error
		wantAnswer  string
		wantAlert   bool
		wantDeleted bool
		wantMessage string
	}{
		{
			name:        "released deletes the prompt",
			outcome:     &gate.Outcome{State: gate.StateReleased},
			wantDeleted: true,
		},
		{
			name:       "dwell wait alerts with remaining seconds",
			outcome:    &gate.Outcome{State: gate.StateDwellWait, Remaining: 4200 * time.Millisecond},
			wantAnswer: "5 秒",
			wantAlert:  true,
		},
		{
			name:       "not found",
			outcome:    &gate.Outcome{State: gate.StateNotFound},
			wantAnswer: "文件不存在",
			wantAlert:  true,
		},
		{
			name:       "gate error",
			err:        errors.New("mongo down"),
			wantAnswer: "文件发送失败",
			wantAlert:  true,
		},
		{
			name:        "session lost issues a new verify link",
			outcome:     &gate.Outcome{State: gate.StateVerifyIssued, VerifyURL: "https://sho.rt/y", ConfirmPayload: "finalget_abc"},
			wantDeleted: true,
			wantMessage: "验证任务",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeBotAPI{}
			g := &fakeGate{outcome: tt.outcome, err: tt.err}
			b, _, _ := newHandlerBot(api, g)

			b.handleConfirm(context.Background(), nil, callbackUpdate(42, "finalget_abc"))

			assert.Equal(t, []gateCall{{method: "confirm", userID: 42, token: "abc"}}, g.calls)

			require.Len(t, api.answers, 1)
			assert.Equal(t, "cb-1", api.answers[0].CallbackQueryID)
			assert.Equal(t, tt.wantAlert, api.answers[0].ShowAlert)
			if tt.wantAnswer == "" {
				assert.Empty(t, api.answers[0].Text)
			} else {
				assert.Contains(t, api.answers[0].Text, tt.wantAnswer)
			}

			if tt.wantDeleted {
				require.Len(t, api.deleted, 1)
				assert.Equal(t, int64(42), api.deleted[0].ChatID)
				assert.Equal(t, 77, api.deleted[0].MessageID)
			} else {
				assert.Empty(t, api.deleted)
			}

			if tt.wantMessage == "" {
				assert.Empty(t, api.messages)
			} else {
				require.Len(t, api.messages, 1)
				assert.Contains(t, api.messages[0].Text, tt.wantMessage)
			}
		})
	}
}

func TestHandleRetry(t *testing.T) {
	tests := []struct {
		name        string
		outcome     *gate.Outcome
		err         error
		wantAnswer  string
		wantAlert   bool
		wantDeleted bool
		wantMessage string
	}{
		{
			name:       "still not joined",
			outcome:    &gate.Outcome{State: gate.StateJoinRequired, RetryPayload: "retry_abc"},
			wantAnswer: "还没有加入频道",
			wantAlert:  true,
		},
		{
			name:        "joined and verify issued",
			outcome:     &gate.Outcome{State: gate.StateVerifyIssued, VerifyURL: "https://sho.rt/x", ConfirmPayload: "finalget_abc"},
			wantDeleted: true,
			wantMessage: "验证任务",
		},
		{
			name:        "joined and released",
			outcome:     &gate.Outcome{State: gate.StateReleased},
			wantDeleted: true,
		},
		{
			name:       "not found",
			outcome:    &gate.Outcome{State: gate.StateNotFound},
			wantAnswer: "文件不存在",
			wantAlert:  true,
		},
		{
			name:       "gate error",
			err:        errors.New("membership lookup failed"),
			wantAnswer: "操作失败",
			wantAlert:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeBotAPI{}
			g := &fakeGate{outcome: tt.outcome, err: tt.err}
			b, _, _ := newHandlerBot(api, g)

			b.handleRetry(context.Background(), nil, callbackUpdate(42, "retry_abc"))

			assert.Equal(t, []gateCall{{method: "retry", userID: 42, token: "abc"}}, g.calls)

			require.Len(t, api.answers, 1)
			assert.Equal(t, tt.wantAlert, api.answers[0].ShowAlert)
			if tt.wantAnswer != "" {
				assert.Contains(t, api.answers[0].Text, tt.wantAnswer)
			}
			assert.Equal(t, tt.wantDeleted, len(api.deleted) == 1)

			if tt.wantMessage == "" {
				assert.Empty(t, api.messages)
			} else {
				require.Len(t, api.messages, 1)
				assert.Contains(t, api.messages[0].Text, tt.wantMessage)
				markup, ok := api.messages[0].ReplyMarkup.(*botModels.InlineKeyboardMarkup)
				require.True(t, ok)
				assert.Equal(t, "finalget_abc", markup.InlineKeyboard[1][0].CallbackData)
			}
		})
	}
}

func TestBotIDFromToken(t *testing.T) {
	tests := []struct {
		token string
		want  int64
	}{
		{"123456:ABC-DEF", 123456},
		{"no-colon", 0},
		{"abc:def", 0},
		{"", 0},
	}

	for _, tt := range tests {
		if got := botIDFromToken(tt.token); got != tt.want {
			t.Fatalf("botIDFromToken(%q) = %d, want %d", tt.token, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0秒"},
		{-time.Second, "0秒"},
		{90 * time.Second, "1分钟 30秒"},
		{26*time.Hour + 5*time.Second, "1天 2小时 5秒"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Fatalf("formatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHandleMyFiles(t *testing.T) {
	t.Run("lists recent files with deep links", func(t *testing.T) {
		api := &fakeBotAPI{}
		b, _, files := newHandlerBot(api, &fakeGate{})
		files.count = 3
		files.recent = []*models.FileRecord{
			{FileName: "Show.S01E02.mkv", RawLink: "https://t.me/c/123/2"},
			{FileName: "Show.S01E01 <pilot>.mkv", RawLink: "https://t.me/c/123/1"},
		}

		b.handleMyFiles(context.Background(), nil, privateMessage(42, "/myfiles"))

		require.Len(t, api.messages, 1)
		text := api.messages[0].Text
		assert.Contains(t, text, "共 3 个，显示最近 2 个")
		assert.Contains(t, text, escape(b.DeepLink("https://t.me/c/123/2")))
		assert.Contains(t, text, "&lt;pilot&gt;")
		assert.Less(t, strings.Index(text, "S01E02"), strings.Index(text, "S01E01"))
	})

	t.Run("no files", func(t *testing.T) {
		api := &fakeBotAPI{}
		b, _, _ := newHandlerBot(api, &fakeGate{})

		b.handleMyFiles(context.Background(), nil, privateMessage(42, "/myfiles"))

		require.Len(t, api.messages, 1)
		assert.Contains(t, api.messages[0].Text, "还没有入库的文件")
	})
}
