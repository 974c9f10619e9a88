// Package linkcodec 负责文件原始引用与公开深链之间的可逆编码
package linkcodec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// 深链 start 参数前缀
const (
	PrefixGet      = "get_"      // 入口：进入访问门禁
	PrefixFinalGet = "finalget_" // 验证完成后领取文件
	PrefixRetry    = "retry_"    // 加入频道后重新检查
)

// 原始引用格式：https://t.me/c/<去掉 -100 前缀的频道 ID>/<消息 ID>
const rawLinkPrefix = "https://t.me/c/"

// ErrInvalidToken token 无法解码
var ErrInvalidToken = errors.New("invalid link token")

// Encode 将原始引用编码为 URL 安全、无填充的 token
func Encode(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode 解码 token，格式错误时返回 ErrInvalidToken
func Decode(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	// 兼容带 "=" 填充的旧 token
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(data) == 0 || !utf8.Valid(data) {
		return "", ErrInvalidToken
	}
	return string(data), nil
}

// RawLink 根据存储频道与消息 ID 构造原始引用
func RawLink(chatID int64, messageID int) string {
	id := strconv.FormatInt(chatID, 10)
	id = strings.TrimPrefix(id, "-100")
	id = strings.TrimPrefix(id, "-")
	return rawLinkPrefix + id + "/" + strconv.Itoa(messageID)
}

// ParseRawLink 将原始引用还原为频道 ID 与消息 ID
func ParseRawLink(raw string) (int64, int, error) {
	rest, ok := strings.CutPrefix(raw, rawLinkPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected raw link: %q", raw)
	}

	chatPart, msgPart, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, fmt.Errorf("unexpected raw link: %q", raw)
	}

	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chatID <= 0 {
		return 0, 0, fmt.Errorf("invalid chat id in raw link %q", raw)
	}
	messageID, err := strconv.Atoi(msgPart)
	if err != nil || messageID <= 0 {
		return 0, 0, fmt.Errorf("invalid message id in raw link %q", raw)
	}

	fullID, err := strconv.ParseInt("-100"+chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id in raw link %q", raw)
	}
	return fullID, messageID, nil
}

// DeepLink 构造 https://t.me/<bot>?start=get_<token>
func DeepLink(botUsername, raw string) string {
	username := strings.TrimPrefix(strings.TrimSpace(botUsername), "@")
	return "https://t.me/" + username + "?start=" + url.QueryEscape(PrefixGet+Encode(raw))
}

// Action start 参数对应的门禁动作
type Action int

const (
	ActionNone Action = iota
	ActionGet
	ActionFinalGet
	ActionRetry
)

// ParsePayload 解析 start 参数或回调数据，返回动作与 token
func ParsePayload(payload string) (Action, string) {
	payload = strings.TrimSpace(payload)

	switch {
	case strings.HasPrefix(payload, PrefixFinalGet):
		return ActionFinalGet, strings.TrimPrefix(payload, PrefixFinalGet)
	case strings.HasPrefix(payload, PrefixGet):
		return ActionGet, strings.TrimPrefix(payload, PrefixGet)
	case strings.HasPrefix(payload, PrefixRetry):
		return ActionRetry, strings.TrimPrefix(payload, PrefixRetry)
	default:
		return ActionNone, ""
	}
}
