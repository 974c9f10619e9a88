package pipeline

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"filestore_bot/internal/batchkey"
	"filestore_bot/internal/logger"
	"filestore_bot/internal/telegram/models"

	"golang.org/x/net/html"
)

const (
	// 图片说明长度上限，超出时改发纯文本
	maxCaptionLength = 1024
	// 单条消息长度上限，超出时拆成多条
	maxMessageLength = 4096
)

// Telegram HTML 模式支持的标签
var captionTags = map[string]bool{
	"b": true, "strong": true, "i": true, "em": true, "u": true, "ins": true,
	"s": true, "strike": true, "del": true, "a": true, "code": true, "pre": true,
	"span": true, "tg-spoiler": true, "tg-emoji": true, "blockquote": true,
}

var captionEntity = regexp.MustCompile(`&(lt|gt|amp|quot|#[0-9]+|#x[0-9a-fA-F]+);`)

// LinkFunc 根据原始引用生成公开深链
type LinkFunc func(rawLink string) string

// RenderPosts 渲染分组帖子：标题行、每个文件一条深链、附加文案与底部按钮
// files 需已排序，标题取第一个文件；正文超过单条消息上限时按文件拆分，按钮只挂在最后一条
func RenderPosts(owner *models.OwnerConfig, files []*models.FileRecord, link LinkFunc) ([]*Post, string, string) {
	title, year := batchkey.CleanTitle(files[0].FileName)

	blocks := make([]string, 0, len(files)+2)
	blocks = append(blocks, fmt.Sprintf("🎬 <b>%s</b>", html.EscapeString(batchkey.Heading(title, year))))
	for _, file := range files {
		blocks = append(blocks, fmt.Sprintf("📁 <code>%s</code>\n\n<a href=\"%s\">🔗 Click Here</a>",
			html.EscapeString(batchkey.Label(file.FileName)), html.EscapeString(link(file.RawLink))))
	}
	if caption := safeCaption(owner.CustomCaption); caption != "" {
		blocks = append(blocks, "\n"+caption)
	}

	parts := packBlocks(blocks, maxMessageLength)
	posts := make([]*Post, 0, len(parts))
	for _, part := range parts {
		posts = append(posts, &Post{Text: part})
	}
	posts[len(posts)-1].Buttons = footerButtons(owner.FooterButtons)
	return posts, title, year
}

// packBlocks 将段落依次装入不超过 limit 的消息，段落之间空一行
func packBlocks(blocks []string, limit int) []string {
	var parts []string
	var current strings.Builder
	size := 0

	for _, block := range blocks {
		n := utf8.RuneCountInString(block)
		if size > 0 && size+2+n > limit {
			parts = append(parts, current.String())
			current.Reset()
			size = 0
			block = strings.TrimLeft(block, "\n")
			n = utf8.RuneCountInString(block)
		}
		if size > 0 {
			current.WriteString("\n\n")
			size += 2
		}
		current.WriteString(block)
		size += n
	}
	if size > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// safeCaption 校验用户文案是否为 Telegram 可接受的 HTML，不合法时整体转义
func safeCaption(caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return ""
	}
	if !validCaptionHTML(caption) {
		logger.L().Warnf("Custom caption is not valid HTML, escaping it: length=%d", utf8.RuneCountInString(caption))
		caption = html.EscapeString(caption)
	}
	if utf8.RuneCountInString(caption) >= maxMessageLength {
		logger.L().Warnf("Custom caption exceeds message limit, dropping it: length=%d", utf8.RuneCountInString(caption))
		return ""
	}
	return caption
}

// validCaptionHTML 只允许受支持的标签且必须成对闭合，文本中不能出现裸的 < > 或未知实体
func validCaptionHTML(s string) bool {
	z := html.NewTokenizer(strings.NewReader(s))
	var open []string

	for {
		switch z.Next() {
		case html.ErrorToken:
			return z.Err() == io.EOF && len(open) == 0
		case html.TextToken:
			raw := string(z.Raw())
			if strings.ContainsAny(raw, "<>") {
				return false
			}
			if strings.Contains(captionEntity.ReplaceAllString(raw, ""), "&") {
				return false
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if !captionTags[string(name)] {
				return false
			}
			open = append(open, string(name))
		case html.EndTagToken:
			name, _ := z.TagName()
			if len(open) == 0 || open[len(open)-1] != string(name) {
				return false
			}
			open = open[:len(open)-1]
		default:
			return false
		}
	}
}

func footerButtons(buttons []models.FooterButton) [][]Button {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]Button, 0, len(buttons))
	for _, btn := range buttons {
		if btn.Name == "" || btn.URL == "" {
			continue
		}
		rows = append(rows, []Button{{Text: btn.Name, URL: btn.URL}})
	}
	if len(rows) == 0 {
		return nil
	}
	return rows
}

// captionFits 判断正文能否作为图片说明发送
func captionFits(text string) bool {
	return utf8.RuneCountInString(text) <= maxCaptionLength
}
