package batchkey

import (
	"regexp"
	"strings"
)

var (
	yearExpr  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	groupExpr = regexp.MustCompile(`\[.*?\]|\(.*?\)|\{.*?\}`)
)

// 标题中需要剔除的画质、编码、语言与季集标记
var titleTagExprs = compileTags(
	`1080p`, `720p`, `480p`, `2160p`, `4k`, `HD`, `FHD`, `UHD`, `BluRay`, `WEBRip`, `WEB-DL`,
	`HDRip`, `x264`, `x265`, `HEVC`, `AAC`, `Dual Audio`, `Hindi`, `English`, `Esubs`,
	`S\d+E\d+`, `S\d+`, `Season\s?\d+`, `Part\s?\d+`, `E\d+`, `EP\d+`,
)

func compileTags(tags ...string) []*regexp.Regexp {
	exprs := make([]*regexp.Regexp, 0, len(tags))
	for _, tag := range tags {
		exprs = append(exprs, regexp.MustCompile(`(?i)\b`+tag+`\b`))
	}
	return exprs
}

// CleanTitle 从文件名提取展示标题与年份（无年份时 year 为空）
func CleanTitle(filename string) (title, year string) {
	if strings.TrimSpace(filename) == "" {
		return "Untitled", ""
	}

	name := channelTagExpr.ReplaceAllString(filename, "")
	cleaned := extensionExpr.ReplaceAllString(strings.TrimSpace(name), "")
	cleaned = separatorExpr.ReplaceAllString(cleaned, " ")

	if loc := yearExpr.FindStringIndex(cleaned); loc != nil {
		year = cleaned[loc[0]:loc[1]]
		cleaned = cleaned[:loc[0]]
	}

	cleaned = groupExpr.ReplaceAllString(cleaned, "")
	for _, expr := range titleTagExprs {
		cleaned = expr.ReplaceAllString(cleaned, "")
	}

	title = collapse(cleaned)
	if title == "" {
		title = collapse(strings.ReplaceAll(extensionExpr.ReplaceAllString(strings.TrimSpace(name), ""), ".", " "))
	}
	if title == "" {
		title = "Untitled"
	}
	return title, year
}

// Heading 标题与年份拼接为 "Title (Year)"
func Heading(title, year string) string {
	if year == "" {
		return title
	}
	return title + " (" + year + ")"
}

// Label 去掉频道标签后的展示名称
func Label(filename string) string {
	return collapse(channelTagExpr.ReplaceAllString(filename, ""))
}
