// Package batchkey 把文件名归一化为分组键，并提取发帖用的标题与年份
//
// 规则按顺序匹配，命中最早位置的规则决定截断点。新增规则只需追加到
// DefaultRules，不影响聚合逻辑。
package batchkey

import (
	"regexp"
	"strings"
)

// Rule 一条发布元数据匹配规则
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// NewRule 创建大小写不敏感的规则
func NewRule(name, expr string) Rule {
	return Rule{Name: name, Pattern: regexp.MustCompile(`(?i)` + expr)}
}

// DefaultRules 默认的季/集、年份、分辨率、画质与方括号标签规则
func DefaultRules() []Rule {
	return []Rule{
		NewRule("season", `\bS\d{1,2}`),
		NewRule("season_word", `\bSeason\s?\d{1,2}`),
		NewRule("part", `\bPart\s?\d{1,2}`),
		NewRule("episode", `\bE\d{1,3}\b`),
		NewRule("episode_word", `\bEP\s?\d{1,3}\b`),
		NewRule("year", `\b(19|20)\d{2}\b`),
		NewRule("resolution", `\b(4k|2160p|1440p|1080p|720p|576p|480p|360p)\b`),
		NewRule("quality", `\b(bluray|blu-ray|web-?dl|webrip|hdrip|hdtv|dvdrip|brrip|hdcam)\b`),
		NewRule("bracket", `\[.*?\]|\(.*?\)|\{.*?\}`),
	}
}

var (
	extensionExpr  = regexp.MustCompile(`\.\w+$`)
	separatorExpr  = regexp.MustCompile(`[._]`)
	whitespaceExpr = regexp.MustCompile(`\s+`)
	channelTagExpr = regexp.MustCompile(`\[@[^\]]*\]`)
)

// Normalizer 文件名到分组键的转换策略
type Normalizer struct {
	rules []Rule
}

// NewNormalizer 使用给定规则创建 Normalizer，rules 为空时使用 DefaultRules
func NewNormalizer(rules ...Rule) *Normalizer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Normalizer{rules: append([]Rule(nil), rules...)}
}

// Key 计算文件名的分组键
func (n *Normalizer) Key(filename string) string {
	name := prepare(filename)

	cut := -1
	for _, rule := range n.rules {
		loc := rule.Pattern.FindStringIndex(name)
		if loc == nil {
			continue
		}
		if cut < 0 || loc[0] < cut {
			cut = loc[0]
		}
	}

	base := name
	if cut >= 0 {
		base = name[:cut]
	}

	key := collapse(base)
	if key == "" {
		// 文件名以元数据开头时不截断，避免所有此类文件落到同一个空键
		key = collapse(name)
	}
	return strings.ToLower(key)
}

// Match 返回文件名中最先命中的规则名，未命中返回空串
func (n *Normalizer) Match(filename string) string {
	name := prepare(filename)

	best, cut := "", -1
	for _, rule := range n.rules {
		loc := rule.Pattern.FindStringIndex(name)
		if loc != nil && (cut < 0 || loc[0] < cut) {
			best, cut = rule.Name, loc[0]
		}
	}
	return best
}

func prepare(filename string) string {
	name := channelTagExpr.ReplaceAllString(filename, " ")
	name = extensionExpr.ReplaceAllString(strings.TrimSpace(name), "")
	return separatorExpr.ReplaceAllString(name, " ")
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceExpr.ReplaceAllString(s, " "))
}
