// Package poster 通过 IMDb 搜索页查找影片海报
package poster

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"filestore_bot/internal/logger"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultBaseURL = "https://www.imdb.com"
	userAgent      = "Mozilla/5.0"
)

// IMDbFinder 抓取 IMDb 搜索结果与影片页，提取主海报
type IMDbFinder struct {
	client  *http.Client
	baseURL string
}

// NewIMDbFinder 创建海报查找器；baseURL 为空时使用 IMDb 官方地址
func NewIMDbFinder(client *http.Client, baseURL string) *IMDbFinder {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &IMDbFinder{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// FindCover 查找海报地址，任何失败都返回 false
func (f *IMDbFinder) FindCover(ctx context.Context, title, year string) (string, bool) {
	query := strings.TrimSpace(strings.TrimSpace(title) + " " + strings.TrimSpace(year))
	if query == "" {
		return "", false
	}

	cover, err := f.find(ctx, query)
	if err != nil {
		logger.L().Warnf("Poster lookup failed: query=%q, err=%v", query, err)
		return "", false
	}
	if cover == "" {
		logger.L().Debugf("No poster found: query=%q", query)
		return "", false
	}
	return cover, true
}

func (f *IMDbFinder) find(ctx context.Context, query string) (string, error) {
	searchURL := f.baseURL + "/find?q=" + url.QueryEscape(query)
	doc, err := f.fetchDocument(ctx, searchURL)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}

	href, ok := doc.Find("a.ipc-metadata-list-summary-item__t").First().Attr("href")
	if !ok || href == "" {
		return "", nil
	}
	href, _, _ = strings.Cut(href, "?")
	if !strings.HasPrefix(href, "http") {
		href = f.baseURL + href
	}

	titleDoc, err := f.fetchDocument(ctx, href)
	if err != nil {
		return "", fmt.Errorf("title page: %w", err)
	}

	src, ok := titleDoc.Find(`div[data-testid="hero-media__poster"] img.ipc-image`).First().Attr("src")
	if !ok || src == "" {
		return "", nil
	}
	cover := upscale(src)

	if !f.verify(ctx, cover) {
		return "", nil
	}
	logger.L().Infof("Found poster: query=%q", query)
	return cover, nil
}

// upscale 把 IMDb 缩略图地址改写为 1000px 宽的 jpg
func upscale(src string) string {
	base, _, found := strings.Cut(src, "_V1_")
	if !found {
		return src
	}
	return base + "_V1_FMjpg_UX1000_.jpg"
}

// verify HEAD 校验图片；请求本身失败时仍然返回 true
func (f *IMDbFinder) verify(ctx context.Context, cover string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, cover, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		logger.L().Warnf("Could not verify poster URL, using it anyway: %s", cover)
		return true
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK && strings.Contains(resp.Header.Get("Content-Type"), "image")
}

func (f *IMDbFinder) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imdb returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}
