// Package crawler 抓取网页并提取可读正文。
//
// 提供两种操作：FetchExcerpt 获取单个页面的正文摘要，失败时由调用方降级为占位文本；
// CrawlSite 以广度优先方式在同一站点内发现子页面，并完整抓取种子页与子页面，
// 任一页面失败则整体失败。
package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ragchat-go/pkg/log"
)

// CacheMode 控制是否复用已抓取页面。
type CacheMode string

const (
	CacheBypass CacheMode = "bypass"
	CacheUse    CacheMode = "use"
)

var (
	// ErrIncompleteCrawl 表示站点抓取中至少有一个页面失败或没有内容，结果整体作废。
	ErrIncompleteCrawl = errors.New("crawler: site crawl incomplete")
	// ErrEmptyPage 表示页面在排除标签后没有任何正文。
	ErrEmptyPage = errors.New("crawler: page has no readable content")
)

// DefaultExcludedTags 是正文提取时整体跳过的标签。
var DefaultExcludedTags = []string{"a", "nav", "header", "footer", "aside", "script", "style", "img", "svg", "i", "noscript"}

// Config 描述一次抓取的行为。
type Config struct {
	Cache         CacheMode
	ExcludedTags  []string
	MaxDepth      int
	MaxPages      int
	MaxChildLinks int
	// Stream 为 true 时边读边解析，摘要够长后立刻停止读取响应体。
	Stream        bool
	ExcerptLength int
	Timeout       time.Duration
	MaxBodyBytes  int64
	UserAgent     string
}

// DefaultConfig 返回默认抓取配置。
func DefaultConfig() Config {
	return Config{
		Cache:         CacheBypass,
		ExcludedTags:  DefaultExcludedTags,
		MaxDepth:      2,
		MaxPages:      5,
		MaxChildLinks: 4,
		Stream:        true,
		ExcerptLength: 300,
		Timeout:       15 * time.Second,
		MaxBodyBytes:  2 << 20,
		UserAgent:     "ragchat-crawler/1.0",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Cache == "" {
		c.Cache = d.Cache
	}
	if len(c.ExcludedTags) == 0 {
		c.ExcludedTags = d.ExcludedTags
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MaxPages <= 0 {
		c.MaxPages = d.MaxPages
	}
	if c.MaxChildLinks <= 0 {
		c.MaxChildLinks = d.MaxChildLinks
	}
	if c.ExcerptLength <= 0 {
		c.ExcerptLength = d.ExcerptLength
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	return c
}

// Page 是一个完整抓取的页面。
type Page struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Link    string `json:"link"`
}

// PageCache 缓存整页抓取结果，Cache 为 CacheUse 时启用。
type PageCache interface {
	Get(ctx context.Context, link string) (*CachedPage, bool, error)
	Set(ctx context.Context, link string, page *CachedPage) error
}

// CachedPage 是缓存中保存的整页内容。
type CachedPage struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Links   []string `json:"links"`
}

// Crawler 是线程安全的，可以被多个请求共享。
type Crawler struct {
	cfg      Config
	client   *http.Client
	cache    PageCache
	excluded map[string]bool
}

// Option 配置 Crawler。
type Option func(*Crawler)

// WithHTTPClient 替换默认的 http.Client。
func WithHTTPClient(client *http.Client) Option {
	return func(c *Crawler) { c.client = client }
}

// WithCache 设置页面缓存。
func WithCache(cache PageCache) Option {
	return func(c *Crawler) { c.cache = cache }
}

// New 创建 Crawler。
func New(cfg Config, opts ...Option) *Crawler {
	cfg = cfg.withDefaults()
	c := &Crawler{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		excluded: make(map[string]bool, len(cfg.ExcludedTags)),
	}
	for _, tag := range cfg.ExcludedTags {
		c.excluded[strings.ToLower(tag)] = true
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config 返回生效的配置。
func (c *Crawler) Config() Config { return c.cfg }

// Placeholder 是单页摘要失败时替代正文的提示文本。
func Placeholder(link string) string {
	return "Error processing " + link
}

// FetchExcerpt 返回页面正文的前 ExcerptLength 个字符。
func (c *Crawler) FetchExcerpt(ctx context.Context, link string) (string, error) {
	if c.cfg.Cache == CacheUse && c.cache != nil {
		page, err := c.cachedFetch(ctx, link)
		if err != nil {
			return "", err
		}
		return truncateRunes(page.Content, c.cfg.ExcerptLength), nil
	}

	limit := 0
	if c.cfg.Stream {
		limit = c.cfg.ExcerptLength
	}
	doc, err := c.fetch(ctx, link, limit)
	if err != nil {
		return "", err
	}
	if doc.text == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyPage, link)
	}
	return truncateRunes(doc.text, c.cfg.ExcerptLength), nil
}

// ExcerptOrPlaceholder 与 FetchExcerpt 相同，但失败时返回占位文本而不是错误。
func (c *Crawler) ExcerptOrPlaceholder(ctx context.Context, link string) string {
	text, err := c.FetchExcerpt(ctx, link)
	if err != nil {
		log.Warnf("[Crawler] 摘要抓取失败, url: %s, error: %v", link, err)
		return Placeholder(link)
	}
	return text
}

type queued struct {
	link  string
	depth int
}

// CrawlSite 从种子页出发在同一主机内做广度优先遍历（最多 MaxDepth 层、MaxPages 个页面），
// 选出最多 MaxChildLinks 个不同的子链接（忽略末尾斜杠差异，排除种子页本身），
// 然后返回种子页与子页面的完整内容，种子页总是第一个。
// 任一页面抓取失败或没有正文都会返回 ErrIncompleteCrawl 且不返回任何页面。
func (c *Crawler) CrawlSite(ctx context.Context, seed string) ([]Page, error) {
	seedURL, err := url.Parse(seed)
	if err != nil || seedURL.Host == "" {
		return nil, fmt.Errorf("%w: invalid seed url %q", ErrIncompleteCrawl, seed)
	}
	seedKey := linkKey(seedURL.String())

	fetched := make(map[string]*CachedPage)
	visited := make(map[string]bool)
	children := make([]string, 0, c.cfg.MaxChildLinks)
	childSeen := map[string]bool{seedKey: true}
	queue := []queued{{link: seedURL.String(), depth: 0}}

	for len(queue) > 0 && len(visited) < c.cfg.MaxPages && len(children) < c.cfg.MaxChildLinks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := queue[0]
		queue = queue[1:]
		key := linkKey(item.link)
		if visited[key] {
			continue
		}
		visited[key] = true

		page, err := c.fullPage(ctx, item.link)
		if err != nil {
			if key == seedKey {
				return nil, fmt.Errorf("%w: seed %s: %v", ErrIncompleteCrawl, seed, err)
			}
			log.Warnf("[Crawler] 链接发现阶段抓取失败, url: %s, error: %v", item.link, err)
			continue
		}
		fetched[key] = page

		for _, l := range page.Links {
			lu, err := url.Parse(l)
			if err != nil || !sameHost(lu, seedURL) {
				continue
			}
			lk := linkKey(l)
			if !childSeen[lk] && len(children) < c.cfg.MaxChildLinks {
				childSeen[lk] = true
				children = append(children, l)
			}
			if item.depth < c.cfg.MaxDepth && !visited[lk] {
				queue = append(queue, queued{link: l, depth: item.depth + 1})
			}
		}
	}

	links := append([]string{seedURL.String()}, children...)
	pages := make([]Page, 0, len(links))
	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, ok := fetched[linkKey(l)]
		if !ok {
			page, err = c.fullPage(ctx, l)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrIncompleteCrawl, l, err)
			}
		}
		if strings.TrimSpace(page.Content) == "" {
			return nil, fmt.Errorf("%w: %s: %v", ErrIncompleteCrawl, l, ErrEmptyPage)
		}
		pages = append(pages, Page{Title: page.Title, Content: page.Content, Link: l})
	}
	log.Infof("[Crawler] 站点抓取完成, seed: %s, pages: %d", seed, len(pages))
	return pages, nil
}

// fullPage 抓取整页，CacheUse 时优先读缓存。
func (c *Crawler) fullPage(ctx context.Context, link string) (*CachedPage, error) {
	if c.cfg.Cache == CacheUse && c.cache != nil {
		return c.cachedFetch(ctx, link)
	}
	doc, err := c.fetch(ctx, link, 0)
	if err != nil {
		return nil, err
	}
	return &CachedPage{Title: doc.title, Content: doc.text, Links: doc.links}, nil
}

func (c *Crawler) cachedFetch(ctx context.Context, link string) (*CachedPage, error) {
	page, ok, err := c.cache.Get(ctx, link)
	if err != nil {
		log.Warnf("[Crawler] 读取页面缓存失败, url: %s, error: %v", link, err)
	}
	if ok {
		return page, nil
	}
	doc, err := c.fetch(ctx, link, 0)
	if err != nil {
		return nil, err
	}
	if doc.text == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPage, link)
	}
	page = &CachedPage{Title: doc.title, Content: doc.text, Links: doc.links}
	if err := c.cache.Set(ctx, link, page); err != nil {
		log.Warnf("[Crawler] 写入页面缓存失败, url: %s, error: %v", link, err)
	}
	return page, nil
}

// fetch 发起 GET 请求并解析响应。limit > 0 时解析到足够正文后立即关闭响应体。
func (c *Crawler) fetch(ctx context.Context, link string, limit int) (document, error) {
	u, err := url.Parse(link)
	if err != nil {
		return document{}, fmt.Errorf("invalid url %q: %w", link, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return document{}, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return document{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return document{}, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, link)
	}

	body := io.LimitReader(resp.Body, c.cfg.MaxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "" || strings.Contains(mediaType, "html"):
	case strings.HasPrefix(mediaType, "text/"):
		raw, err := io.ReadAll(body)
		if err != nil {
			return document{}, err
		}
		return document{text: truncateRunes(plainText(string(raw)), limit)}, nil
	default:
		return document{}, fmt.Errorf("unsupported content type %q for %s", mediaType, link)
	}

	if !c.cfg.Stream || limit == 0 {
		raw, err := io.ReadAll(body)
		if err != nil {
			return document{}, err
		}
		return extract(bytes.NewReader(raw), u, c.excluded, limit)
	}
	return extract(body, u, c.excluded, limit)
}

// linkKey 用于去重：忽略末尾斜杠。
func linkKey(link string) string {
	return strings.TrimRight(link, "/")
}

func sameHost(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname())
}
