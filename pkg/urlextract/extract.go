// Package urlextract 从自由文本中识别 URL。
package urlextract

import (
	"strings"

	"mvdan.cc/xurls/v2"
)

var relaxed = xurls.Relaxed()

// FindURLs 按首次出现的顺序返回文本中的全部 URL，保留重复项。
// 不带协议的裸域名（如 example.com/docs）同样会被识别，
// 末尾的句末标点不会计入 URL。没有匹配时返回空切片。
func FindURLs(text string) []string {
	matches := relaxed.FindAllString(text, -1)
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?")
		if m == "" || strings.Contains(m, "@") && !strings.Contains(m, "://") {
			// 邮箱地址不算
			continue
		}
		urls = append(urls, m)
	}
	return urls
}

// Normalize 为缺少协议的 URL 补上 https://，便于直接发起请求。
func Normalize(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}
