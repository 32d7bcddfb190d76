package crawler

import (
	"errors"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// voidElements 没有结束标签，不能计入跳过深度。
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true, "track": true, "wbr": true,
}

// document 是一次 HTML 解析的结果。
type document struct {
	title string
	text  string
	links []string
	// truncated 为 true 表示达到 limit 后提前停止了读取
	truncated bool
}

// extract 以流式方式解析 HTML：excluded 中的标签连同其子树被跳过，
// 空白被折叠为单个空格。limit > 0 时，正文达到 limit 个字符后立即停止读取。
// 所有 <a href> 都会被收集（即便 a 标签本身被排除在正文之外），并解析为绝对地址。
func extract(r io.Reader, base *url.URL, excluded map[string]bool, limit int) (document, error) {
	var (
		doc     document
		text    strings.Builder
		title   strings.Builder
		skip    int
		inTitle bool
		runes   int
	)
	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return doc, err
			}
			doc.title = strings.Join(strings.Fields(title.String()), " ")
			doc.text = text.String()
			return doc, nil

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			name := string(tn)
			if name == atom.A.String() && hasAttr {
				if link := hrefOf(z, base); link != "" {
					doc.links = append(doc.links, link)
				}
			}
			if name == atom.Title.String() && tt == html.StartTagToken {
				inTitle = true
			}
			if excluded[name] && tt == html.StartTagToken && !voidElements[name] {
				skip++
			}

		case html.EndTagToken:
			tn, _ := z.TagName()
			name := string(tn)
			if name == atom.Title.String() {
				inTitle = false
			}
			if excluded[name] && skip > 0 {
				skip--
			}

		case html.TextToken:
			if inTitle {
				title.Write(z.Text())
				continue
			}
			if skip > 0 {
				continue
			}
			for _, w := range strings.Fields(string(z.Text())) {
				if text.Len() > 0 {
					text.WriteByte(' ')
					runes++
				}
				text.WriteString(w)
				runes += utf8.RuneCountInString(w)
				if limit > 0 && runes >= limit {
					doc.title = strings.Join(strings.Fields(title.String()), " ")
					doc.text = truncateRunes(text.String(), limit)
					doc.truncated = true
					return doc, nil
				}
			}
		}
	}
}

func hrefOf(z *html.Tokenizer, base *url.URL) string {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "href" {
			return resolve(base, string(val))
		}
		if !more {
			return ""
		}
	}
}

// resolve 把相对链接解析为绝对地址，并去掉 fragment；非 http(s) 链接返回空串。
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// plainText 折叠纯文本响应中的空白。
func plainText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
