// Package chunker 按句子边界把文本切分为带重叠的块。
package chunker

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize = 256
	DefaultOverlap   = 50
)

// Chunker 以单词为单位控制块大小。它没有内部状态，可并发使用。
type Chunker struct {
	size    int
	overlap int
}

// Option 配置 Chunker。
type Option func(*Chunker)

// WithChunkSize 设置每块的目标单词数。
func WithChunkSize(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithOverlap 设置相邻块之间重叠的单词数。
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// New 创建 Chunker，默认 256 词一块、重叠 50 词。
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 5
	}
	return c
}

type sentence struct {
	text  string
	words []string
}

// Split 把文本切分为块。块尽量在句子边界结束；相邻块共享上一块末尾
// 不超过 overlap 个单词的完整句子。超过块大小的单句按单词窗口硬切分。
// 相同输入总是得到相同输出。
func (c *Chunker) Split(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var (
		chunks []string
		cur    []sentence
		words  int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		parts := make([]string, len(cur))
		for i, s := range cur {
			parts[i] = s.text
		}
		chunks = append(chunks, strings.Join(parts, " "))
	}

	for _, s := range sentences {
		if len(s.words) > c.size {
			flush()
			cur, words = nil, 0
			chunks = append(chunks, c.window(s.words)...)
			continue
		}
		if words+len(s.words) > c.size && len(cur) > 0 {
			flush()
			cur, words = c.tail(cur)
		}
		for words+len(s.words) > c.size && len(cur) > 0 {
			words -= len(cur[0].words)
			cur = cur[1:]
		}
		cur = append(cur, s)
		words += len(s.words)
	}
	flush()
	return chunks
}

// SplitBatch 对多段文本分别调用 Split，结果与输入一一对应。
func (c *Chunker) SplitBatch(texts []string) [][]string {
	out := make([][]string, len(texts))
	for i, t := range texts {
		out[i] = c.Split(t)
	}
	return out
}

// tail 返回末尾总词数不超过 overlap 的句子，作为下一块的开头。
func (c *Chunker) tail(cur []sentence) ([]sentence, int) {
	words := 0
	i := len(cur)
	for i > 0 && words+len(cur[i-1].words) <= c.overlap {
		words += len(cur[i-1].words)
		i--
	}
	kept := make([]sentence, len(cur)-i)
	copy(kept, cur[i:])
	return kept, words
}

func (c *Chunker) window(words []string) []string {
	step := c.size - c.overlap
	var out []string
	for start := 0; start < len(words); start += step {
		end := start + c.size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// splitSentences 在句末标点后跟空白处、以及空行处断句。
func splitSentences(text string) []sentence {
	var (
		out []sentence
		b   strings.Builder
	)
	emit := func() {
		words := strings.Fields(b.String())
		b.Reset()
		if len(words) == 0 {
			return
		}
		out = append(out, sentence{text: strings.Join(words, " "), words: words})
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		b.WriteRune(r)
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		switch {
		case isTerminator(r) && (next == 0 || unicode.IsSpace(next) || r >= 0x3000):
			emit()
		case r == '\n' && next == '\n':
			emit()
		}
	}
	emit()
	return out
}
