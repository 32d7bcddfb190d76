package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentences(n, words int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		for w := 0; w < words; w++ {
			if w > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "s%dw%d", i, w)
		}
		b.WriteString(". ")
	}
	return b.String()
}

func TestSplitEmpty(t *testing.T) {
	assert.Empty(t, New().Split(""))
	assert.Empty(t, New().Split("   \n\n "))
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	chunks := New().Split("Hello world. How are you? Fine!")
	assert.Equal(t, []string{"Hello world. How are you? Fine!"}, chunks)
}

func TestSplitRespectsSizeAndOverlap(t *testing.T) {
	c := New(WithChunkSize(20), WithOverlap(5))
	// 每句 5 个词，每块最多 4 句
	chunks := c.Split(sentences(10, 5))
	require.Len(t, chunks, 3)

	for _, ch := range chunks {
		assert.LessOrEqual(t, len(strings.Fields(ch)), 20)
		assert.True(t, strings.HasSuffix(ch, "."), "chunk should end at a sentence boundary: %q", ch)
	}
	// 上一块的最后一句出现在下一块开头
	assert.True(t, strings.HasPrefix(chunks[1], "s3w0"))
	assert.True(t, strings.HasPrefix(chunks[2], "s6w0"))
}

func TestSplitHardSplitsLongSentence(t *testing.T) {
	c := New(WithChunkSize(10), WithOverlap(2))
	chunks := c.Split(sentences(1, 25))
	require.Len(t, chunks, 3)
	assert.Len(t, strings.Fields(chunks[0]), 10)
	assert.True(t, strings.HasPrefix(chunks[1], "s0w8 s0w9"))
}

func TestSplitDeterministic(t *testing.T) {
	text := sentences(40, 13)
	assert.Equal(t, New().Split(text), New().Split(text))
}

func TestSplitBatch(t *testing.T) {
	out := New().SplitBatch([]string{"One. Two.", "", "Three."})
	require.Len(t, out, 3)
	assert.Equal(t, []string{"One. Two."}, out[0])
	assert.Empty(t, out[1])
	assert.Equal(t, []string{"Three."}, out[2])
}
