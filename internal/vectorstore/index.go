package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Chunk 是索引中的一条记录。
type Chunk struct {
	ID         string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector,omitempty"`
}

// Hit 是一条检索结果，Score 越大越相似。
type Hit struct {
	Chunk
	Score float64
}

// Index 是向量索引的最小能力集合。
type Index interface {
	// Write 写入（或覆盖同 id 的）块。
	Write(ctx context.Context, chunks []Chunk) error
	// DeleteDocuments 删除 document_id 属于 ids 的所有块；不存在的 id 不报错。
	DeleteDocuments(ctx context.Context, documentIDs []string) error
	// Search 返回与 vector 最相似的至多 k 个块，按相似度降序。
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
}

// MemoryIndex 是进程内的余弦相似度索引，适合开发环境与测试。
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks map[string]Chunk
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{chunks: make(map[string]Chunk)}
}

func (m *MemoryIndex) Write(_ context.Context, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *MemoryIndex) DeleteDocuments(_ context.Context, documentIDs []string) error {
	drop := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		drop[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.chunks {
		if drop[c.DocumentID] {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	hits := make([]Hit, 0, len(m.chunks))
	for _, c := range m.chunks {
		hits = append(hits, Hit{Chunk: c, Score: cosine(vector, c.Vector)})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len 返回当前块数量。
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// ChunksOf 返回某文档的全部块，按 chunk_index 排序。
func (m *MemoryIndex) ChunksOf(documentID string) []Chunk {
	m.mu.RLock()
	var out []Chunk
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
