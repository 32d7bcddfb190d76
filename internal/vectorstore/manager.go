// Package vectorstore 管理知识块：分块、清洗、向量化、写入与检索。
// 块的唯一写入方是 Manager，块 id 形如 {document_id}_chunk_{i}。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"ragchat-go/pkg/chunker"
	"ragchat-go/pkg/embedding"
	"ragchat-go/pkg/log"
)

// ErrStorageUnavailable 表示向量索引或向量化服务不可用。
var ErrStorageUnavailable = errors.New("vectorstore: storage unavailable")

// DefaultResults 是 Query 在 n <= 0 时返回的条数。
const DefaultResults = 3

const lockShards = 64

// Document 是待写入的一篇文档。
type Document struct {
	ID   string
	Text string
}

// Manager 是向量索引的唯一访问入口。
type Manager struct {
	index    Index
	embedder embedding.Client
	chunker  *chunker.Chunker
	locks    [lockShards]sync.Mutex
}

// NewManager 创建 Manager。
func NewManager(index Index, embedder embedding.Client, ch *chunker.Chunker) *Manager {
	if ch == nil {
		ch = chunker.New()
	}
	return &Manager{index: index, embedder: embedder, chunker: ch}
}

// ChunkID 返回文档第 i 个块的 id。
func ChunkID(documentID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, i)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// lock 锁住 ids 对应的分片（按序加锁避免死锁），返回解锁函数。
func (m *Manager) lock(ids ...string) func() {
	seen := make(map[int]bool, len(ids))
	shards := make([]int, 0, len(ids))
	for _, id := range ids {
		h := fnv.New32a()
		_, _ = h.Write([]byte(id))
		s := int(h.Sum32() % lockShards)
		if !seen[s] {
			seen[s] = true
			shards = append(shards, s)
		}
	}
	sort.Ints(shards)
	for _, s := range shards {
		m.locks[s].Lock()
	}
	return func() {
		for i := len(shards) - 1; i >= 0; i-- {
			m.locks[shards[i]].Unlock()
		}
	}
}

// Upsert 用 text 完整替换文档的块集合：先分块，再逐块清洗（清洗后为空的块丢弃）、
// 批量向量化，然后删除旧块并写入新块。调用返回后旧块不会残留。
func (m *Manager) Upsert(ctx context.Context, documentID, text string) error {
	raw := m.chunker.Split(text)
	cleaned := make([]string, 0, len(raw))
	for _, c := range raw {
		if c = Clean(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}

	var vectors [][]float32
	if len(cleaned) > 0 {
		var err error
		vectors, err = m.embedder.CreateEmbeddings(ctx, cleaned)
		if err != nil {
			return unavailable("embed", err)
		}
		if len(vectors) != len(cleaned) {
			return unavailable("embed", fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(cleaned)))
		}
	}

	chunks := make([]Chunk, len(cleaned))
	for i, c := range cleaned {
		chunks[i] = Chunk{
			ID:         ChunkID(documentID, i),
			DocumentID: documentID,
			Index:      i,
			Text:       c,
			Vector:     vectors[i],
		}
	}

	unlock := m.lock(documentID)
	defer unlock()
	if err := m.index.DeleteDocuments(ctx, []string{documentID}); err != nil {
		return unavailable("delete", err)
	}
	if err := m.index.Write(ctx, chunks); err != nil {
		return unavailable("write", err)
	}
	log.Infof("[VectorStore] 文档块写入完成, document_id: %s, chunks: %d", documentID, len(chunks))
	return nil
}

// UpsertBatch 依次 Upsert 每篇文档，遇到第一个错误即返回。
func (m *Manager) UpsertBatch(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		if err := m.Upsert(ctx, d.ID, d.Text); err != nil {
			return fmt.Errorf("upsert %s: %w", d.ID, err)
		}
	}
	return nil
}

// Query 对每个查询文本检索至多 n 个块，合并去重后按相似度降序返回块文本。
func (m *Manager) Query(ctx context.Context, texts []string, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultResults
	}
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := m.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, unavailable("embed", err)
	}

	best := make(map[string]Hit)
	for _, v := range vectors {
		hits, err := m.index.Search(ctx, v, n)
		if err != nil {
			return nil, unavailable("search", err)
		}
		for _, h := range hits {
			if prev, ok := best[h.ID]; !ok || h.Score > prev.Score {
				best[h.ID] = h
			}
		}
	}

	merged := make([]Hit, 0, len(best))
	for _, h := range best {
		merged = append(merged, h)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	out := make([]string, len(merged))
	for i, h := range merged {
		out[i] = h.Text
	}
	return out, nil
}

// Delete 删除 ids 对应文档的全部块，可重复调用。
func (m *Manager) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	unlock := m.lock(ids...)
	defer unlock()
	if err := m.index.DeleteDocuments(ctx, ids); err != nil {
		return unavailable("delete", err)
	}
	log.Infof("[VectorStore] 已删除文档块, document_ids: %v", ids)
	return nil
}
