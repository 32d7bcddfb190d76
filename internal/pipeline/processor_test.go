package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat-go/internal/model"
	"ragchat-go/internal/repository"
	"ragchat-go/internal/vectorstore"
	"ragchat-go/pkg/chunker"
	"ragchat-go/pkg/embedding"
	"ragchat-go/pkg/storage"
	"ragchat-go/pkg/tasks"
)

type memObjects struct {
	files map[string][]byte
}

func (m *memObjects) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.files[name] = data
	return nil
}

func (m *memObjects) Open(_ context.Context, name string) (io.ReadCloser, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) Stat(_ context.Context, name string) (int64, error) {
	data, ok := m.files[name]
	if !ok {
		return 0, storage.ErrObjectNotFound
	}
	return int64(len(data)), nil
}

type upperExtractor struct {
	err error
}

func (e upperExtractor) ExtractText(_ context.Context, r io.Reader, _ string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	data, err := io.ReadAll(r)
	return string(data), err
}

type statusCall struct {
	id     string
	status model.TrainingStatus
	chars  int
}

type memStatus struct {
	mu      sync.Mutex
	known   map[string]bool
	history []statusCall
}

func (s *memStatus) UpdateStatus(_ context.Context, _ model.SourceKind, id string, status model.TrainingStatus, chars int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known[id] {
		return repository.ErrNotFound
	}
	s.history = append(s.history, statusCall{id: id, status: status, chars: chars})
	return nil
}

func (s *memStatus) last() statusCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[len(s.history)-1]
}

type failingIndexer struct {
	deleted []string
}

func (f *failingIndexer) Upsert(context.Context, string, string) error {
	return vectorstore.ErrStorageUnavailable
}

func (f *failingIndexer) Delete(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

// completionFails 在写入 completed 状态时返回错误，其余状态正常记录。
type completionFails struct {
	*memStatus
}

func (s completionFails) UpdateStatus(ctx context.Context, kind model.SourceKind, id string, status model.TrainingStatus, chars int) error {
	if status == model.StatusCompleted {
		return errors.New("db down")
	}
	return s.memStatus.UpdateStatus(ctx, kind, id, status, chars)
}

func newFixture(t *testing.T) (*memObjects, *storage.LocalMirror, *vectorstore.MemoryIndex, *vectorstore.Manager, *memStatus) {
	t.Helper()
	mirror, err := storage.NewLocalMirror(t.TempDir())
	require.NoError(t, err)
	index := vectorstore.NewMemoryIndex()
	mgr := vectorstore.NewManager(index, embedding.NewHashClient(32), chunker.New())
	status := &memStatus{known: map[string]bool{"doc-1": true, "page-1": true}}
	return &memObjects{files: map[string][]byte{}}, mirror, index, mgr, status
}

func TestProcessDocument(t *testing.T) {
	objects, mirror, index, mgr, status := newFixture(t)
	objects.files["handbook_1700000000.txt"] = []byte("  Employees get twenty days of leave. Leave requests go to HR.  ")
	p := NewProcessor(upperExtractor{}, objects, mirror, mgr, status)

	err := p.Process(context.Background(), tasks.TrainingTask{ID: "doc-1", Kind: model.SourceDocument, FileName: "handbook_1700000000.txt"})
	require.NoError(t, err)

	content, err := mirror.Read(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Employees get twenty days of leave. Leave requests go to HR.", content)

	chunks := index.ChunksOf("doc-1")
	require.NotEmpty(t, chunks)
	assert.Equal(t, "doc-1_chunk_0", chunks[0].ID)

	require.Len(t, status.history, 2)
	assert.Equal(t, model.StatusProcessing, status.history[0].status)
	assert.Equal(t, model.StatusCompleted, status.history[1].status)
	assert.Equal(t, len([]rune(content)), status.history[1].chars)
}

func TestProcessWebsiteUsesTaskContent(t *testing.T) {
	objects, mirror, index, mgr, status := newFixture(t)
	p := NewProcessor(upperExtractor{err: errors.New("must not be called")}, objects, mirror, mgr, status)

	err := p.Process(context.Background(), tasks.TrainingTask{ID: "page-1", Kind: model.SourceWebsite, URL: "https://example.com", Content: "Pricing starts at ten dollars."})
	require.NoError(t, err)
	assert.Len(t, index.ChunksOf("page-1"), 1)
	assert.Equal(t, model.StatusCompleted, status.last().status)
}

func TestProcessMissingUploadMarksFailed(t *testing.T) {
	objects, mirror, index, mgr, status := newFixture(t)
	p := NewProcessor(upperExtractor{}, objects, mirror, mgr, status)

	err := p.Process(context.Background(), tasks.TrainingTask{ID: "doc-1", Kind: model.SourceDocument, FileName: "missing.pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.Equal(t, model.StatusFailed, status.last().status)
	assert.Zero(t, index.Len())
}

func TestProcessEmptyContentMarksFailed(t *testing.T) {
	objects, mirror, _, mgr, status := newFixture(t)
	p := NewProcessor(upperExtractor{}, objects, mirror, mgr, status)

	err := p.Process(context.Background(), tasks.TrainingTask{ID: "page-1", Kind: model.SourceWebsite, Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, model.StatusFailed, status.last().status)
}

func TestProcessIndexFailureRemovesMirror(t *testing.T) {
	objects, mirror, _, _, status := newFixture(t)
	indexer := &failingIndexer{}
	p := NewProcessor(upperExtractor{}, objects, mirror, indexer, status)

	err := p.Process(context.Background(), tasks.TrainingTask{ID: "page-1", Kind: model.SourceWebsite, Content: "some text"})
	assert.ErrorIs(t, err, vectorstore.ErrStorageUnavailable)
	assert.Equal(t, model.StatusFailed, status.last().status)
	assert.Equal(t, []string{"page-1"}, indexer.deleted)

	_, err = mirror.Read(context.Background(), "page-1")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestProcessStatusFailureRemovesChunks(t *testing.T) {
	objects, mirror, index, mgr, status := newFixture(t)
	p := NewProcessor(upperExtractor{}, objects, mirror, mgr, completionFails{status})

	err := p.Process(context.Background(), tasks.TrainingTask{ID: "page-1", Kind: model.SourceWebsite, Content: "Pricing starts at ten dollars."})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, model.StatusFailed, status.last().status)
	assert.Empty(t, index.ChunksOf("page-1"))

	_, err = mirror.Read(context.Background(), "page-1")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestProcessSkipsDeletedRecord(t *testing.T) {
	objects, mirror, index, mgr, status := newFixture(t)
	p := NewProcessor(upperExtractor{}, objects, mirror, mgr, status)

	err := p.Process(context.Background(), tasks.TrainingTask{ID: "gone", Kind: model.SourceWebsite, Content: "text"})
	assert.NoError(t, err)
	assert.Zero(t, index.Len())
}

func TestInlineDispatcher(t *testing.T) {
	objects, mirror, index, mgr, status := newFixture(t)
	d := NewInlineDispatcher(NewProcessor(upperExtractor{}, objects, mirror, mgr, status))

	err := d.Dispatch(context.Background(), tasks.TrainingTask{ID: "page-1", Kind: model.SourceWebsite, Content: strings.Repeat("word ", 600)})
	require.NoError(t, err)
	assert.Greater(t, len(index.ChunksOf("page-1")), 1)
}
