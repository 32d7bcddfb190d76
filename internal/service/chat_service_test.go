package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat-go/internal/model"
	"ragchat-go/internal/vectorstore"
	"ragchat-go/pkg/chunker"
	"ragchat-go/pkg/embedding"
	"ragchat-go/pkg/llm"
)

type fakeFetcher struct {
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) FetchExcerpt(_ context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	if text, ok := f.pages[url]; ok {
		return text, nil
	}
	return "", errors.New("connection refused")
}

type fakeRetriever struct {
	passages []string
	err      error
	queries  []string
}

func (r *fakeRetriever) Query(_ context.Context, texts []string, _ int) ([]string, error) {
	r.queries = append(r.queries, texts...)
	return r.passages, r.err
}

type fakeLLM struct {
	fragments []string
	failAfter int // 发送多少片段后失败，-1 表示不失败
	failErr   error
	generated string
	genErr    error

	mu       sync.Mutex
	requests []llm.Request
}

func (f *fakeLLM) StreamChat(ctx context.Context, req llm.Request, onFragment llm.FragmentFunc) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	for i, frag := range f.fragments {
		if f.failAfter >= 0 && i == f.failAfter {
			return f.failErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onFragment(frag); err != nil {
			return err
		}
	}
	if f.failAfter >= len(f.fragments) {
		return f.failErr
	}
	return nil
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.generated, f.genErr
}

func (f *fakeLLM) lastRequest() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeStore struct {
	mu       sync.Mutex
	messages []model.Message
	titles   map[string]string
}

func (s *fakeStore) AppendMessage(_ context.Context, conversationID string, sender model.Sender, content string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := model.Message{ConversationID: conversationID, Sender: sender, Content: content}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *fakeStore) RenameConversation(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.titles == nil {
		s.titles = map[string]string{}
	}
	s.titles[id] = title
	return nil
}

type recorder struct {
	events []Event
	failOn int // 第几个事件写出失败，0 表示从不失败
}

func (r *recorder) WriteEvent(ev Event) error {
	if r.failOn > 0 && len(r.events)+1 == r.failOn {
		return errors.New("broken pipe")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) text() string {
	var b strings.Builder
	for _, ev := range r.events {
		if ev.Kind == EventText {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func newTestChat(fetcher ExcerptFetcher, retriever Retriever, lm llm.Client, store MessageStore) *chatService {
	return NewChatService(fetcher, retriever, lm, store, ChatOptions{}).(*chatService)
}

func TestReplyStreamsRetrievalAnswerAndPersists(t *testing.T) {
	retriever := &fakeRetriever{passages: []string{"Refunds are issued within 14 days."}}
	lm := &fakeLLM{fragments: []string{"Refunds ", "take ", "14 days."}, failAfter: -1}
	store := &fakeStore{}
	svc := newTestChat(&fakeFetcher{}, retriever, lm, store)

	w := &recorder{}
	err := svc.Reply(context.Background(), ChatRequest{ConversationID: "c1", Message: "How long do refunds take?"}, w)
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, "Refunds take 14 days.", w.text())
	assert.Equal(t, []string{"How long do refunds take?"}, retriever.queries)

	req := lm.lastRequest()
	require.Len(t, req.Messages, 1)
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "QUESTION: 'How long do refunds take?'")
	assert.Contains(t, req.Messages[0].Content, "Refunds are issued within 14 days.")

	require.Len(t, store.messages, 1)
	assert.Equal(t, "c1", store.messages[0].ConversationID)
	assert.Equal(t, "Refunds take 14 days.", store.messages[0].Content)
}

func TestReplyReportsURLProgress(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://a.example": "alpha page",
		"https://c.example": "gamma page",
	}}
	retriever := &fakeRetriever{}
	lm := &fakeLLM{fragments: []string{"summary"}, failAfter: -1}
	svc := newTestChat(fetcher, retriever, lm, &fakeStore{})

	w := &recorder{}
	msg := "compare https://a.example and https://b.example with https://c.example"
	require.NoError(t, svc.Reply(context.Background(), ChatRequest{Message: msg}, w))
	svc.Wait()

	require.Len(t, w.events, 4)
	urls := []string{"https://a.example", "https://b.example", "https://c.example"}

	first := w.events[0]
	assert.Equal(t, EventProgress, first.Kind)
	assert.True(t, first.Progress.InProgress)
	assert.Equal(t, []string{"https://a.example"}, first.Progress.CompletedURLs)
	assert.Equal(t, urls, first.Progress.URLs)
	assert.Equal(t, "alpha page", first.Text)

	second := w.events[1]
	assert.True(t, second.Progress.InProgress)
	assert.Equal(t, []string{"https://a.example"}, second.Progress.CompletedURLs)
	assert.Equal(t, "Error processing https://b.example", second.Text)

	third := w.events[2]
	assert.False(t, third.Progress.InProgress)
	assert.Equal(t, []string{"https://a.example", "https://c.example"}, third.Progress.CompletedURLs)

	assert.Equal(t, EventText, w.events[3].Kind)
	assert.Empty(t, retriever.queries, "urls bypass retrieval")

	req := lm.lastRequest()
	assert.Equal(t, "alpha page\ngamma page", req.Messages[len(req.Messages)-1].Content)
}

func TestReplyNormalizesSchemelessURLs(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{"https://go.dev": "go"}}
	svc := newTestChat(fetcher, &fakeRetriever{}, &fakeLLM{failAfter: -1}, &fakeStore{})

	w := &recorder{}
	require.NoError(t, svc.Reply(context.Background(), ChatRequest{Message: "what is go.dev"}, w))
	require.NotEmpty(t, w.events)
	assert.Equal(t, []string{"https://go.dev"}, fetcher.calls)
	assert.Equal(t, []string{"go.dev"}, w.events[0].Progress.CompletedURLs)
}

func TestReplyAllURLsFailSendsBareMessage(t *testing.T) {
	lm := &fakeLLM{fragments: []string{"ok"}, failAfter: -1}
	retriever := &fakeRetriever{}
	svc := newTestChat(&fakeFetcher{}, retriever, lm, &fakeStore{})

	msg := "read https://down.example please"
	require.NoError(t, svc.Reply(context.Background(), ChatRequest{Message: msg}, &recorder{}))
	assert.Equal(t, msg, lm.lastRequest().Messages[0].Content)
	assert.Empty(t, retriever.queries)
}

func TestReplyAllURLsFailWithFallbackRetrieves(t *testing.T) {
	lm := &fakeLLM{fragments: []string{"ok"}, failAfter: -1}
	retriever := &fakeRetriever{passages: []string{"kb"}}
	svc := NewChatService(&fakeFetcher{}, retriever, lm, &fakeStore{}, ChatOptions{RetrievalFallback: true}).(*chatService)

	require.NoError(t, svc.Reply(context.Background(), ChatRequest{Message: "read https://down.example"}, &recorder{}))
	assert.Len(t, retriever.queries, 1)
	assert.Contains(t, lm.lastRequest().Messages[0].Content, "PASSAGE: 'kb'")
}

func TestReplyRetrievalFailureBeforeAnyEvent(t *testing.T) {
	retriever := &fakeRetriever{err: vectorstore.ErrStorageUnavailable}
	lm := &fakeLLM{fragments: []string{"never"}, failAfter: -1}
	store := &fakeStore{}
	svc := newTestChat(&fakeFetcher{}, retriever, lm, store)

	w := &recorder{}
	err := svc.Reply(context.Background(), ChatRequest{ConversationID: "c1", Message: "hello"}, w)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.Empty(t, w.events)
	assert.Empty(t, lm.requests)
	svc.Wait()
	assert.Empty(t, store.messages)
}

func TestReplyModelUnavailableBeforeFirstFragment(t *testing.T) {
	lm := &fakeLLM{fragments: []string{"a"}, failAfter: 0, failErr: llm.ErrUnavailable}
	store := &fakeStore{}
	svc := newTestChat(&fakeFetcher{}, &fakeRetriever{}, lm, store)

	w := &recorder{}
	err := svc.Reply(context.Background(), ChatRequest{ConversationID: "c1", Message: "hello"}, w)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.Empty(t, w.events)
	svc.Wait()
	assert.Empty(t, store.messages)
}

func TestReplyMidStreamFailureEndsWithErrorFragment(t *testing.T) {
	lm := &fakeLLM{fragments: []string{"partial ", "answer", "lost"}, failAfter: 2, failErr: llm.ErrUnavailable}
	store := &fakeStore{}
	svc := newTestChat(&fakeFetcher{}, &fakeRetriever{}, lm, store)

	w := &recorder{}
	err := svc.Reply(context.Background(), ChatRequest{ConversationID: "c1", Message: "hello"}, w)
	require.NoError(t, err)
	svc.Wait()

	require.Len(t, w.events, 3)
	assert.Equal(t, EventError, w.events[2].Kind)
	assert.NotEmpty(t, w.events[2].Text)
	assert.Equal(t, "partial answer", w.text())
	assert.Empty(t, store.messages, "partial answers are not persisted")
}

func TestReplyStopsWhenWriterFails(t *testing.T) {
	lm := &fakeLLM{fragments: []string{"one", "two", "three"}, failAfter: -1}
	store := &fakeStore{}
	svc := newTestChat(&fakeFetcher{}, &fakeRetriever{}, lm, store)

	w := &recorder{failOn: 2}
	err := svc.Reply(context.Background(), ChatRequest{ConversationID: "c1", Message: "hello"}, w)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInfrastructure)
	svc.Wait()
	assert.Empty(t, store.messages)
}

func TestReplyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := newTestChat(&fakeFetcher{}, &fakeRetriever{}, &fakeLLM{fragments: []string{"x"}, failAfter: -1}, &fakeStore{})

	err := svc.Reply(ctx, ChatRequest{Message: "see https://a.example"}, &recorder{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplyRejectsEmptyMessage(t *testing.T) {
	svc := newTestChat(&fakeFetcher{}, &fakeRetriever{}, &fakeLLM{failAfter: -1}, &fakeStore{})
	err := svc.Reply(context.Background(), ChatRequest{Message: "   "}, &recorder{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReplyMapsHistoryRoles(t *testing.T) {
	lm := &fakeLLM{fragments: []string{"ok"}, failAfter: -1}
	svc := newTestChat(&fakeFetcher{}, &fakeRetriever{}, lm, &fakeStore{})

	history := []model.HistoryItem{
		{Role: "user", Content: "hi"},
		{Role: "model", Content: "hello"},
		{Role: "assistant", Content: "anything else?"},
		{Role: "system", Content: "sneaky"},
	}
	require.NoError(t, svc.Reply(context.Background(), ChatRequest{Message: "thanks", History: history}, &recorder{}))

	msgs := lm.lastRequest().Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, llm.RoleUser, msgs[3].Role)
	assert.Equal(t, llm.RoleUser, msgs[4].Role)
}

func TestReplyWithManagerRetriever(t *testing.T) {
	mgr := vectorstore.NewManager(vectorstore.NewMemoryIndex(), embedding.NewHashClient(64), chunker.New())
	require.NoError(t, mgr.Upsert(context.Background(), "faq", "Our office opens at nine in the morning."))

	lm := &fakeLLM{fragments: []string{"Nine."}, failAfter: -1}
	svc := newTestChat(&fakeFetcher{}, mgr, lm, &fakeStore{})
	require.NoError(t, svc.Reply(context.Background(), ChatRequest{Message: "When does the office open?"}, &recorder{}))
	assert.Contains(t, lm.lastRequest().Messages[0].Content, "our office opens at nine in the morning")
}

func TestStreamTimeout(t *testing.T) {
	slow := llmFunc(func(ctx context.Context, _ llm.Request, _ llm.FragmentFunc) error {
		<-ctx.Done()
		return ctx.Err()
	})
	svc := NewChatService(&fakeFetcher{}, &fakeRetriever{}, slow, &fakeStore{}, ChatOptions{StreamTimeout: 20 * time.Millisecond})

	err := svc.Reply(context.Background(), ChatRequest{Message: "hello"}, &recorder{})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

type llmFunc func(ctx context.Context, req llm.Request, onFragment llm.FragmentFunc) error

func (f llmFunc) StreamChat(ctx context.Context, req llm.Request, onFragment llm.FragmentFunc) error {
	return f(ctx, req, onFragment)
}

func (f llmFunc) Generate(context.Context, llm.Request) (string, error) { return "", nil }

func TestShouldGenerateTitle(t *testing.T) {
	svc := newTestChat(&fakeFetcher{}, &fakeRetriever{}, &fakeLLM{}, &fakeStore{})
	assert.False(t, svc.ShouldGenerateTitle(3, "New Chat"))
	assert.True(t, svc.ShouldGenerateTitle(4, "New Chat"))
	assert.True(t, svc.ShouldGenerateTitle(6, "New Chat"))
	assert.False(t, svc.ShouldGenerateTitle(4, "Refund policy"))
}

func TestGenerateTitle(t *testing.T) {
	lm := &fakeLLM{generated: "\"Refund Policy Questions.\"\nextra"}
	store := &fakeStore{}
	svc := newTestChat(&fakeFetcher{}, &fakeRetriever{}, lm, store)

	history := []model.HistoryItem{{Role: "user", Content: "refunds?"}, {Role: "assistant", Content: "14 days"}}
	title, err := svc.GenerateTitle(context.Background(), "c1", "and exchanges?", history)
	require.NoError(t, err)
	assert.Equal(t, "Refund Policy Questions", title)
	assert.Equal(t, "Refund Policy Questions", store.titles["c1"])

	req := lm.lastRequest()
	assert.Equal(t, titleInstruction, req.System)
	require.NotNil(t, req.Params.MaxTokens)
	assert.Equal(t, 16, *req.Params.MaxTokens)
	assert.InDelta(t, 0.2, *req.Params.Temperature, 1e-9)
	assert.Contains(t, req.Messages[0].Content, "user: and exchanges?")
}

func TestGenerateTitleAsyncFailureKeepsTitle(t *testing.T) {
	store := &fakeStore{}
	svc := newTestChat(&fakeFetcher{}, &fakeRetriever{}, &fakeLLM{genErr: llm.ErrUnavailable}, store)

	svc.GenerateTitleAsync("c1", "hello", nil)
	svc.Wait()
	assert.Empty(t, store.titles)
}
