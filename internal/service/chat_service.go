// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ragchat-go/internal/config"
	"ragchat-go/internal/model"
	"ragchat-go/pkg/crawler"
	"ragchat-go/pkg/llm"
	"ragchat-go/pkg/log"
	"ragchat-go/pkg/urlextract"
)

// EventKind 区分流中的事件类型。
type EventKind int

const (
	// EventProgress 是每个 URL 抓取完成后的进度事件。
	EventProgress EventKind = iota
	// EventText 是模型输出的一段文本。
	EventText
	// EventError 是模型中途失败时的最后一个事件。
	EventError
)

// URLProgress 描述 URL 抓取进度。
type URLProgress struct {
	InProgress    bool     `json:"inProgress"`
	CompletedURLs []string `json:"completed_urls"`
	URLs          []string `json:"urls"`
}

// Event 是回复流中的一个事件。
type Event struct {
	Kind     EventKind
	Progress *URLProgress
	Text     string
}

// EventWriter 把事件交给传输层；返回错误表示客户端已不可写，编排随即停止。
type EventWriter interface {
	WriteEvent(ev Event) error
}

// ExcerptFetcher 抓取单个页面的正文摘要。
type ExcerptFetcher interface {
	FetchExcerpt(ctx context.Context, url string) (string, error)
}

// Retriever 从知识库检索与查询最相关的片段。
type Retriever interface {
	Query(ctx context.Context, texts []string, n int) ([]string, error)
}

// MessageStore 是编排器需要的持久化能力。
type MessageStore interface {
	AppendMessage(ctx context.Context, conversationID string, sender model.Sender, content string) (*model.Message, error)
	RenameConversation(ctx context.Context, id, title string) error
}

// ChatRequest 是一轮对话的输入。
type ChatRequest struct {
	ConversationID string
	Message        string
	History        []model.HistoryItem
}

// ChatOptions 控制编排行为。
type ChatOptions struct {
	TopK              int
	CrawlTimeout      time.Duration
	StreamTimeout     time.Duration
	PersistTimeout    time.Duration
	RetrievalFallback bool
	TitleThreshold    int
	TitleMaxTokens    int
	PlaceholderTitle  string
	Generation        *llm.GenerationParams
}

// ChatOptionsFromConfig 由配置构造 ChatOptions。
func ChatOptionsFromConfig(chat config.ChatConfig, gen config.LLMGenerationConfig) ChatOptions {
	return ChatOptions{
		TopK:              chat.TopK,
		CrawlTimeout:      chat.CrawlTimeout,
		StreamTimeout:     chat.StreamTimeout,
		RetrievalFallback: chat.RetrievalFallback,
		TitleThreshold:    chat.TitleThreshold,
		TitleMaxTokens:    chat.TitleMaxTokens,
		PlaceholderTitle:  chat.PlaceholderTitle,
		Generation:        llm.DefaultParams(gen),
	}
}

func (o ChatOptions) withDefaults() ChatOptions {
	if o.TopK <= 0 {
		o.TopK = 3
	}
	if o.CrawlTimeout <= 0 {
		o.CrawlTimeout = 20 * time.Second
	}
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = 2 * time.Minute
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 30 * time.Second
	}
	if o.TitleThreshold <= 0 {
		o.TitleThreshold = 4
	}
	if o.TitleMaxTokens <= 0 {
		o.TitleMaxTokens = 16
	}
	if o.PlaceholderTitle == "" {
		o.PlaceholderTitle = "New Chat"
	}
	return o
}

// ChatService 定义了聊天编排的接口。
type ChatService interface {
	// Reply 处理一轮对话：URL 抓取或知识库检索、组装提示词、流式转发模型输出，
	// 流正常结束后在后台持久化完整回答。
	// 在任何事件写出之前发生的基础设施故障以错误返回；模型中途失败以 EventError 结束流并返回 nil。
	Reply(ctx context.Context, req ChatRequest, w EventWriter) error
	// ShouldGenerateTitle 判断对话是否到了需要自动命名的时候。
	ShouldGenerateTitle(historyLen int, currentTitle string) bool
	// GenerateTitle 生成 3-5 个词的标题并写回对话。
	GenerateTitle(ctx context.Context, conversationID, message string, history []model.HistoryItem) (string, error)
	// GenerateTitleAsync 在后台执行 GenerateTitle，失败只记录日志。
	GenerateTitleAsync(conversationID, message string, history []model.HistoryItem)
	// Wait 等待所有后台任务结束。
	Wait()
}

type chatService struct {
	fetcher   ExcerptFetcher
	retriever Retriever
	llmClient llm.Client
	store     MessageStore
	opts      ChatOptions
	wg        sync.WaitGroup
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(fetcher ExcerptFetcher, retriever Retriever, llmClient llm.Client, store MessageStore, opts ChatOptions) ChatService {
	return &chatService{
		fetcher:   fetcher,
		retriever: retriever,
		llmClient: llmClient,
		store:     store,
		opts:      opts.withDefaults(),
	}
}

func (s *chatService) Reply(ctx context.Context, req ChatRequest, w EventWriter) error {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return validation("message must not be empty")
	}

	// 1. 识别消息中的 URL，决定走抓取还是检索
	var content string
	urls := urlextract.FindURLs(message)
	if len(urls) > 0 {
		log.Infof("[ChatService] 检测到 %d 个 URL, conversation: %s", len(urls), req.ConversationID)
		scraped, err := s.crawlURLs(ctx, urls, w)
		if err != nil {
			return err
		}
		switch {
		case len(scraped) > 0:
			content = strings.Join(scraped, "\n")
		case s.opts.RetrievalFallback:
			log.Warnf("[ChatService] 所有 URL 抓取失败，回退到知识库检索, conversation: %s", req.ConversationID)
			if content, err = s.retrievalPrompt(ctx, message); err != nil {
				return err
			}
		default:
			content = message
		}
	} else {
		var err error
		if content, err = s.retrievalPrompt(ctx, message); err != nil {
			return err
		}
	}

	// 2. 组装消息并流式转发
	messages := composeMessages(req.History, content)
	full, err := s.stream(ctx, messages, w)
	if err != nil {
		return err
	}

	// 3. 流结束后在后台保存完整回答
	if full != "" && req.ConversationID != "" {
		s.persistAsync(req.ConversationID, full)
	}
	return nil
}

// crawlURLs 依次抓取每个 URL，每处理完一个就写出一个进度事件。
// 单个 URL 失败时以占位文本代替，不中断后续 URL。
func (s *chatService) crawlURLs(ctx context.Context, urls []string, w EventWriter) ([]string, error) {
	completed := make([]string, 0, len(urls))
	scraped := make([]string, 0, len(urls))
	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.opts.CrawlTimeout)
		text, err := s.fetcher.FetchExcerpt(fetchCtx, urlextract.Normalize(u))
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warnf("[ChatService] URL 抓取失败, url: %s, error: %v", u, err)
			text = crawler.Placeholder(u)
		} else {
			completed = append(completed, u)
			scraped = append(scraped, text)
		}

		ev := Event{
			Kind: EventProgress,
			Progress: &URLProgress{
				InProgress:    i < len(urls)-1,
				CompletedURLs: append([]string(nil), completed...),
				URLs:          urls,
			},
			Text: text,
		}
		if err := w.WriteEvent(ev); err != nil {
			return nil, fmt.Errorf("write progress: %w", err)
		}
	}
	return scraped, nil
}

func (s *chatService) retrievalPrompt(ctx context.Context, message string) (string, error) {
	passages, err := s.retriever.Query(ctx, []string{message}, s.opts.TopK)
	if err != nil {
		log.Errorf("[ChatService] 知识库检索失败: %v", err)
		return "", fmt.Errorf("%w: retrieve context: %v", ErrInfrastructure, err)
	}
	log.Infof("[ChatService] 检索到 %d 个片段", len(passages))
	return BuildRAGPrompt(message, passages), nil
}

// stream 调用模型并转发片段，返回累积的完整回答。
func (s *chatService) stream(ctx context.Context, messages []llm.Message, w EventWriter) (string, error) {
	streamCtx, cancel := context.WithTimeout(ctx, s.opts.StreamTimeout)
	defer cancel()

	var (
		answer    strings.Builder
		fragments int
		writeErr  error
	)
	err := s.llmClient.StreamChat(streamCtx, llm.Request{Messages: messages, Params: s.opts.Generation}, func(fragment string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteEvent(Event{Kind: EventText, Text: fragment}); err != nil {
			writeErr = err
			return err
		}
		answer.WriteString(fragment)
		fragments++
		return nil
	})

	switch {
	case err == nil:
		return answer.String(), nil
	case writeErr != nil:
		return "", fmt.Errorf("write fragment: %w", writeErr)
	case ctx.Err() != nil:
		log.Infof("[ChatService] 请求已取消, 已转发 %d 个片段", fragments)
		return "", ctx.Err()
	case fragments == 0:
		log.Errorf("[ChatService] 模型调用失败: %v", err)
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	// 流已经开始，只能以错误片段结束
	log.Errorf("[ChatService] 模型流中途失败, 已转发 %d 个片段: %v", fragments, err)
	if werr := w.WriteEvent(Event{Kind: EventError, Text: streamErrorText(err)}); werr != nil {
		log.Warnf("[ChatService] 写出错误片段失败: %v", werr)
	}
	return "", nil
}

func streamErrorText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "The response took too long and was cut off. Please try again."
	}
	return "Something went wrong while generating the response. Please try again."
}

func (s *chatService) persistAsync(conversationID, content string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// 使用后台上下文，即使原始请求已结束也要保存已生成的回答
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.PersistTimeout)
		defer cancel()
		if _, err := s.store.AppendMessage(ctx, conversationID, model.SenderAssistant, content); err != nil {
			log.Errorf("[ChatService] 保存回答失败, conversation: %s, error: %v", conversationID, err)
		}
	}()
}

func (s *chatService) ShouldGenerateTitle(historyLen int, currentTitle string) bool {
	return historyLen >= s.opts.TitleThreshold && currentTitle == s.opts.PlaceholderTitle
}

func (s *chatService) GenerateTitle(ctx context.Context, conversationID, message string, history []model.HistoryItem) (string, error) {
	temperature := 0.2
	maxTokens := s.opts.TitleMaxTokens
	raw, err := s.llmClient.Generate(ctx, llm.Request{
		System:   titleInstruction,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: buildTitleTranscript(history, message)}},
		Params:   &llm.GenerationParams{Temperature: &temperature, MaxTokens: &maxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("%w: generate title: %v", ErrInfrastructure, err)
	}
	title := cleanTitle(raw)
	if title == "" {
		return "", fmt.Errorf("%w: model returned an empty title", ErrInfrastructure)
	}
	if err := s.store.RenameConversation(ctx, conversationID, title); err != nil {
		return "", fmt.Errorf("rename conversation: %w", err)
	}
	log.Infof("[ChatService] 对话已自动命名, conversation: %s, title: %s", conversationID, title)
	return title, nil
}

func (s *chatService) GenerateTitleAsync(conversationID, message string, history []model.HistoryItem) {
	history = append([]model.HistoryItem(nil), history...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.PersistTimeout)
		defer cancel()
		if _, err := s.GenerateTitle(ctx, conversationID, message, history); err != nil {
			log.Warnf("[ChatService] 自动命名失败, conversation: %s, error: %v", conversationID, err)
		}
	}()
}

func (s *chatService) Wait() {
	s.wg.Wait()
}
