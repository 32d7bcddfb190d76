// Package llm provides clients for chat-completion style language models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ragchat-go/internal/config"
	"ragchat-go/pkg/gemini"
)

// ErrUnavailable 表示模型服务无法连接或返回了错误状态。
var ErrUnavailable = errors.New("llm: model unavailable")

// Role 是消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 表示一条角色消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段使用模型默认值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Request 是一次模型调用。System 为空时不发送系统指令。
type Request struct {
	System   string
	Messages []Message
	Params   *GenerationParams
}

// FragmentFunc 接收一段流式文本；返回错误会终止流。
type FragmentFunc func(fragment string) error

// Client defines the interface for an LLM client.
type Client interface {
	// StreamChat 按到达顺序把文本片段交给 onFragment。
	// 传输失败以 ErrUnavailable 包装返回；onFragment 的错误和 ctx 的错误原样返回。
	StreamChat(ctx context.Context, req Request, onFragment FragmentFunc) error
	// Generate 是非流式调用，返回完整文本。
	Generate(ctx context.Context, req Request) (string, error)
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return newOpenAIClient(cfg), nil
	case "gemini":
		gc, err := gemini.NewClient(cfg.APIKey, cfg.BaseURL, &http.Client{})
		if err != nil {
			return nil, err
		}
		return &geminiClient{cfg: cfg, client: gc}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// DefaultParams 把配置中的生成参数转换为 GenerationParams，零值视为未设置。
func DefaultParams(g config.LLMGenerationConfig) *GenerationParams {
	p := &GenerationParams{}
	if g.Temperature > 0 {
		t := g.Temperature
		p.Temperature = &t
	}
	if g.TopP > 0 {
		v := g.TopP
		p.TopP = &v
	}
	if g.MaxTokens > 0 {
		m := g.MaxTokens
		p.MaxTokens = &m
	}
	return p
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
