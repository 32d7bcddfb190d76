package llm

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"

	"ragchat-go/internal/config"
	"ragchat-go/pkg/log"
)

type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

func newOpenAIClient(cfg config.LLMConfig) *openAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &openAIClient{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

func (c *openAIClient) buildRequest(req Request, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	out := openai.ChatCompletionRequest{Model: c.cfg.Model, Messages: msgs, Stream: stream}
	if p := req.Params; p != nil {
		if p.Temperature != nil {
			out.Temperature = float32(*p.Temperature)
		}
		if p.TopP != nil {
			out.TopP = float32(*p.TopP)
		}
		if p.MaxTokens != nil {
			out.MaxTokens = *p.MaxTokens
		}
	}
	return out
}

func (c *openAIClient) StreamChat(ctx context.Context, req Request, onFragment FragmentFunc) error {
	log.Infof("[LLMClient] 开始流式调用, model: %s, messages: %d", c.cfg.Model, len(req.Messages))
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Errorf("[LLMClient] 建立流式连接失败, error: %v", err)
		return unavailable(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return unavailable(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if text := resp.Choices[0].Delta.Content; text != "" {
			if err := onFragment(text); err != nil {
				return err
			}
		}
	}
}

func (c *openAIClient) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", unavailable(err)
	}
	if len(resp.Choices) == 0 {
		return "", unavailable(errors.New("empty choices"))
	}
	return resp.Choices[0].Message.Content, nil
}
