package llm

import (
	"context"

	"ragchat-go/internal/config"
	"ragchat-go/pkg/gemini"
	"ragchat-go/pkg/log"
)

type geminiClient struct {
	cfg    config.LLMConfig
	client *gemini.Client
}

func (c *geminiClient) buildRequest(req Request) gemini.GenerateRequest {
	out := gemini.GenerateRequest{Contents: make([]gemini.Content, 0, len(req.Messages))}
	system := req.System
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		case RoleAssistant:
			out.Contents = append(out.Contents, gemini.Content{Role: "model", Parts: []gemini.Part{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, gemini.Content{Role: "user", Parts: []gemini.Part{{Text: m.Content}}})
		}
	}
	if system != "" {
		out.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: system}}}
	}
	if p := req.Params; p != nil {
		gc := &gemini.GenerationConfig{Temperature: p.Temperature, TopP: p.TopP}
		if p.MaxTokens != nil {
			gc.MaxOutputTokens = *p.MaxTokens
		}
		out.GenerationConfig = gc
	}
	return out
}

func (c *geminiClient) StreamChat(ctx context.Context, req Request, onFragment FragmentFunc) error {
	log.Infof("[LLMClient] 开始 Gemini 流式调用, model: %s, messages: %d", c.cfg.Model, len(req.Messages))
	var cbErr error
	err := c.client.StreamGenerate(ctx, c.cfg.Model, c.buildRequest(req), func(text string) error {
		if err := onFragment(text); err != nil {
			cbErr = err
			return err
		}
		return nil
	})
	switch {
	case cbErr != nil:
		return cbErr
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		log.Errorf("[LLMClient] Gemini 流式调用失败, error: %v", err)
		return unavailable(err)
	}
	return nil
}

func (c *geminiClient) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.Generate(ctx, c.cfg.Model, c.buildRequest(req))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", unavailable(err)
	}
	return resp.Text(), nil
}
