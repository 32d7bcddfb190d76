// Package embedding provides clients for embedding models.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"ragchat-go/internal/config"
	"ragchat-go/pkg/gemini"
	"ragchat-go/pkg/log"
)

// Client turns texts into vectors.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	// CreateEmbeddings returns one vector per input, in input order.
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// NewClient creates an embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		return &openAIClient{cfg: cfg, client: openai.NewClientWithConfig(oc)}, nil
	case "gemini":
		gc, err := gemini.NewClient(cfg.APIKey, cfg.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		return &geminiClient{cfg: cfg, client: gc}, nil
	case "hash":
		log.Warnf("[EmbeddingClient] 使用 hash 向量化 (dimensions: %d)，仅用于测试，检索结果不具备语义相关性", cfg.Dimensions)
		return NewHashClient(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

type openAIClient struct {
	cfg    config.EmbeddingConfig
	client *openai.Client
}

func (c *openAIClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// CreateEmbeddings calls the OpenAI-compatible /embeddings endpoint once for the whole batch.
func (c *openAIClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, inputs: %d", c.cfg.Model, len(texts))
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(c.cfg.Model),
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || len(d.Embedding) == 0 {
			return nil, errors.New("received malformed embedding from api")
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

type geminiClient struct {
	cfg    config.EmbeddingConfig
	client *gemini.Client
}

func (c *geminiClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *geminiClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log.Infof("[EmbeddingClient] 开始调用 Gemini Embedding API, model: %s, inputs: %d", c.cfg.Model, len(texts))
	vecs, err := c.client.EmbedBatch(ctx, c.cfg.Model, texts, "RETRIEVAL_DOCUMENT", c.cfg.Dimensions)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Gemini Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	return vecs, nil
}
