// Package gemini 是 Google Generative Language REST API 的最小客户端，
// 覆盖文本生成、SSE 流式生成和批量向量化。
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// APIError 是接口返回的非 2xx 响应。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gemini api error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gemini api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client 调用 Gemini REST 接口。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建客户端，baseURL 为空时使用官方地址。
func NewClient(apiKey, baseURL string, httpClient *http.Client) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}, nil
}

type Part struct {
	Text string `json:"text"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type GenerateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

type GenerateResponse struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

// Text 拼接第一个候选的全部文本片段。
func (r *GenerateResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

type embedRequest struct {
	Model                string  `json:"model"`
	Content              Content `json:"content"`
	TaskType             string  `json:"taskType,omitempty"`
	OutputDimensionality int     `json:"outputDimensionality,omitempty"`
}

type batchEmbedRequest struct {
	Requests []embedRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func normalizeModel(model string) string {
	return strings.TrimPrefix(strings.TrimSpace(model), "models/")
}

func (c *Client) endpoint(model, method string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", c.apiKey)
	return fmt.Sprintf("%s/models/%s:%s?%s", c.baseURL, normalizeModel(model), method, query.Encode())
}

// Generate 调用 generateContent。
func (c *Client) Generate(ctx context.Context, model string, req GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.doJSON(ctx, c.endpoint(model, "generateContent", nil), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamGenerate 调用 streamGenerateContent?alt=sse，每收到一段文本就回调 onText。
// 连接或状态码错误在回调之前返回；onText 返回错误时停止读取。
func (c *Client) StreamGenerate(ctx context.Context, model string, req GenerateRequest, onText func(string) error) error {
	httpReq, err := c.newRequest(ctx, c.endpoint(model, "streamGenerateContent", url.Values{"alt": {"sse"}}), req)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var chunk GenerateResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if text := chunk.Text(); text != "" {
			if err := onText(text); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// EmbedBatch 调用 batchEmbedContents，返回与输入顺序一致的向量。
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string, taskType string, dims int) ([][]float32, error) {
	m := "models/" + normalizeModel(model)
	req := batchEmbedRequest{Requests: make([]embedRequest, len(texts))}
	for i, t := range texts {
		req.Requests[i] = embedRequest{
			Model:                m,
			Content:              Content{Parts: []Part{{Text: t}}},
			TaskType:             taskType,
			OutputDimensionality: dims,
		}
	}
	var resp batchEmbedResponse
	if err := c.doJSON(ctx, c.endpoint(model, "batchEmbedContents", nil), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, endpoint string, payload any, out any) error {
	req, err := c.newRequest(ctx, endpoint, payload)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var errResp errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error.Message}
}
