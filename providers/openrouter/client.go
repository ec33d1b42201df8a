// Package openrouter implements the generic chat-completions provider.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/M4ss1ck/tg-ai-chatbot/llm"
)

const defaultBaseURL = "https://openrouter.ai"

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, llm.Errorf(llm.KindMisconfigured, "openrouter: missing api key")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Completion, error) {
	start := time.Now()

	body := chatCompletionRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return llm.Completion{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return llm.Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return llm.Completion{}, llm.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Completion{}, llm.ClassifyTransportError(err)
	}

	var out chatCompletionResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = json.Unmarshal(raw, &out)
		kind := llm.ClassifyHTTPStatus(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			return llm.Completion{}, llm.Errorf(kind, "openrouter http %d: %s", resp.StatusCode, out.Error.Message)
		}
		return llm.Completion{}, llm.Errorf(kind, "openrouter http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.Completion{}, llm.WrapError(llm.KindServer, "openrouter: malformed response", err)
	}
	if len(out.Choices) == 0 {
		return llm.Completion{}, llm.Errorf(llm.KindEmptyResponse, "openrouter: empty choices")
	}

	return llm.Completion{
		Text: out.Choices[0].Message.Content,
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}
