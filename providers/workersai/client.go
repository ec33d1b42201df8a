// Package workersai implements the Cloudflare edge-inference provider. The
// model identity is encoded in the request URL, not the body, and calls are
// scoped by an account id plus an API token.
package workersai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/M4ss1ck/tg-ai-chatbot/llm"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

type Client struct {
	BaseURL   string
	AccountID string
	APIToken  string
	HTTP      *http.Client
}

// New fails fast when the edge-inference credentials are absent; a call must
// never be attempted without them.
func New(baseURL, accountID, apiToken string) (*Client, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(apiToken) == "" {
		return nil, llm.Errorf(llm.KindMisconfigured, "workersai: missing account id or api token")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		AccountID: accountID,
		APIToken:  apiToken,
		HTTP:      &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// The body carries only the messages; the model lives in the URL.
type runRequest struct {
	Messages []llm.Message `json:"messages"`
}

type runResponse struct {
	Result struct {
		Response string `json:"response"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Completion, error) {
	start := time.Now()

	if strings.TrimSpace(req.Model) == "" {
		return llm.Completion{}, llm.Errorf(llm.KindMisconfigured, "workersai: missing model id")
	}

	b, err := json.Marshal(runRequest{Messages: req.Messages})
	if err != nil {
		return llm.Completion{}, err
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/ai/run/%s",
		c.BaseURL, url.PathEscape(c.AccountID), req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return llm.Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return llm.Completion{}, llm.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Completion{}, llm.ClassifyTransportError(err)
	}

	var out runResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = json.Unmarshal(raw, &out)
		kind := llm.ClassifyHTTPStatus(resp.StatusCode)
		if len(out.Errors) > 0 && out.Errors[0].Message != "" {
			return llm.Completion{}, llm.Errorf(kind, "workersai http %d: %s", resp.StatusCode, out.Errors[0].Message)
		}
		return llm.Completion{}, llm.Errorf(kind, "workersai http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.Completion{}, llm.WrapError(llm.KindServer, "workersai: malformed response", err)
	}
	if !out.Success {
		msg := "success=false"
		if len(out.Errors) > 0 && out.Errors[0].Message != "" {
			msg = out.Errors[0].Message
		}
		return llm.Completion{}, llm.Errorf(llm.KindServer, "workersai: %s", msg)
	}

	return llm.Completion{
		Text:     out.Result.Response,
		Duration: time.Since(start),
	}, nil
}
