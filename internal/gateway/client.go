// Package gateway is the HTTP client for the language-model completion and
// classification backend. The backend is opaque; only this contract matters.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient builds a gateway client. timeout caps every call so a hung
// backend can never block a conversation response indefinitely.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a completion request.
type ChatOptions struct {
	Channel string `json:"channel,omitempty"`
}

// ChatResult is the reply plus classification signals.
type ChatResult struct {
	Response         string   `json:"response"`
	Confidence       float64  `json:"confidence"`
	HandoffRequired  bool     `json:"handoff_required"`
	Intent           string   `json:"intent,omitempty"`
	Sentiment        string   `json:"sentiment,omitempty"`
	KBArticlesUsed   []string `json:"kb_articles_used,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
}

type chatRequest struct {
	Messages []Message `json:"messages"`
	Channel  string    `json:"channel,omitempty"`
}

type extractRequest struct {
	Prompt string `json:"prompt"`
}

type extractResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ChatCompletion sends the message history and returns the reply with
// classification signals.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResult, error) {
	var result ChatResult
	err := c.post(ctx, "/v1/chat/completions", chatRequest{Messages: messages, Channel: opts.Channel}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// StructuredExtract asks the backend to run a field-extraction prompt.
// Best-effort: the returned text may be malformed and callers must treat
// parse failures as gateway failures.
func (c *Client) StructuredExtract(ctx context.Context, prompt string) (string, error) {
	var resp extractResponse
	if err := c.post(ctx, "/v1/extract", extractRequest{Prompt: prompt}, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return fmt.Errorf("gateway error %d: %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return fmt.Errorf("gateway error %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
