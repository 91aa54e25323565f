// Package openai implements the warden.ModelClient adapter for
// OpenAI-compatible chat completion endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/provider"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	clientName     = "openai"
)

var _ warden.ModelClient = (*Client)(nil)

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	model   string
	baseURL string
	http    *http.Client
}

// New creates a Client for the given model. If baseURL is empty, it
// defaults to the OpenAI API. The provided http.Client should have auth
// configured via its transport chain.
func New(model, baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// Name returns the adapter identifier.
func (c *Client) Name() string { return clientName }

// chatRequest is the OpenAI wire format for a non-streaming completion.
type chatRequest struct {
	Model     string                 `json:"model"`
	Messages  []warden.PromptMessage `json:"messages"`
	MaxTokens int                    `json:"max_tokens,omitempty"`
}

// Complete sends a bounded chat completion request and extracts the reply
// text plus the usage report from the response.
func (c *Client) Complete(ctx context.Context, req *warden.CompletionRequest) (*warden.CompletionResult, error) {
	body, err := json.Marshal(&chatRequest{
		Model:     c.model,
		Messages:  req.Messages,
		MaxTokens: req.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", warden.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := provider.ParseAPIError(clientName, resp)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w", warden.ErrModelUnavailable, apiErr)
		}
		return nil, apiErr
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	return parseCompletion(raw)
}

// parseCompletion pulls the first choice's text and the usage block out of
// a chat completion response body.
func parseCompletion(raw []byte) (*warden.CompletionResult, error) {
	text := gjson.GetBytes(raw, "choices.0.message.content")
	if !text.Exists() {
		return nil, errors.New("openai: response has no choices")
	}
	return &warden.CompletionResult{
		Text: text.String(),
		Usage: warden.Usage{
			InputTokens:  gjson.GetBytes(raw, "usage.prompt_tokens").Int(),
			OutputTokens: gjson.GetBytes(raw, "usage.completion_tokens").Int(),
		},
	}, nil
}

// HealthCheck verifies connectivity by listing models.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.ParseAPIError(clientName, resp)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}
