package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

const anthropicVersion = "2023-06-01"

// AnthropicCompleter speaks the Anthropic messages protocol.
type AnthropicCompleter struct {
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

// NewAnthropicCompleter creates a messages API client.
func NewAnthropicCompleter(apiKey, baseURL string, hc *http.Client) *AnthropicCompleter {
	if hc == nil {
		hc = defaultHTTPClient()
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicCompleter{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), maxTokens: 1024, httpClient: hc}
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system"`
	Messages  []chatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete implements Completer.
func (c *AnthropicCompleter) Complete(ctx context.Context, model, prompt string) (string, error) {
	req := messagesRequest{
		Model:     model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}
	var resp messagesResponse
	if err := postJSON(ctx, c.httpClient, "anthropic", c.baseURL+"/messages", headers, req, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text content", domain.ErrMalformedResponse)
	}
	return sb.String(), nil
}
