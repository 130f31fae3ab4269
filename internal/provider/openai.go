package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// OpenAICompleter speaks the chat-completions protocol. It also serves any
// compatible endpoint (xAI, OpenRouter, DeepSeek) through BaseURL.
type OpenAICompleter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAICompleter creates a chat-completions client. baseURL is the API
// root, e.g. "https://api.openai.com/v1".
func NewOpenAICompleter(apiKey, baseURL string, hc *http.Client) *OpenAICompleter {
	if hc == nil {
		hc = defaultHTTPClient()
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAICompleter{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, model, prompt string) (string, error) {
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	var resp chatResponse
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := postJSON(ctx, c.httpClient, "openai", c.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", domain.ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
