package provider

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// GeminiCompleter calls Gemini models through the genai SDK.
type GeminiCompleter struct {
	client *genai.Client
}

// NewGeminiCompleter creates a Gemini client. baseURL overrides the API
// endpoint and is normally empty.
func NewGeminiCompleter(ctx context.Context, apiKey, baseURL string, hc *http.Client) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("provider/gemini: API key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("provider/gemini: create client: %w", err)
	}
	return &GeminiCompleter{client: client}, nil
}

// Complete implements Completer.
func (g *GeminiCompleter) Complete(ctx context.Context, model, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
