package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Condenser rewrites the draft instructions into a single knowledge text.
type Condenser interface {
	Condense(ctx context.Context, prompt string) (string, error)
}

// GeminiCondenser condenses drafts with a Gemini model.
type GeminiCondenser struct {
	client  *genai.Client
	modelID string
}

func NewGeminiCondenser(ctx context.Context, apiKey, modelID string) (*GeminiCondenser, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("knowledge: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("knowledge: failed to create gemini client: %w", err)
	}

	return &GeminiCondenser{client: client, modelID: modelID}, nil
}

func (c *GeminiCondenser) Condense(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.GenerativeModel(c.modelID).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("knowledge: gemini generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("knowledge: gemini returned no content")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	condensed := strings.TrimSpace(text.String())
	if condensed == "" {
		return "", errors.New("knowledge: gemini returned empty content")
	}

	return condensed, nil
}

func (c *GeminiCondenser) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
