package analysis

import (
	"context"
	"fmt"
	"strings"

	"session-processor/pkg/models"

	"google.golang.org/genai"
)

// GeminiAnalyzer asks a Gemini model for a JSON partial report.
type GeminiAnalyzer struct {
	models *genai.Models
	model  string
	config *genai.GenerateContentConfig
}

func NewGeminiAnalyzer(ctx context.Context, apiKey, model string, temperature float32) (*GeminiAnalyzer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating genai client: %w", err)
	}
	temp := temperature
	return &GeminiAnalyzer{
		models: client.Models,
		model:  model,
		config: &genai.GenerateContentConfig{
			Temperature:      &temp,
			MaxOutputTokens:  maxResponseTokens,
			ResponseMIMEType: "application/json",
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{{Text: systemPrompt}},
			},
		},
	}, nil
}

func (g *GeminiAnalyzer) Analyze(ctx context.Context, text string) (*models.SessionReport, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(buildUserPrompt(text)), g.config)
	if err != nil {
		return nil, backendError("gemini", err)
	}
	content := responseText(resp)
	if content == "" {
		return nil, backendError("gemini", fmt.Errorf("empty response"))
	}
	return ParsePartialReport(content)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
