package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"session-processor/pkg/models"
)

// OpenAIAnalyzer calls an OpenAI-compatible chat completion API in JSON mode.
type OpenAIAnalyzer struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float32
	client      *http.Client
}

func NewOpenAIAnalyzer(endpoint, apiKey, model string, temperature float32, timeout time.Duration) *OpenAIAnalyzer {
	return &OpenAIAnalyzer{
		endpoint:    endpoint,
		model:       model,
		apiKey:      apiKey,
		temperature: temperature,
		client:      &http.Client{Timeout: timeout},
	}
}

// Model returns the model name used for analysis.
func (a *OpenAIAnalyzer) Model() string { return a.model }

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, text string) (*models.SessionReport, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(text)},
		},
		Temperature:    a.temperature,
		MaxTokens:      maxResponseTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, backendError("openai", fmt.Errorf("chat completion request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backendError("openai", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, backendError("openai", fmt.Errorf("chat API returned %d: %s", resp.StatusCode, preview))
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, backendError("openai", fmt.Errorf("unmarshal response: %w", err))
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return nil, backendError("openai", fmt.Errorf("chat API returned no choices"))
	}

	return ParsePartialReport(result.Choices[0].Message.Content)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}
