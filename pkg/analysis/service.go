package analysis

import (
	"context"
	"fmt"
	"strings"

	"session-processor/pkg/models"
)

// Service extracts a partial report from one transcript unit. Backend
// failures wrap models.ErrAnalysis; unparseable responses wrap
// models.ErrAnalysisParse.
type Service interface {
	Analyze(ctx context.Context, text string) (*models.SessionReport, error)
}

const maxResponseTokens = 2000

const systemPrompt = `You are an assistant coach reviewing a recorded coaching session.
Respond with a single JSON object and nothing else, using exactly these keys:
{
  "session_type": one of "Training", "Practice", "Game", "Assessment",
  "session_summary": string,
  "players": [{
    "name": string,
    "skills_demonstrated": [string],
    "areas_for_improvement": [string],
    "observations": [string],
    "suggested_drills": [string]
  }],
  "team_feedback": {
    "strengths": [string],
    "improvements": [string],
    "chemistry": string,
    "suggested_team_drills": [string]
  },
  "key_takeaways": [string]
}
Use each player's name exactly as spoken. Leave a list empty when the transcript says nothing about it.`

func buildUserPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Transcript:\n")
	sb.WriteString(strings.TrimSpace(text))
	return sb.String()
}

func backendError(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrAnalysis, provider, err)
}
