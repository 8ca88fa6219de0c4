package analysis

import (
	"context"
	"errors"
	"fmt"

	"session-processor/pkg/logger"
	"session-processor/pkg/models"
)

// Pipeline analyzes a whole session transcript unit by unit.
type Pipeline struct {
	svc         Service
	tokenBudget int
	log         *logger.Logger
}

func NewPipeline(svc Service, tokenBudget int, log *logger.Logger) *Pipeline {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Pipeline{svc: svc, tokenBudget: tokenBudget, log: log.With("component", "analysis")}
}

// AnalyzeSession splits the transcript, analyzes each unit in order and
// merges the partial reports. The first failing unit aborts the analysis and
// no report is returned.
func (p *Pipeline) AnalyzeSession(ctx context.Context, t *models.SessionTranscript) (*models.SessionReport, error) {
	units := Split(t, p.tokenBudget)
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: transcript is empty", models.ErrAnalysis)
	}
	p.log.Info("Analyzing session", "units", len(units), "token_budget", p.tokenBudget)

	partials := make([]*models.SessionReport, 0, len(units))
	for i, u := range units {
		report, err := p.svc.Analyze(ctx, u.Text)
		if err != nil {
			if !errors.Is(err, models.ErrAnalysis) && !errors.Is(err, models.ErrAnalysisParse) {
				err = fmt.Errorf("%w: %w", models.ErrAnalysis, err)
			}
			p.log.Error("Analysis unit failed",
				"unit", i,
				"start_ms", u.StartMs,
				"end_ms", u.EndMs,
				"error", err)
			return nil, fmt.Errorf("unit %d of %d: %w", i+1, len(units), err)
		}
		p.log.Debug("Analysis unit done", "unit", i, "players", len(report.Players))
		partials = append(partials, report)
	}
	return Merge(partials), nil
}
