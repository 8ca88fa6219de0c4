package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"session-processor/pkg/models"
)

// SummaryPlaceholder stands in for a missing session summary.
const SummaryPlaceholder = "No summary provided."

// ParsePartialReport decodes one analysis response. Missing or mistyped
// fields fall back to defaults (empty lists, Training, SummaryPlaceholder);
// only a response that is not a JSON object at all is rejected with
// models.ErrAnalysisParse. Markdown code fences around the JSON are ignored.
func ParsePartialReport(raw string) (*models.SessionReport, error) {
	body := stripCodeFence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAnalysisParse, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: response is null", models.ErrAnalysisParse)
	}

	report := &models.SessionReport{
		SessionType:  models.SessionTraining,
		Summary:      SummaryPlaceholder,
		Players:      []models.PlayerAnalysis{},
		KeyTakeaways: stringList(fields["key_takeaways"]),
		TeamFeedback: parseTeamFeedback(fields["team_feedback"]),
	}
	if st := stringValue(fields["session_type"]); st != "" {
		report.SessionType, _ = models.ParseSessionType(st)
	}
	if summary := stringValue(fields["session_summary"]); summary != "" {
		report.Summary = summary
	}

	var players []json.RawMessage
	if json.Unmarshal(fields["players"], &players) == nil {
		for _, p := range players {
			var pf map[string]json.RawMessage
			if json.Unmarshal(p, &pf) != nil || pf == nil {
				continue
			}
			report.Players = append(report.Players, models.PlayerAnalysis{
				Name:                stringValue(pf["name"]),
				SkillsDemonstrated:  stringList(pf["skills_demonstrated"]),
				AreasForImprovement: stringList(pf["areas_for_improvement"]),
				Observations:        stringList(pf["observations"]),
				SuggestedDrills:     stringList(pf["suggested_drills"]),
			})
		}
	}
	return report, nil
}

func parseTeamFeedback(raw json.RawMessage) models.TeamFeedback {
	tf := models.TeamFeedback{
		Strengths:           []string{},
		Improvements:        []string{},
		SuggestedTeamDrills: []string{},
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil || fields == nil {
		return tf
	}
	tf.Strengths = stringList(fields["strengths"])
	tf.Improvements = stringList(fields["improvements"])
	tf.Chemistry = stringValue(fields["chemistry"])
	tf.SuggestedTeamDrills = stringList(fields["suggested_team_drills"])
	return tf
}

func stringValue(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// stringList accepts a list of strings or a single string. Non-string
// elements and blanks are dropped. It never returns nil.
func stringList(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	if s := stringValue(raw); s != "" {
		return append(out, s)
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return out
	}
	for _, it := range items {
		if s := stringValue(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
