package analysis

import (
	"session-processor/pkg/models"
	"session-processor/pkg/orderedset"
)

// Merge combines partial reports in unit order.
//
// Session type, summary and team chemistry come from the first report.
// Players are matched by exact name: skills, improvement areas and drills
// are unioned in first-seen order while observations are appended as they
// come. Team strengths, improvements and drills are unioned; key takeaways
// are concatenated without deduplication.
func Merge(partials []*models.SessionReport) *models.SessionReport {
	reports := make([]*models.SessionReport, 0, len(partials))
	for _, p := range partials {
		if p != nil {
			reports = append(reports, p)
		}
	}

	out := &models.SessionReport{
		SessionType:  models.SessionTraining,
		Summary:      SummaryPlaceholder,
		Players:      []models.PlayerAnalysis{},
		KeyTakeaways: []string{},
	}
	if len(reports) == 0 {
		out.TeamFeedback = models.TeamFeedback{
			Strengths:           []string{},
			Improvements:        []string{},
			SuggestedTeamDrills: []string{},
		}
		return out
	}

	first := reports[0]
	if first.SessionType != "" {
		out.SessionType = first.SessionType
	}
	if first.Summary != "" {
		out.Summary = first.Summary
	}

	var (
		strengths    orderedset.Set[string]
		improvements orderedset.Set[string]
		teamDrills   orderedset.Set[string]
		players      []*playerAccumulator
		byName       = make(map[string]*playerAccumulator)
	)
	for _, r := range reports {
		for _, p := range r.Players {
			acc, ok := byName[p.Name]
			if !ok {
				acc = &playerAccumulator{name: p.Name, observations: []string{}}
				byName[p.Name] = acc
				players = append(players, acc)
			}
			acc.add(p)
		}
		strengths.Add(r.TeamFeedback.Strengths...)
		improvements.Add(r.TeamFeedback.Improvements...)
		teamDrills.Add(r.TeamFeedback.SuggestedTeamDrills...)
		out.KeyTakeaways = append(out.KeyTakeaways, r.KeyTakeaways...)
	}

	for _, acc := range players {
		out.Players = append(out.Players, acc.analysis())
	}
	out.TeamFeedback = models.TeamFeedback{
		Strengths:           strengths.Items(),
		Improvements:        improvements.Items(),
		Chemistry:           first.TeamFeedback.Chemistry,
		SuggestedTeamDrills: teamDrills.Items(),
	}
	return out
}

// playerAccumulator keeps the first entry for a name as given and unions
// later entries into it.
type playerAccumulator struct {
	name         string
	seen         bool
	skills       []string
	areas        []string
	drills       []string
	observations []string
}

func (a *playerAccumulator) add(p models.PlayerAnalysis) {
	a.observations = append(a.observations, p.Observations...)
	if !a.seen {
		a.seen = true
		a.skills = append([]string{}, p.SkillsDemonstrated...)
		a.areas = append([]string{}, p.AreasForImprovement...)
		a.drills = append([]string{}, p.SuggestedDrills...)
		return
	}
	a.skills = orderedset.Union(a.skills, p.SkillsDemonstrated)
	a.areas = orderedset.Union(a.areas, p.AreasForImprovement)
	a.drills = orderedset.Union(a.drills, p.SuggestedDrills)
}

func (a *playerAccumulator) analysis() models.PlayerAnalysis {
	return models.PlayerAnalysis{
		Name:                a.name,
		SkillsDemonstrated:  a.skills,
		AreasForImprovement: a.areas,
		Observations:        a.observations,
		SuggestedDrills:     a.drills,
	}
}
