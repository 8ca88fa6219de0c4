package stats

import (
	"fmt"
	"testing"
	"time"

	"session-processor/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC)

func entry(i int, sessionType models.SessionType, skills, areas, takeaways []string) models.FeedbackEntry {
	return models.FeedbackEntry{
		PlayerName: "Maria",
		Timestamp:  day0.Add(time.Duration(i) * 24 * time.Hour),
		Report: models.SessionReport{
			SessionType: sessionType,
			Players: []models.PlayerAnalysis{
				{Name: "Maria", SkillsDemonstrated: skills, AreasForImprovement: areas},
				{Name: "John", SkillsDemonstrated: []string{"Rebounding"}},
			},
			KeyTakeaways: takeaways,
		},
	}
}

func history() []models.FeedbackEntry {
	types := []models.SessionType{models.SessionTraining, models.SessionGame, models.SessionPractice, models.SessionAssessment}
	var out []models.FeedbackEntry
	for i := 0; i < 9; i++ {
		var takeaways []string
		if i%3 != 1 {
			takeaways = []string{fmt.Sprintf("takeaway %d", i), "second"}
		}
		out = append(out, entry(i, types[i%len(types)],
			[]string{"Dribbling", fmt.Sprintf("Skill%d", i%2)},
			[]string{fmt.Sprintf("Area%d", i%3)},
			takeaways))
	}
	// a session where the player was not mentioned still counts
	out = append(out, models.FeedbackEntry{
		PlayerName: "Maria",
		Timestamp:  day0.Add(30 * 24 * time.Hour),
		Report:     models.SessionReport{SessionType: models.SessionGame},
	})
	return out
}

func TestApplySession_ShouldMatchRecomputeForEveryPrefix(t *testing.T) {
	h := history()
	incremental := models.NewPlayerStats()
	assert.Equal(t, Recompute(nil), incremental)

	for i, e := range h {
		incremental = ApplySession(incremental, e)
		assert.Equal(t, Recompute(h[:i+1]), incremental, "after %d sessions", i+1)
	}
}

func TestApplySession_ShouldCountSkillsAreasAndSessionTypes(t *testing.T) {
	s := ApplySession(models.NewPlayerStats(), entry(0, models.SessionGame, []string{"Dribbling", "Passing"}, []string{"Defense"}, []string{"Great hustle"}))
	s = ApplySession(s, entry(1, models.SessionGame, []string{"Dribbling"}, nil, nil))

	assert.Equal(t, 2, s.TotalSessions)
	require.NotNil(t, s.LastFeedbackAt)
	assert.Equal(t, day0.Add(24*time.Hour), *s.LastFeedbackAt)
	assert.Equal(t, map[string]int{"Dribbling": 2, "Passing": 1}, s.SkillFrequency)
	assert.Equal(t, map[string]int{"Defense": 1}, s.ImprovementAreaFrequency)
	assert.Equal(t, map[models.SessionType]int{models.SessionGame: 2}, s.SessionTypeHistogram)
	assert.Equal(t, []models.Highlight{{Text: "Great hustle", Timestamp: day0}}, s.RecentHighlights)
	assert.NotContains(t, s.SkillFrequency, "Rebounding")
}

func TestApplySession_ShouldKeepFiveMostRecentHighlightsNewestFirst(t *testing.T) {
	s := models.NewPlayerStats()
	for i := 0; i < 7; i++ {
		s = ApplySession(s, entry(i, models.SessionTraining, nil, nil, []string{fmt.Sprintf("h%d", i)}))
	}
	require.Len(t, s.RecentHighlights, models.MaxRecentHighlights)
	texts := make([]string, len(s.RecentHighlights))
	for i, h := range s.RecentHighlights {
		texts[i] = h.Text
	}
	assert.Equal(t, []string{"h6", "h5", "h4", "h3", "h2"}, texts)
}

func TestApplySession_ShouldNotMutateInput(t *testing.T) {
	before := ApplySession(models.NewPlayerStats(), entry(0, models.SessionTraining, []string{"Dribbling"}, nil, []string{"x"}))
	snapshot := Recompute([]models.FeedbackEntry{entry(0, models.SessionTraining, []string{"Dribbling"}, nil, []string{"x"})})

	_ = ApplySession(before, entry(1, models.SessionGame, []string{"Dribbling"}, nil, []string{"y"}))
	assert.Equal(t, snapshot, before)
}
