package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"session-processor/pkg/logger"
	"session-processor/pkg/models"
	"session-processor/pkg/stats"
	"session-processor/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var savedAt = time.Date(2024, 4, 2, 19, 0, 0, 0, time.UTC)

func newTestRoster() *Roster {
	return New(storage.NewPlayerStore(storage.NewMemoryStore()), nil, logger.Nop())
}

func sampleReport() *models.SessionReport {
	return &models.SessionReport{
		SessionType: "practice",
		Summary:     "Transition offense",
		Players: []models.PlayerAnalysis{
			{Name: "Maria Lopez", SkillsDemonstrated: []string{"Dribbling", "Passing"}, AreasForImprovement: []string{"Left hand"}},
			{Name: "John", SkillsDemonstrated: []string{"Defense"}},
		},
		KeyTakeaways: []string{"Push the pace"},
	}
}

func TestPlayerID_ShouldLowercaseAndDashWhitespace(t *testing.T) {
	assert.Equal(t, "maria-lopez", PlayerID("Maria Lopez"))
	assert.Equal(t, "maria-de-la-cruz", PlayerID("  Maria\tde   la Cruz "))
	assert.Equal(t, "", PlayerID("   "))
}

// --- SaveReport ---

func TestSaveReport_ShouldCreateRecordsAndApplyStats(t *testing.T) {
	ctx := context.Background()
	r := newTestRoster()

	recs, err := r.SaveReport(ctx, "s1", sampleReport(), savedAt)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	maria, err := r.Player(ctx, "maria-lopez")
	require.NoError(t, err)
	assert.Equal(t, "Maria Lopez", maria.Name)
	require.Len(t, maria.FeedbackHistory, 1)
	assert.Equal(t, models.SessionPractice, maria.FeedbackHistory[0].Report.SessionType)
	assert.Equal(t, 1, maria.Stats.TotalSessions)
	assert.Equal(t, map[string]int{"Dribbling": 1, "Passing": 1}, maria.Stats.SkillFrequency)
	assert.Equal(t, map[models.SessionType]int{models.SessionPractice: 1}, maria.Stats.SessionTypeHistogram)
	assert.Equal(t, "Push the pace", maria.Stats.RecentHighlights[0].Text)
	assert.Equal(t, stats.Recompute(maria.FeedbackHistory), maria.Stats)
}

func TestSaveReport_WhenSavedTwice_ShouldNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	r := newTestRoster()

	_, err := r.SaveReport(ctx, "s1", sampleReport(), savedAt)
	require.NoError(t, err)
	_, err = r.SaveReport(ctx, "s1", sampleReport(), savedAt.Add(time.Minute))
	require.NoError(t, err)
	_, err = r.SaveReport(ctx, "s2", sampleReport(), savedAt.Add(time.Hour))
	require.NoError(t, err)

	john, err := r.Player(ctx, "john")
	require.NoError(t, err)
	assert.Equal(t, 2, john.Stats.TotalSessions)
	assert.Len(t, john.FeedbackHistory, 2)
}

func TestSaveReport_WhenNamesShareID_ShouldCountSessionOnce(t *testing.T) {
	ctx := context.Background()
	r := newTestRoster()
	report := sampleReport()
	report.SessionType = "game"
	report.Players = append(report.Players, models.PlayerAnalysis{Name: "maria  lopez", SkillsDemonstrated: []string{"Shooting"}})

	recs, err := r.SaveReport(ctx, "s1", report, savedAt)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	maria, err := r.Player(ctx, "maria-lopez")
	require.NoError(t, err)
	assert.Equal(t, 1, maria.Stats.TotalSessions)
	assert.Equal(t, 1, maria.Stats.SessionTypeHistogram[models.SessionGame])
	require.Len(t, maria.FeedbackHistory, 1)
	assert.Equal(t, "Maria Lopez", maria.FeedbackHistory[0].PlayerName)

	// a later edit that respells the name is still the same session
	report.Players = []models.PlayerAnalysis{{Name: "MARIA LOPEZ"}}
	_, err = r.SaveReport(ctx, "s1", report, savedAt.Add(time.Minute))
	require.NoError(t, err)
	maria, err = r.Player(ctx, "maria-lopez")
	require.NoError(t, err)
	assert.Equal(t, 1, maria.Stats.TotalSessions)
}

func TestSaveReport_WhenPlayerNameMissing_ShouldWriteNothing(t *testing.T) {
	ctx := context.Background()
	r := newTestRoster()
	report := sampleReport()
	report.Players = append(report.Players, models.PlayerAnalysis{Name: "  "})

	_, err := r.SaveReport(ctx, "s1", report, savedAt)
	assert.True(t, errors.Is(err, models.ErrInvalidFeedbackData))

	all, err := r.Players(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = r.SaveReport(ctx, "s1", &models.SessionReport{}, savedAt)
	assert.True(t, errors.Is(err, models.ErrInvalidFeedbackData))
	_, err = r.SaveReport(ctx, "s1", nil, savedAt)
	assert.True(t, errors.Is(err, models.ErrInvalidFeedbackData))
}

// --- Profile management ---

func TestUpdateProfile_ShouldKeepIdentityKey(t *testing.T) {
	ctx := context.Background()
	r := newTestRoster()
	_, err := r.SaveReport(ctx, "s1", sampleReport(), savedAt)
	require.NoError(t, err)

	name, pos := "Maria López", "Point Guard"
	rec, err := r.UpdateProfile(ctx, "maria-lopez", ProfileUpdate{Name: &name, Position: &pos})
	require.NoError(t, err)
	assert.Equal(t, "maria-lopez", rec.ID)
	assert.Equal(t, "Maria López", rec.Name)
	assert.Equal(t, "Point Guard", rec.Position)

	_, err = r.UpdateProfile(ctx, "nobody", ProfileUpdate{Name: &name})
	assert.True(t, errors.Is(err, storage.ErrPlayerNotFound))
}

func TestPlayers_ShouldBeSortedByName(t *testing.T) {
	ctx := context.Background()
	r := newTestRoster()
	_, err := r.SaveReport(ctx, "s1", sampleReport(), savedAt)
	require.NoError(t, err)

	all, err := r.Players(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "John", all[0].Name)
	assert.Equal(t, "Maria Lopez", all[1].Name)
}

func TestDeleteHistoryAndClear(t *testing.T) {
	ctx := context.Background()
	r := newTestRoster()
	_, err := r.SaveReport(ctx, "s1", sampleReport(), savedAt)
	require.NoError(t, err)

	history, err := r.History(ctx, "john")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	found, err := r.Delete(ctx, "john")
	require.NoError(t, err)
	assert.True(t, found)
	found, err = r.Delete(ctx, "john")
	require.NoError(t, err)
	assert.False(t, found)

	history, err = r.History(ctx, "john")
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, r.Clear(ctx))
	all, err := r.Players(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecomputeStats_ShouldRepairCorruptedStats(t *testing.T) {
	ctx := context.Background()
	store := storage.NewPlayerStore(storage.NewMemoryStore())
	r := New(store, nil, logger.Nop())
	_, err := r.SaveReport(ctx, "s1", sampleReport(), savedAt)
	require.NoError(t, err)
	want, err := r.Player(ctx, "john")
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, func(p map[string]models.PlayerRecord) error {
		rec := p["john"]
		rec.Stats.TotalSessions = 42
		p["john"] = rec
		return nil
	}))

	got, err := r.RecomputeStats(ctx, "john")
	require.NoError(t, err)
	assert.Equal(t, want.Stats, got.Stats)
}
