// Package stats folds saved session reports into per-player statistics.
package stats

import "session-processor/pkg/models"

// ApplySession returns stats updated with one more feedback entry. The input
// is not modified. Folding a history entry by entry from NewPlayerStats
// gives the same value as Recompute over that history.
func ApplySession(s models.PlayerStats, entry models.FeedbackEntry) models.PlayerStats {
	out := clone(s)
	out.TotalSessions++
	ts := entry.Timestamp
	out.LastFeedbackAt = &ts
	out.SessionTypeHistogram[entry.Report.SessionType]++

	if p, ok := entry.Report.Player(entry.PlayerName); ok {
		for _, skill := range p.SkillsDemonstrated {
			out.SkillFrequency[skill]++
		}
		for _, area := range p.AreasForImprovement {
			out.ImprovementAreaFrequency[area]++
		}
	}

	if len(entry.Report.KeyTakeaways) > 0 {
		h := models.Highlight{Text: entry.Report.KeyTakeaways[0], Timestamp: entry.Timestamp}
		out.RecentHighlights = append([]models.Highlight{h}, out.RecentHighlights...)
		if len(out.RecentHighlights) > models.MaxRecentHighlights {
			out.RecentHighlights = out.RecentHighlights[:models.MaxRecentHighlights]
		}
	}
	return out
}

// Recompute builds stats from scratch out of the full history, oldest
// entry first. It is the reference ApplySession is checked against and is
// used to repair records.
func Recompute(history []models.FeedbackEntry) models.PlayerStats {
	s := models.NewPlayerStats()
	s.TotalSessions = len(history)
	if len(history) > 0 {
		ts := history[len(history)-1].Timestamp
		s.LastFeedbackAt = &ts
	}
	for _, e := range history {
		s.SessionTypeHistogram[e.Report.SessionType]++
		p, ok := e.Report.Player(e.PlayerName)
		if !ok {
			continue
		}
		for _, skill := range p.SkillsDemonstrated {
			s.SkillFrequency[skill]++
		}
		for _, area := range p.AreasForImprovement {
			s.ImprovementAreaFrequency[area]++
		}
	}
	for i := len(history) - 1; i >= 0 && len(s.RecentHighlights) < models.MaxRecentHighlights; i-- {
		e := history[i]
		if len(e.Report.KeyTakeaways) == 0 {
			continue
		}
		s.RecentHighlights = append(s.RecentHighlights, models.Highlight{Text: e.Report.KeyTakeaways[0], Timestamp: e.Timestamp})
	}
	return s
}

func clone(s models.PlayerStats) models.PlayerStats {
	out := models.NewPlayerStats()
	out.TotalSessions = s.TotalSessions
	if s.LastFeedbackAt != nil {
		t := *s.LastFeedbackAt
		out.LastFeedbackAt = &t
	}
	for k, v := range s.SkillFrequency {
		out.SkillFrequency[k] = v
	}
	for k, v := range s.SessionTypeHistogram {
		out.SessionTypeHistogram[k] = v
	}
	for k, v := range s.ImprovementAreaFrequency {
		out.ImprovementAreaFrequency[k] = v
	}
	out.RecentHighlights = append(out.RecentHighlights, s.RecentHighlights...)
	return out
}
