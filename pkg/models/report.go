package models

import (
	"strings"
	"time"
)

type SessionType string

const (
	SessionTraining   SessionType = "Training"
	SessionPractice   SessionType = "Practice"
	SessionGame       SessionType = "Game"
	SessionAssessment SessionType = "Assessment"
)

var sessionTypes = []SessionType{SessionTraining, SessionPractice, SessionGame, SessionAssessment}

// ParseSessionType matches s case-insensitively against the known session
// types. The second return value is false when s is not one of them.
func ParseSessionType(s string) (SessionType, bool) {
	s = strings.TrimSpace(s)
	for _, t := range sessionTypes {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return SessionTraining, false
}

type PlayerAnalysis struct {
	Name                string   `json:"name"`
	SkillsDemonstrated  []string `json:"skills_demonstrated"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	Observations        []string `json:"observations"`
	SuggestedDrills     []string `json:"suggested_drills"`
}

type TeamFeedback struct {
	Strengths           []string `json:"strengths"`
	Improvements        []string `json:"improvements"`
	Chemistry           string   `json:"chemistry"`
	SuggestedTeamDrills []string `json:"suggested_team_drills"`
}

// SessionReport is the structured analysis of a session. Partial reports
// (one per analysis unit) share the same shape.
type SessionReport struct {
	SessionType  SessionType      `json:"session_type"`
	Summary      string           `json:"session_summary"`
	Players      []PlayerAnalysis `json:"players"`
	TeamFeedback TeamFeedback     `json:"team_feedback"`
	KeyTakeaways []string         `json:"key_takeaways"`
}

// Player returns the analysis for the player with exactly the given name.
func (r *SessionReport) Player(name string) (PlayerAnalysis, bool) {
	for _, p := range r.Players {
		if p.Name == name {
			return p, true
		}
	}
	return PlayerAnalysis{}, false
}

// FeedbackEntry is one saved session as seen by one player.
type FeedbackEntry struct {
	SessionID  string        `json:"session_id,omitempty"`
	PlayerName string        `json:"player_name"`
	Report     SessionReport `json:"report"`
	Timestamp  time.Time     `json:"timestamp"`
}

type Highlight struct {
	Text      string    `json:"highlight"`
	Timestamp time.Time `json:"timestamp"`
}

const MaxRecentHighlights = 5

type PlayerStats struct {
	TotalSessions            int                 `json:"total_sessions"`
	LastFeedbackAt           *time.Time          `json:"last_feedback_at"`
	SkillFrequency           map[string]int      `json:"skill_frequency"`
	SessionTypeHistogram     map[SessionType]int `json:"session_types"`
	ImprovementAreaFrequency map[string]int      `json:"improvement_areas"`
	RecentHighlights         []Highlight         `json:"recent_highlights"`
}

func NewPlayerStats() PlayerStats {
	return PlayerStats{
		SkillFrequency:           make(map[string]int),
		SessionTypeHistogram:     make(map[SessionType]int),
		ImprovementAreaFrequency: make(map[string]int),
		RecentHighlights:         []Highlight{},
	}
}

type PlayerRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Position        string          `json:"position,omitempty"`
	FeedbackHistory []FeedbackEntry `json:"feedback"`
	Stats           PlayerStats     `json:"stats"`
	LastUpdated     time.Time       `json:"last_updated"`
}
