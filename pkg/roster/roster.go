// Package roster owns the long-lived player records: saving confirmed
// session reports into them and the profile operations around them.
package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"session-processor/pkg/logger"
	"session-processor/pkg/models"
	"session-processor/pkg/stats"
	"session-processor/pkg/storage"
)

// Serializer runs fn so that no two calls with the same key overlap.
type Serializer interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type inline struct{}

func (inline) Do(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type Roster struct {
	players *storage.PlayerStore
	serial  Serializer
	log     *logger.Logger
}

// New returns a Roster. A nil serial runs writes on the caller's goroutine;
// the player store's own lock still serializes them.
func New(players *storage.PlayerStore, serial Serializer, log *logger.Logger) *Roster {
	if serial == nil {
		serial = inline{}
	}
	return &Roster{players: players, serial: serial, log: log.With("component", "roster")}
}

// PlayerID is the identity key for a player name: lower-cased with runs of
// whitespace replaced by a single dash.
func PlayerID(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "-"))
}

// ProfileUpdate carries the profile fields to change; nil fields are kept.
type ProfileUpdate struct {
	Name     *string `json:"name,omitempty"`
	Position *string `json:"position,omitempty"`
}

// Validate rejects a report that cannot be saved: no player list or a player
// without a name.
func Validate(report *models.SessionReport) error {
	if report == nil {
		return fmt.Errorf("%w: report is missing", models.ErrInvalidFeedbackData)
	}
	if report.Players == nil {
		return fmt.Errorf("%w: players are missing", models.ErrInvalidFeedbackData)
	}
	for i, p := range report.Players {
		if PlayerID(p.Name) == "" {
			return fmt.Errorf("%w: player %d has no name", models.ErrInvalidFeedbackData, i+1)
		}
	}
	return nil
}

// SaveReport appends the session to the record of every player in the
// report, creating records for unseen names, and folds it into their stats.
// Names that share a player id are saved once. Writes for one player id are
// serialized. Saving the same session twice is
// a no-op for players that already have it, so a failed save can be retried
// as a whole.
func (r *Roster) SaveReport(ctx context.Context, sessionID string, report *models.SessionReport, at time.Time) ([]models.PlayerRecord, error) {
	if err := Validate(report); err != nil {
		return nil, err
	}
	saved := *report
	saved.SessionType, _ = models.ParseSessionType(string(report.SessionType))

	out := make([]models.PlayerRecord, 0, len(saved.Players))
	seen := make(map[string]bool, len(saved.Players))
	for _, p := range saved.Players {
		id := PlayerID(p.Name)
		if seen[id] {
			// spellings of one player count once, under the first name
			continue
		}
		seen[id] = true
		entry := models.FeedbackEntry{
			SessionID:  sessionID,
			PlayerName: p.Name,
			Report:     saved,
			Timestamp:  at,
		}

		var rec models.PlayerRecord
		err := r.serial.Do(ctx, id, func(ctx context.Context) error {
			return r.players.Update(ctx, func(players map[string]models.PlayerRecord) error {
				rec = applyEntry(players[id], id, entry)
				players[id] = rec
				return nil
			})
		})
		if err != nil {
			r.log.Error("Failed to save player feedback", "player_id", id, "session_id", sessionID, "error", err)
			return out, fmt.Errorf("save feedback for %s: %w", id, err)
		}
		out = append(out, rec)
	}
	r.log.Info("Session saved to player records", "session_id", sessionID, "players", len(out))
	return out, nil
}

func applyEntry(rec models.PlayerRecord, id string, entry models.FeedbackEntry) models.PlayerRecord {
	if rec.ID == "" {
		rec = models.PlayerRecord{
			ID:              id,
			Name:            entry.PlayerName,
			FeedbackHistory: []models.FeedbackEntry{},
			Stats:           models.NewPlayerStats(),
		}
	}
	if entry.SessionID != "" {
		for _, e := range rec.FeedbackHistory {
			if e.SessionID == entry.SessionID {
				return rec
			}
		}
	}
	rec.FeedbackHistory = append(rec.FeedbackHistory, entry)
	rec.Stats = stats.ApplySession(rec.Stats, entry)
	rec.LastUpdated = entry.Timestamp
	return rec
}

// Players returns every player record ordered by name.
func (r *Roster) Players(ctx context.Context) ([]models.PlayerRecord, error) {
	all, err := r.players.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.PlayerRecord, 0, len(all))
	for _, p := range all {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Roster) Player(ctx context.Context, id string) (models.PlayerRecord, error) {
	return r.players.Get(ctx, id)
}

// UpdateProfile changes a player's display name or position. The identity
// key stays the same even when the name changes.
func (r *Roster) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (models.PlayerRecord, error) {
	var rec models.PlayerRecord
	err := r.serial.Do(ctx, id, func(ctx context.Context) error {
		return r.players.Update(ctx, func(players map[string]models.PlayerRecord) error {
			p, ok := players[id]
			if !ok {
				return storage.ErrPlayerNotFound
			}
			if upd.Name != nil {
				name := strings.TrimSpace(*upd.Name)
				if name == "" {
					return fmt.Errorf("%w: name cannot be empty", models.ErrInvalidFeedbackData)
				}
				p.Name = name
			}
			if upd.Position != nil {
				p.Position = strings.TrimSpace(*upd.Position)
			}
			p.LastUpdated = time.Now()
			players[id] = p
			rec = p
			return nil
		})
	})
	return rec, err
}

// Delete removes a player. It reports false when there was no such player.
func (r *Roster) Delete(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.serial.Do(ctx, id, func(ctx context.Context) error {
		var err error
		found, err = r.players.Delete(ctx, id)
		return err
	})
	if found {
		r.log.Info("Player deleted", "player_id", id)
	}
	return found, err
}

// History returns the player's saved sessions, oldest first. An unknown
// player has no history.
func (r *Roster) History(ctx context.Context, id string) ([]models.FeedbackEntry, error) {
	p, err := r.players.Get(ctx, id)
	if errors.Is(err, storage.ErrPlayerNotFound) {
		return []models.FeedbackEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return p.FeedbackHistory, nil
}

// RecomputeStats rebuilds a player's stats from the feedback history.
func (r *Roster) RecomputeStats(ctx context.Context, id string) (models.PlayerRecord, error) {
	var rec models.PlayerRecord
	err := r.serial.Do(ctx, id, func(ctx context.Context) error {
		return r.players.Update(ctx, func(players map[string]models.PlayerRecord) error {
			p, ok := players[id]
			if !ok {
				return storage.ErrPlayerNotFound
			}
			p.Stats = stats.Recompute(p.FeedbackHistory)
			players[id] = p
			rec = p
			return nil
		})
	})
	return rec, err
}

// Clear deletes every player record.
func (r *Roster) Clear(ctx context.Context) error {
	if err := r.players.Clear(ctx); err != nil {
		return err
	}
	r.log.Warn("All player data cleared")
	return nil
}
