// Package analysis splits a session transcript into model-sized units,
// sends each unit to a language model and merges the partial reports into
// one session report.
package analysis

import (
	"strings"

	"session-processor/pkg/models"
)

// Split partitions the transcript into units whose estimated token count
// stays within tokenBudget. It walks the word list in order; a unit is
// closed when the next word would exceed the budget and that word starts
// the next unit. A single word larger than the budget forms a unit of its
// own. When the words do not cover the session text, segments are used, then
// the plain text. A non-positive budget yields one unit.
func Split(t *models.SessionTranscript, tokenBudget int) []models.AnalysisUnit {
	if t == nil {
		return nil
	}
	words := splitWords(t)
	if len(words) == 0 {
		return nil
	}

	var (
		units  []models.AnalysisUnit
		cur    []models.TimedText
		tokens int
	)
	closeUnit := func() {
		if len(cur) == 0 {
			return
		}
		texts := make([]string, len(cur))
		for i, w := range cur {
			texts[i] = w.Text
		}
		units = append(units, models.AnalysisUnit{
			Text:            strings.Join(texts, " "),
			StartMs:         cur[0].StartMs,
			EndMs:           cur[len(cur)-1].EndMs,
			EstimatedTokens: tokens,
		})
		cur = nil
		tokens = 0
	}

	for _, w := range words {
		n := EstimateTokens(w.Text)
		if tokenBudget > 0 && len(cur) > 0 && tokens+n > tokenBudget {
			closeUnit()
		}
		cur = append(cur, w)
		tokens += n
	}
	closeUnit()
	return units
}

// splitWords picks the first of words and segments that covers the whole
// session text, falling back to the bare text.
func splitWords(t *models.SessionTranscript) []models.TimedText {
	fields := strings.Fields(t.Text)
	if out := nonEmpty(t.Words); covers(out, fields) {
		return out
	}
	if out := nonEmpty(t.Segments); covers(out, fields) {
		return out
	}
	out := make([]models.TimedText, len(fields))
	for i, f := range fields {
		out[i] = models.TimedText{Text: f}
	}
	return out
}

func covers(entries []models.TimedText, fields []string) bool {
	if len(entries) == 0 {
		return false
	}
	i := 0
	for _, e := range entries {
		for _, f := range strings.Fields(e.Text) {
			if i >= len(fields) || fields[i] != f {
				return false
			}
			i++
		}
	}
	return i == len(fields)
}

func nonEmpty(entries []models.TimedText) []models.TimedText {
	out := make([]models.TimedText, 0, len(entries))
	for _, e := range entries {
		if text := strings.TrimSpace(e.Text); text != "" {
			e.Text = text
			out = append(out, e)
		}
	}
	return out
}
