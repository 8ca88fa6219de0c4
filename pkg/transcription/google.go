package transcription

import (
	"context"
	"fmt"
	"strings"

	"session-processor/pkg/models"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/durationpb"
)

// GoogleSpeech transcribes chunks with Cloud Speech-to-Text long running
// recognition.
type GoogleSpeech struct {
	client   *speech.Client
	language string
	model    string
}

func NewGoogleSpeech(ctx context.Context, language, model string, opts ...option.ClientOption) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	if language == "" {
		language = "en-US"
	}
	return &GoogleSpeech{client: c, language: language, model: model}, nil
}

func (g *GoogleSpeech) Close() error {
	return g.client.Close()
}

func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte) (*models.Transcript, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio", models.ErrTranscription)
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               g.language,
			Model:                      g.model,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}
	op, err := g.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: longrunningrecognize: %v", models.ErrTranscription, err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: longrunningrecognize wait: %v", models.ErrTranscription, err)
	}

	t := parseRecognizeResponse(resp)
	if t.Text == "" {
		return nil, fmt.Errorf("%w: no speech recognized", models.ErrTranscription)
	}
	return t, nil
}

// parseRecognizeResponse keeps the top alternative of every result. Each
// result becomes one segment spanning its words.
func parseRecognizeResponse(resp *speechpb.LongRunningRecognizeResponse) *models.Transcript {
	out := &models.Transcript{
		Segments: []models.TimedText{},
		Words:    []models.TimedText{},
	}
	if resp == nil {
		return out
	}

	var full strings.Builder
	var prevEnd int64
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(text)

		seg := models.TimedText{Text: text, StartMs: prevEnd, EndMs: durToMs(r.ResultEndTime)}
		for i, w := range alt.Words {
			if w == nil {
				continue
			}
			word := models.TimedText{
				StartMs: durToMs(w.StartTime),
				EndMs:   durToMs(w.EndTime),
				Text:    w.Word,
			}
			if i == 0 {
				seg.StartMs = word.StartMs
			}
			if word.EndMs > seg.EndMs {
				seg.EndMs = word.EndMs
			}
			out.Words = append(out.Words, word)
		}
		out.Segments = append(out.Segments, seg)
		prevEnd = seg.EndMs
	}
	out.Text = full.String()
	return out
}

func durToMs(d *durationpb.Duration) int64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Milliseconds()
}
