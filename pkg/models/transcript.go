package models

// TimedText is a word or segment with millisecond timestamps.
type TimedText struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Transcript is what a transcription backend returns for one audio payload.
// Timestamps are zero-based relative to the payload.
type Transcript struct {
	Text     string      `json:"text"`
	Segments []TimedText `json:"segments"`
	Words    []TimedText `json:"words"`
}

// ChunkTranscript is a Transcript bound to the chunk it came from. The
// sequence index and start offset are kept so the merge step does not need
// the chunk itself.
type ChunkTranscript struct {
	ChunkID       string `json:"chunk_id"`
	SequenceIndex int    `json:"sequence_index"`
	StartOffsetMs int64  `json:"start_offset_ms"`
	Transcript
}

// SessionTranscript is the stitched transcript of every chunk in a session,
// with timestamps translated to session-absolute offsets.
type SessionTranscript struct {
	Text     string      `json:"text"`
	Segments []TimedText `json:"segments"`
	Words    []TimedText `json:"words"`
}

// AnalysisUnit is a contiguous slice of a SessionTranscript sized to fit a
// model's token budget.
type AnalysisUnit struct {
	Text            string `json:"text"`
	StartMs         int64  `json:"start_ms"`
	EndMs           int64  `json:"end_ms"`
	EstimatedTokens int    `json:"estimated_tokens"`
}
