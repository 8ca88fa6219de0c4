package models

import "errors"

var (
	ErrCaptureUnavailable  = errors.New("capture unavailable")
	ErrBufferTooLarge      = errors.New("audio buffer exceeds maximum chunk size")
	ErrNoAudio             = errors.New("no audio was recorded")
	ErrUpload              = errors.New("upload error")
	ErrChunkUploadFailed   = errors.New("chunk upload failed")
	ErrTranscription       = errors.New("transcription error")
	ErrAnalysis            = errors.New("analysis error")
	ErrAnalysisParse       = errors.New("analysis parse error")
	ErrInvalidFeedbackData = errors.New("invalid feedback data")
	ErrSessionDiscarded    = errors.New("session discarded")
	ErrSessionNotFound     = errors.New("session not found")
)
