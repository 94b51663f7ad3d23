package api

import (
	"context"
	"io"
)

// TranscribeInput keeps data for one transcription call
type TranscribeInput struct {
	FileName string
	Audio    io.Reader
	LangHint string
}

// Segment is one recognized audio segment
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Result keeps transcription engine output
type Result struct {
	Text     string
	Language string
	Duration float64
	Segments []Segment
}

// Transcriber provides transcription
type Transcriber interface {
	Transcribe(ctx context.Context, in *TranscribeInput) (*Result, error)
}
