package extractor

import (
	"context"

	"github.com/carevox/carevox/internal/pkg/schema"
)

// Input keeps data for one extraction call
type Input struct {
	Text     string
	Language string
	// optional context hints, e.g. capture context type
	Hints map[string]string
}

// Output keeps extraction engine response
type Output struct {
	Document     *schema.Document
	ModelVersion string
	ProcessingMs int64
	// raw engine response body, preserved for the audit trail
	Raw string
}

// Extractor converts free text into categorized clinical facts
type Extractor interface {
	Extract(ctx context.Context, in *Input) (*Output, error)
	Translate(ctx context.Context, text, fromLang, toLang string) (string, error)
}
