// Package extract is the single entry point the pipeline uses to turn a stored
// CV into text and structured candidate data.
package extract

import (
	"context"

	"github.com/ZoroCRE/cv-analyzer/internal/ocr"
	"github.com/ZoroCRE/cv-analyzer/internal/storage"
)

// Fetcher copies a stored object into local scratch space.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (*storage.Handle, error)
}

// TextExtractor is Stage 1: file -> text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (ocr.ExtractionResult, error)
}
