package services

import (
	"context"

	"github.com/tbourn/go-support-backend/internal/llm"
)

// Gateway is the pipeline's view of the language model boundary. All three
// staged calls (classification, extraction, generation) go through it; the
// concrete implementation is llm.Client, and tests substitute fakes.
//
// Implementations surface the llm error taxonomy (ErrUpstreamUnavailable,
// ErrUpstreamRateLimited, ErrUpstreamMalformed) after their own retry budget
// is exhausted; each stage chooses its fallback.
type Gateway interface {
	Call(ctx context.Context, stage, systemPrompt, userContent string) (*llm.Completion, error)
}
