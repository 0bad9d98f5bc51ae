package engine

import (
	"context"
	"time"
)

// FetchAgent retrieves pages on behalf of the dispatcher. Two interchangeable
// implementations are expected: a heavyweight rendering agent and a
// lightweight static agent. Initialize and Shutdown are called exactly once,
// at dispatcher start and stop.
type FetchAgent interface {
	Initialize(ctx context.Context) error
	Fetch(ctx context.Context, url string, strategy Strategy, cfg ExecutionConfig) (FetchResult, error)
	Shutdown(ctx context.Context) error
}

// RelevanceScorer supplies an external semantic content score on the same
// 0-to-cap range as the rule-based content score. Failures are non-fatal;
// callers degrade to the rule-based value.
type RelevanceScorer interface {
	ScoreContent(ctx context.Context, url, title, description string) (float64, error)
}

// Publisher pushes completed-fetch events to a downstream consumer.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw fetched content and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (injectable for testing).
type Clock interface {
	Now() time.Time
}

// Rand is the injectable random source behind every probabilistic decision,
// so the 70% proxy-skip and 10% exploration behaviors are testable.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
