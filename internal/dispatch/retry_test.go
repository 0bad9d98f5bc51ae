package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

func TestShouldRetryCeilings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		class      engine.ErrorClass
		retryCount int
		want       bool
	}{
		{engine.ErrClassNetwork, 0, true},
		{engine.ErrClassNetwork, 2, true},
		{engine.ErrClassNetwork, 3, false},
		{engine.ErrClassDenied, 1, true},
		{engine.ErrClassDenied, 2, false},
		{engine.ErrClassNotFound, 0, true},
		{engine.ErrClassNotFound, 1, false},
		{engine.ErrClassNoContent, 1, false},
		{engine.ErrClassCaptcha, 1, true},
		{engine.ErrorClass("mystery"), 2, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, shouldRetry(tt.class, tt.retryCount),
			"%s retry %d", tt.class, tt.retryCount)
	}
}

func TestRetryDelayScalesAndClamps(t *testing.T) {
	t.Parallel()

	// Neutral jitter draw of 0.5 gives exactly the 0.8+0.4*0.5 = 1.0 factor.
	assert.Equal(t, 5*time.Second, retryDelay(engine.ErrClassNetwork, 0, 0.5))
	assert.Equal(t, 10*time.Second, retryDelay(engine.ErrClassNetwork, 1, 0.5))
	assert.Equal(t, 12500*time.Millisecond, retryDelay(engine.ErrClassDenied, 0, 0.5))
	assert.Equal(t, 15*time.Second, retryDelay(engine.ErrClassCaptcha, 0, 0.5))

	// Deep retries of an expensive class clamp to the ceiling.
	assert.Equal(t, 5*time.Minute, retryDelay(engine.ErrClassCaptcha, 6, 1.0))

	// The floor holds even for cheap classes with low jitter.
	assert.GreaterOrEqual(t, retryDelay(engine.ErrClassNotFound, 0, 0.0), time.Second)
}

func TestPrepareRetryEscalatesAccessDenied(t *testing.T) {
	t.Parallel()

	task := engine.CrawlTask{
		URL:        "https://www.nejm.org/doi/1",
		Priority:   80,
		Protection: engine.ProtectionMedium,
		RetryCount: 1,
	}

	next, delta := prepareRetry(task, engine.ErrClassDenied)
	assert.Equal(t, engine.ProtectionHigh, next.Protection)
	assert.True(t, next.ForceNewProxy)
	assert.Equal(t, 7*time.Second, next.MinDelay)
	assert.InDelta(t, 80*0.85*0.85-80, delta, 1e-9, "second retry keeps 0.85^2 of the current priority")
	assert.Equal(t, float64(0), next.TimeoutFactor)
}

func TestPrepareRetryDecayCompounds(t *testing.T) {
	t.Parallel()

	// First retry of an 80-priority task drops it to 68; the second retry of
	// the now-68 task drops it to 68 * 0.85^2 = 49.13.
	first := engine.CrawlTask{URL: "https://example.com", Priority: 80}
	_, delta := prepareRetry(first, engine.ErrClassNetwork)
	assert.InDelta(t, 68.0, first.Priority+delta, 1e-9)

	second := engine.CrawlTask{URL: "https://example.com", Priority: 68, RetryCount: 1}
	_, delta = prepareRetry(second, engine.ErrClassNetwork)
	assert.InDelta(t, 49.13, second.Priority+delta, 1e-9)
}

func TestPrepareRetryStretchesTimeoutsForTransientClasses(t *testing.T) {
	t.Parallel()

	task := engine.CrawlTask{URL: "https://example.com", Priority: 40}
	for _, class := range []engine.ErrorClass{
		engine.ErrClassNetwork, engine.ErrClassServer, engine.ErrClassTimeout,
	} {
		next, _ := prepareRetry(task, class)
		assert.Equal(t, 1.5, next.TimeoutFactor, string(class))
		assert.False(t, next.ForceNewProxy, string(class))
	}
}
