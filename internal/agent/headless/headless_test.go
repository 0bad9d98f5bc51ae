package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

func newTestAgent() *Agent {
	return New(Config{UserAgent: "test/1.0", MaxParallel: 2, DomainQPS: 0}, zap.NewNop())
}

func TestBehaviorActionsCoverEveryStepType(t *testing.T) {
	t.Parallel()
	a := newTestAgent()

	profile := &engine.BehaviorProfile{
		ScrollInterval: 100 * time.Millisecond,
		Interactions: []engine.InteractionStep{
			{Type: "scroll", Amount: 400},
			{Type: "wait", Duration: 50 * time.Millisecond},
			{Type: "hover", Selector: ".abstract", Duration: 30 * time.Millisecond},
			{Type: "click", Selector: "button", DelayBefore: 20 * time.Millisecond},
			{Type: "text_selection", Probability: 0.3},
			{Type: "browser_resize", Probability: 0.15},
		},
	}

	actions := a.behaviorActions(profile)
	// scroll emits evaluate+sleep, hover emits evaluate+sleep, click emits
	// sleep+evaluate; the rest are single actions.
	assert.Len(t, actions, 9)
}

func TestHeaderMapFoldsCookiesAndReferrer(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Set("Accept-Language", "en-US,en;q=0.5")
	headers.Set("DNT", "1")

	got := headerMap(engine.ExecutionConfig{
		Headers:  headers,
		Referrer: "https://www.google.com/",
		Cookies:  "session=abc",
	})

	assert.Equal(t, "en-US,en;q=0.5", got["Accept-Language"])
	assert.Equal(t, "1", got["Dnt"])
	assert.Equal(t, "https://www.google.com/", got["Referer"])
	assert.Equal(t, "session=abc", got["Cookie"])
}

func TestWaitDomainRateLimitsPerHost(t *testing.T) {
	t.Parallel()
	a := New(Config{MaxParallel: 2, DomainQPS: 100}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, a.waitDomain(ctx, "https://a.example/page"))
	require.NoError(t, a.waitDomain(ctx, "https://b.example/page"))

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.limiters, 2)
}

func TestWaitDomainDisabledWithoutQPS(t *testing.T) {
	t.Parallel()
	a := newTestAgent()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.waitDomain(ctx, "https://a.example/page"),
		"a disabled limiter must not consult the context")
}
