package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/behavior"
	"github.com/deepmedical/crawl-engine/internal/dispatch"
	"github.com/deepmedical/crawl-engine/internal/engine"
	"github.com/deepmedical/crawl-engine/internal/frontier"
	"github.com/deepmedical/crawl-engine/internal/metrics"
	"github.com/deepmedical/crawl-engine/internal/proxy"
	"github.com/deepmedical/crawl-engine/internal/publisher"
	"github.com/deepmedical/crawl-engine/internal/storage"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type halfRand struct{}

func (halfRand) Float64() float64 { return 0.5 }
func (halfRand) Intn(n int) int   { return n / 2 }

type noopIDs struct{}

func (noopIDs) NewID() (string, error) { return "id-1", nil }

type noopAgent struct{}

func (noopAgent) Initialize(ctx context.Context) error { return nil }
func (noopAgent) Shutdown(ctx context.Context) error   { return nil }
func (noopAgent) Fetch(ctx context.Context, url string, _ engine.Strategy, _ engine.ExecutionConfig) (engine.FetchResult, error) {
	return engine.FetchResult{Success: true, URL: url}, nil
}

func newTestServer(t *testing.T) (*Server, *frontier.Frontier) {
	t.Helper()
	logger := zap.NewNop()
	clock := &fixedClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	scorer := frontier.NewScorer(frontier.DefaultConfig(), nil, clock, logger)
	front := frontier.New(frontier.DefaultConfig(), scorer, clock, logger)
	pool := proxy.NewPool(proxy.Config{MaxProxies: 10, MinimumScore: 3}, nil, clock, halfRand{}, logger)

	d := dispatch.New(dispatch.Config{
		MaxConcurrentTasks: 2,
		IdleWait:           10 * time.Millisecond,
		StopTimeout:        time.Second,
		BaseTimeout:        20 * time.Second,
		MaxDiscoveredLinks: 100,
		ResultTopic:        "crawl-results",
		ContentPrefix:      "pages",
	}, dispatch.Deps{
		Frontier:    front,
		Pool:        pool,
		Behavior:    behavior.NewGenerator(clock, halfRand{}, logger),
		StaticAgent: noopAgent{},
		Publisher:   publisher.NewMemory(),
		Store:       storage.NewMemory(),
		Clock:       clock,
		Rand:        halfRand{},
		IDs:         noopIDs{},
		Logger:      logger,
	})
	return New(0, d, front, pool, logger), front
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSeedsEndpointEnqueuesAndDeduplicates(t *testing.T) {
	t.Parallel()
	srv, front := newTestServer(t)

	body := `{"urls": [
		{"url": "https://www.nih.gov/news", "metadata": {"title": "clinical trial update"}},
		{"url": "https://www.nih.gov/news"},
		{"url": "https://example.com/blog"}
	]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/seeds", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"submitted":3`)
	assert.Contains(t, rec.Body.String(), `"enqueued":2`)
	assert.Equal(t, 2, front.Size())
}

func TestSeedsEndpointRejectsEmptyBody(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/seeds", strings.NewReader(`{"urls": []}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearFrontierEndpoint(t *testing.T) {
	t.Parallel()
	srv, front := newTestServer(t)
	front.Admit(engine.CrawlTask{URL: "https://example.com/a", Priority: 90})
	front.Admit(engine.CrawlTask{URL: "https://example.com/b", Priority: 50})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/frontier", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dropped":2`)
	assert.Equal(t, 0, front.Size())

	// The seen set resets too, so the same URL may be admitted again.
	assert.True(t, front.Admit(engine.CrawlTask{URL: "https://example.com/a", Priority: 90}))
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	srv, front := newTestServer(t)
	front.Admit(engine.CrawlTask{URL: "https://example.com/a", Priority: 90})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queue_size":1`)
	assert.Contains(t, rec.Body.String(), `"is_running":false`)
}

func TestHistoryEndpointRequiresURL(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
