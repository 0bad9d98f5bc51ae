package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Randomized Trial Results</title>
  <meta name="description" content="Outcomes of a phase 3 randomized trial.">
  <meta property="article:published_time" content="2026-07-15">
</head>
<body>
  <p>Full study text with enough content to pass the empty-page check.
  The trial enrolled patients across twelve sites and followed them for
  two years, measuring both primary and secondary endpoints.</p>
  <div><a href="/methods">Methods</a> section describes the protocol.</div>
  <a href="https://other.example/related">Related study</a>
  <a href="#top">Back to top</a>
  <a href="mailto:editor@example.com">Contact</a>
</body>
</html>`

func fullStrategy() engine.Strategy {
	return engine.Strategy{ExtractMetadata: true, ExtractLinks: true}
}

func TestFetchExtractsMetadataAndLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	a := New("test-agent/1.0", zap.NewNop())
	result, err := a.Fetch(context.Background(), srv.URL, fullStrategy(), engine.ExecutionConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "Randomized Trial Results", result.Title)
	assert.Equal(t, "Outcomes of a phase 3 randomized trial.", result.Description)
	assert.Equal(t, "2026-07-15", result.PublishedDate)
	assert.Equal(t, AgentName, result.Agent)

	require.Len(t, result.Links, 2, "fragment and mailto anchors must be skipped")
	assert.Equal(t, srv.URL+"/methods", result.Links[0].URL)
	assert.Equal(t, "Methods", result.Links[0].Text)
	assert.Contains(t, result.Links[0].Context, "protocol")
	assert.Equal(t, "https://other.example/related", result.Links[1].URL)
}

func TestFetchSendsExecutionHeaders(t *testing.T) {
	t.Parallel()

	var gotReferer, gotCookie, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		gotCookie = r.Header.Get("Cookie")
		gotAccept = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	headers := http.Header{}
	headers.Set("Accept-Language", "en-US,en;q=0.5")

	a := New("test-agent/1.0", zap.NewNop())
	_, err := a.Fetch(context.Background(), srv.URL, engine.Strategy{}, engine.ExecutionConfig{
		Timeout:  5 * time.Second,
		Headers:  headers,
		Referrer: "https://www.google.com/",
		Cookies:  "session=abc",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://www.google.com/", gotReferer)
	assert.Equal(t, "session=abc", gotCookie)
	assert.Equal(t, "en-US,en;q=0.5", gotAccept)
}

func TestFetchClassifiesStatusFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   engine.ErrorClass
	}{
		{"forbidden", http.StatusForbidden, engine.ErrClassDenied},
		{"rate limited", http.StatusTooManyRequests, engine.ErrClassDenied},
		{"missing", http.StatusNotFound, engine.ErrClassNotFound},
		{"server error", http.StatusInternalServerError, engine.ErrClassServer},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			a := New("test-agent/1.0", zap.NewNop())
			result, err := a.Fetch(context.Background(), srv.URL, engine.Strategy{}, engine.ExecutionConfig{Timeout: 5 * time.Second})
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, tt.want, result.ErrorCode)
		})
	}
}

func TestClassifyFailureStatusBeatsErrorText(t *testing.T) {
	t.Parallel()

	// Colly reports errors with the status phrase; "Too Many Requests"
	// matches no substring pattern, so the code must decide.
	assert.Equal(t, engine.ErrClassDenied,
		classifyFailure(http.StatusTooManyRequests, "Too Many Requests", nil))
	assert.Equal(t, engine.ErrClassNotFound,
		classifyFailure(http.StatusNotFound, "Not Found", nil))

	// Without a mapped status the error text still classifies.
	assert.Equal(t, engine.ErrClassNetwork,
		classifyFailure(0, "connection refused", nil))
}

func TestFetchDetectsCaptchaPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat(" ", 200) + "<html><body>Please solve this CAPTCHA to continue</body></html>"))
	}))
	defer srv.Close()

	a := New("test-agent/1.0", zap.NewNop())
	result, err := a.Fetch(context.Background(), srv.URL, engine.Strategy{}, engine.ExecutionConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, engine.ErrClassCaptcha, result.ErrorCode)
}

func TestFetchFlagsEmptyContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	a := New("test-agent/1.0", zap.NewNop())
	result, err := a.Fetch(context.Background(), srv.URL, engine.Strategy{}, engine.ExecutionConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, engine.ErrClassNoContent, result.ErrorCode)
}

func TestFetchUnreachableHost(t *testing.T) {
	t.Parallel()

	a := New("test-agent/1.0", zap.NewNop())
	result, err := a.Fetch(context.Background(), "http://127.0.0.1:1", engine.Strategy{}, engine.ExecutionConfig{Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, engine.ErrClassNetwork, result.ErrorCode)
	assert.NotEmpty(t, result.ErrorText)
}

func TestExtractLinksDeduplicates(t *testing.T) {
	t.Parallel()

	html := `<html><body>
	  <a href="/a">one</a>
	  <a href="/a">again</a>
	  <a href="/b#frag">two</a>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	links := ExtractLinks(doc, "https://example.com/page")
	require.Len(t, links, 2)
	assert.Equal(t, "https://example.com/a", links[0].URL)
	assert.Equal(t, "https://example.com/b", links[1].URL)
}
