package dispatch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

func TestSelectStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		task     engine.CrawlTask
		headless bool
		renderJS bool
	}{
		{
			name:     "plain low-priority task stays static",
			task:     engine.CrawlTask{URL: "https://example.com/post", Priority: 40},
			headless: true,
			renderJS: false,
		},
		{
			name:     "high protection renders",
			task:     engine.CrawlTask{URL: "https://www.nejm.org/doi/1", Priority: 40, Protection: engine.ProtectionHigh},
			headless: true,
			renderJS: true,
		},
		{
			name:     "high priority renders",
			task:     engine.CrawlTask{URL: "https://example.com/post", Priority: 80},
			headless: true,
			renderJS: true,
		},
		{
			name: "medical metadata renders",
			task: engine.CrawlTask{
				URL:      "https://example.com/post",
				Priority: 40,
				Metadata: map[string]string{"title": "Randomized clinical trial outcomes"},
			},
			headless: true,
			renderJS: true,
		},
		{
			name: "bilingual terms render",
			task: engine.CrawlTask{
				URL:      "https://example.com/post",
				Priority: 40,
				Metadata: map[string]string{"description": "三期临床试验结果"},
			},
			headless: true,
			renderJS: true,
		},
		{
			name:     "no headless agent forces static",
			task:     engine.CrawlTask{URL: "https://www.nejm.org/doi/1", Priority: 90, Protection: engine.ProtectionHigh},
			headless: false,
			renderJS: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := selectStrategy(tt.task, tt.headless)
			assert.Equal(t, tt.renderJS, got.RenderJS)
			assert.Equal(t, tt.renderJS, got.EmulateUserInteraction)
			assert.True(t, got.ExtractMetadata)
			assert.True(t, got.ExtractLinks)
		})
	}
}

func TestBuildHeadersBaseSet(t *testing.T) {
	t.Parallel()

	h := buildHeaders(engine.CrawlTask{URL: "https://example.com/post"})
	assert.Equal(t, "en-US,en;q=0.5", h.Get("Accept-Language"))
	assert.Equal(t, "keep-alive", h.Get("Connection"))
	assert.Equal(t, "1", h.Get("Upgrade-Insecure-Requests"))
	assert.Empty(t, h.Get("Sec-Fetch-Mode"), "fetch-metadata headers are reserved for high protection")
	assert.Empty(t, h.Get("Referer"))
}

func TestBuildHeadersHighProtection(t *testing.T) {
	t.Parallel()

	h := buildHeaders(engine.CrawlTask{
		URL:        "https://forum.example.com/thread",
		Protection: engine.ProtectionHigh,
	})
	assert.Equal(t, "navigate", h.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "1", h.Get("DNT"))
	assert.Empty(t, h.Get("Referer"), "referral is only forged for known journal hosts")
}

func TestBuildHeadersJournalReferral(t *testing.T) {
	t.Parallel()

	h := buildHeaders(engine.CrawlTask{
		URL:        "https://www.nejm.org/doi/full/10.1056/x",
		Protection: engine.ProtectionHigh,
	})
	assert.Equal(t, "https://www.google.com/search?q=medical+research+www.nejm.org", h.Get("Referer"))
	assert.Equal(t, "XMLHttpRequest", h.Get("X-Requested-With"))
	assert.IsType(t, http.Header{}, h)
}
