// Package static implements the lightweight HTTP fetch agent.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

// AgentName identifies this agent in fetch results and metrics.
const AgentName = "static"

// minContentBytes below which a 200 response is treated as empty.
const minContentBytes = 128

// Agent fetches pages without JavaScript execution. Each Fetch builds a
// fresh collector so per-task proxy and header settings never leak between
// tasks.
type Agent struct {
	userAgent string
	logger    *zap.Logger
}

// New builds a static agent.
func New(userAgent string, logger *zap.Logger) *Agent {
	return &Agent{userAgent: userAgent, logger: logger}
}

// Initialize is a no-op; the static agent holds no long-lived resources.
func (a *Agent) Initialize(_ context.Context) error { return nil }

// Shutdown is a no-op.
func (a *Agent) Shutdown(_ context.Context) error { return nil }

// Fetch retrieves the URL with the task's execution environment applied.
// Failures come back as a completed result with Success false; the error
// return is reserved for setup problems.
func (a *Agent) Fetch(ctx context.Context, rawURL string, strategy engine.Strategy, cfg engine.ExecutionConfig) (engine.FetchResult, error) {
	start := time.Now()
	result := engine.FetchResult{URL: rawURL, Agent: AgentName}

	c := colly.NewCollector(
		colly.UserAgent(a.userAgent),
		colly.MaxDepth(1),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(cfg.Timeout)

	if cfg.ProxyURL != "" {
		if err := c.SetProxy(cfg.ProxyURL); err != nil {
			return result, fmt.Errorf("set proxy: %w", err)
		}
	}

	c.OnRequest(func(r *colly.Request) {
		for key, values := range cfg.Headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
		if cfg.Referrer != "" {
			r.Headers.Set("Referer", cfg.Referrer)
		}
		if cfg.Cookies != "" {
			r.Headers.Set("Cookie", cfg.Cookies)
		}
	})

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.FinalURL = r.Request.URL.String()
		body = r.Body
	})

	var fetchErr error
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := c.Visit(rawURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()
	result.Duration = time.Since(start)

	if fetchErr != nil {
		result.ErrorText = fetchErr.Error()
		result.ErrorCode = classifyFailure(result.StatusCode, fetchErr.Error(), nil)
		return result, nil
	}

	if code := classifyFailure(result.StatusCode, "", body); code != "" {
		result.ErrorCode = code
		result.ErrorText = fmt.Sprintf("status %d", result.StatusCode)
		return result, nil
	}

	result.Success = true
	result.Content = body

	if strategy.ExtractMetadata || strategy.ExtractLinks {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			a.logger.Warn("content parse failed", zap.String("url", rawURL), zap.Error(err))
			return result, nil
		}
		if strategy.ExtractMetadata {
			extractMetadata(doc, &result)
		}
		if strategy.ExtractLinks {
			base := result.FinalURL
			if base == "" {
				base = rawURL
			}
			result.Links = ExtractLinks(doc, base)
		}
	}
	return result, nil
}

// classifyFailure maps a status code, error message, or suspicious body to
// an error class. Empty string means the fetch is fine. The status code is
// consulted before the error text: colly phrases like "Too Many Requests"
// match no substring pattern, while the code itself is unambiguous.
func classifyFailure(status int, errMsg string, body []byte) engine.ErrorClass {
	switch {
	case status == http.StatusForbidden || status == http.StatusTooManyRequests || status == http.StatusUnauthorized:
		return engine.ErrClassDenied
	case status == http.StatusNotFound || status == http.StatusGone:
		return engine.ErrClassNotFound
	case status >= 500:
		return engine.ErrClassServer
	case status >= 400:
		return engine.ErrClassUnknown
	}
	if errMsg != "" {
		return engine.ClassifyError(errMsg)
	}
	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "captcha") || strings.Contains(lower, "are you a robot") {
		return engine.ErrClassCaptcha
	}
	if len(bytes.TrimSpace(body)) < minContentBytes {
		return engine.ErrClassNoContent
	}
	return ""
}

func extractMetadata(doc *goquery.Document, result *engine.FetchResult) {
	result.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && result.Title == "" {
		result.Title = strings.TrimSpace(og)
	}

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		result.Description = strings.TrimSpace(desc)
	} else if og, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		result.Description = strings.TrimSpace(og)
	}

	for _, sel := range []string{
		`meta[property="article:published_time"]`,
		`meta[name="date"]`,
		`meta[name="publish-date"]`,
	} {
		if v, ok := doc.Find(sel).Attr("content"); ok && v != "" {
			result.PublishedDate = strings.TrimSpace(v)
			return
		}
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		result.PublishedDate = strings.TrimSpace(v)
	}
}

// ExtractLinks pulls every http(s) anchor with its text and surrounding
// context, resolving relative hrefs against the base URL.
func ExtractLinks(doc *goquery.Document, baseURL string) []engine.ExtractedLink {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []engine.ExtractedLink
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}

		ctx := ""
		if parent := sel.Parent(); parent != nil {
			ctx = truncate(strings.TrimSpace(parent.Text()), 200)
		}
		links = append(links, engine.ExtractedLink{
			URL:     abs,
			Text:    truncate(strings.TrimSpace(sel.Text()), 100),
			Context: ctx,
		})
	})
	return links
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
