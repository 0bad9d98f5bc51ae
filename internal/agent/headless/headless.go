// Package headless implements the rendering fetch agent on a headless
// Chrome instance.
package headless

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/deepmedical/crawl-engine/internal/agent/static"
	"github.com/deepmedical/crawl-engine/internal/engine"
)

// AgentName identifies this agent in fetch results and metrics.
const AgentName = "headless"

// Config sizes the browser fleet.
type Config struct {
	UserAgent   string
	MaxParallel int
	DomainQPS   float64
}

// Agent renders pages in headless Chrome, executing the task's behavior
// profile before extraction. Browser contexts are created per fetch; a
// semaphore bounds how many run at once and a per-domain limiter keeps the
// request rate polite.
type Agent struct {
	cfg    Config
	logger *zap.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a headless agent.
func New(cfg Config, logger *zap.Logger) *Agent {
	parallel := cfg.MaxParallel
	if parallel <= 0 {
		parallel = 2
	}
	return &Agent{
		cfg:      cfg,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(parallel)),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Initialize is a no-op; browser allocators are created per fetch so that
// proxy settings can differ between tasks.
func (a *Agent) Initialize(_ context.Context) error { return nil }

// Shutdown is a no-op.
func (a *Agent) Shutdown(_ context.Context) error { return nil }

// Fetch renders the URL and runs the behavior script from cfg.Behavior.
func (a *Agent) Fetch(ctx context.Context, rawURL string, strategy engine.Strategy, cfg engine.ExecutionConfig) (engine.FetchResult, error) {
	start := time.Now()
	result := engine.FetchResult{URL: rawURL, Agent: AgentName}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return result, fmt.Errorf("acquire browser slot: %w", err)
	}
	defer a.sem.Release(1)

	if err := a.waitDomain(ctx, rawURL); err != nil {
		return result, fmt.Errorf("domain rate limit: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(a.cfg.UserAgent),
	)
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if cfg.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		browserCtx, cancelTimeout = context.WithTimeout(browserCtx, cfg.Timeout)
		defer cancelTimeout()
	}

	actions := []chromedp.Action{network.Enable()}
	if headers := headerMap(cfg); len(headers) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}
	if cfg.Behavior != nil && cfg.Behavior.InitialDelay > 0 {
		actions = append(actions, chromedp.Sleep(cfg.Behavior.InitialDelay))
	}
	actions = append(actions, chromedp.Navigate(rawURL))
	if strategy.WaitForFullLoad {
		actions = append(actions, chromedp.WaitReady("body"))
	}
	if strategy.EmulateUserInteraction && cfg.Behavior != nil {
		actions = append(actions, a.behaviorActions(cfg.Behavior)...)
	}

	var html, title string
	actions = append(actions,
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html),
	)

	var screenshot []byte
	if strategy.CaptureScreenshot {
		actions = append(actions, chromedp.CaptureScreenshot(&screenshot))
	}

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		result.Duration = time.Since(start)
		result.ErrorText = err.Error()
		result.ErrorCode = engine.ClassifyError(err.Error())
		return result, nil
	}

	result.Duration = time.Since(start)
	result.Success = true
	result.Title = title
	result.Content = []byte(html)
	result.Screenshot = screenshot
	result.FinalURL = rawURL

	lower := strings.ToLower(html)
	if strings.Contains(lower, "captcha") || strings.Contains(lower, "are you a robot") {
		result.Success = false
		result.ErrorCode = engine.ErrClassCaptcha
		result.ErrorText = "captcha challenge in rendered page"
		return result, nil
	}

	if strategy.ExtractMetadata || strategy.ExtractLinks {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Content))
		if err != nil {
			a.logger.Warn("rendered content parse failed", zap.String("url", rawURL), zap.Error(err))
			return result, nil
		}
		if strategy.ExtractMetadata {
			if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
				result.Description = strings.TrimSpace(desc)
			}
			for _, sel := range []string{
				`meta[property="article:published_time"]`,
				`meta[name="date"]`,
			} {
				if v, ok := doc.Find(sel).Attr("content"); ok && v != "" {
					result.PublishedDate = strings.TrimSpace(v)
					break
				}
			}
		}
		if strategy.ExtractLinks {
			result.Links = static.ExtractLinks(doc, rawURL)
		}
	}
	return result, nil
}

// behaviorActions translates a behavior profile into chromedp actions.
// Selector-based steps are best-effort: a missing element must not sink the
// whole fetch, so they run inside a short timeout and swallow errors.
func (a *Agent) behaviorActions(profile *engine.BehaviorProfile) []chromedp.Action {
	var actions []chromedp.Action
	for _, step := range profile.Interactions {
		switch step.Type {
		case "scroll":
			js := fmt.Sprintf("window.scrollBy({top: %d, behavior: 'smooth'})", step.Amount)
			actions = append(actions, chromedp.Evaluate(js, nil))
			if profile.ScrollInterval > 0 {
				actions = append(actions, chromedp.Sleep(profile.ScrollInterval))
			}
		case "wait":
			actions = append(actions, chromedp.Sleep(step.Duration))
		case "hover":
			actions = append(actions, bestEffort(step.Selector, func(sel string) chromedp.Action {
				js := fmt.Sprintf(
					`(() => { const el = document.querySelector(%q); if (el) el.dispatchEvent(new MouseEvent('mouseover', {bubbles: true})); })()`,
					sel)
				return chromedp.Evaluate(js, nil)
			}))
			if step.Duration > 0 {
				actions = append(actions, chromedp.Sleep(step.Duration))
			}
		case "click":
			if step.DelayBefore > 0 {
				actions = append(actions, chromedp.Sleep(step.DelayBefore))
			}
			actions = append(actions, bestEffort(step.Selector, func(sel string) chromedp.Action {
				js := fmt.Sprintf(
					`(() => { const el = document.querySelector(%q); if (el && el.tagName !== 'A') el.click(); })()`,
					sel)
				return chromedp.Evaluate(js, nil)
			}))
		case "text_selection":
			actions = append(actions, chromedp.Evaluate(
				`(() => { const p = document.querySelector('p'); if (p) { const r = document.createRange(); r.selectNodeContents(p); const s = window.getSelection(); s.removeAllRanges(); s.addRange(r); } })()`,
				nil))
		case "browser_resize":
			actions = append(actions, chromedp.EmulateViewport(1280, 960))
		}
	}
	return actions
}

func bestEffort(selector string, build func(string) chromedp.Action) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		short, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = build(selector).Do(short)
		return nil
	})
}

func headerMap(cfg engine.ExecutionConfig) network.Headers {
	headers := network.Headers{}
	for key, values := range cfg.Headers {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}
	if cfg.Referrer != "" {
		headers["Referer"] = cfg.Referrer
	}
	if cfg.Cookies != "" {
		headers["Cookie"] = cfg.Cookies
	}
	return headers
}

// waitDomain blocks until the per-domain limiter admits another request.
func (a *Agent) waitDomain(ctx context.Context, rawURL string) error {
	if a.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := parsed.Hostname()

	a.mu.Lock()
	limiter, ok := a.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(a.cfg.DomainQPS), 1)
		a.limiters[host] = limiter
	}
	a.mu.Unlock()

	return limiter.Wait(ctx)
}
