package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// healthTestURLs are probed round-robin; a proxy passes if any of them
// answers through it.
var healthTestURLs = []string{
	"https://www.google.com",
	"https://www.baidu.com",
	"https://www.github.com",
	"https://www.example.com",
}

const (
	healthBatchSize    = 10
	healthProbeTimeout = 15 * time.Second
)

// Checker periodically probes every proxy, feeds the outcomes back into the
// pool scores, evicts the hopeless, and tops the pool up from its sources
// when the active set runs low.
type Checker struct {
	pool   *Pool
	logger *zap.Logger

	// newClient builds the probing client for one proxy. Swappable in tests.
	newClient func(proxyURL string) *http.Client
}

// NewChecker builds a Checker for the pool.
func NewChecker(pool *Pool, logger *zap.Logger) *Checker {
	return &Checker{
		pool:   pool,
		logger: logger,
		newClient: func(proxyURL string) *http.Client {
			parsed, err := url.Parse(proxyURL)
			transport := &http.Transport{}
			if err == nil {
				transport.Proxy = http.ProxyURL(parsed)
			}
			return &http.Client{Transport: transport, Timeout: healthProbeTimeout}
		},
	}
}

// Run executes check cycles until the context is cancelled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pool.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckOnce(ctx)
		}
	}
}

// CheckOnce probes every proxy in bounded-parallel batches, then evicts and
// reloads as needed.
func (c *Checker) CheckOnce(ctx context.Context) {
	records := c.pool.snapshot()
	if len(records) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(healthBatchSize)
		for i, r := range records {
			r := r
			testURL := healthTestURLs[i%len(healthTestURLs)]
			g.Go(func() error {
				c.probe(gctx, r.URL, testURL)
				return nil
			})
		}
		_ = g.Wait()
	}

	evicted := c.pool.Evict()
	if c.pool.NeedsReload() {
		c.Reload(ctx)
	}
	c.saveState()
	c.logger.Info("proxy health cycle complete",
		zap.Int("checked", len(records)),
		zap.Int("evicted", evicted),
		zap.Int("pool_size", c.pool.Size()))
}

// Reload pulls fresh proxies from every configured source.
func (c *Checker) Reload(ctx context.Context) {
	for _, src := range c.pool.sources {
		urls, err := src.Load(ctx)
		if err != nil {
			c.logger.Warn("proxy source load failed",
				zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		c.pool.Add(urls, src.Name())
	}
	c.saveState()
}

// saveState snapshots the pool after a check or reload. Failures are logged
// and non-fatal; the pool keeps running in memory.
func (c *Checker) saveState() {
	if c.pool.cfg.StateFile == "" {
		return
	}
	if err := c.pool.SaveState(c.pool.cfg.StateFile); err != nil {
		c.logger.Warn("proxy state save failed", zap.Error(err))
	}
}

func (c *Checker) probe(ctx context.Context, proxyURL, testURL string) {
	client := c.newClient(proxyURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testURL, nil)
	if err != nil {
		c.pool.applyHealth(proxyURL, healthOtherDelta, 0)
		return
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.pool.applyHealth(proxyURL, classifyProbeError(err), 0)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.pool.applyHealth(proxyURL, healthHTTPDelta, float64(elapsed.Milliseconds()))
		return
	}
	c.pool.applyHealth(proxyURL, healthOKDelta, float64(elapsed.Milliseconds()))
}

func classifyProbeError(err error) float64 {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return healthConnDelta
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return healthConnDelta
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return healthConnDelta
	}
	return healthOtherDelta
}

// applyHealth folds a probe outcome into a proxy's score.
func (p *Pool) applyHealth(proxyURL string, delta, responseMS float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.proxies[proxyURL]
	if !ok {
		return
	}
	r.adjustScore(delta)
	if responseMS > 0 {
		r.observeResponseTime(responseMS)
	}
	r.LastChecked = p.clock.Now()
	r.refreshStatus(p.cfg.MinimumScore)
	p.publishSizeLocked()
}
