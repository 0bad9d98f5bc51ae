// Package dispatch runs the crawl loop: pulling scored tasks from the
// frontier, assembling their execution environment, and routing results.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/behavior"
	"github.com/deepmedical/crawl-engine/internal/engine"
	"github.com/deepmedical/crawl-engine/internal/frontier"
	"github.com/deepmedical/crawl-engine/internal/metrics"
	"github.com/deepmedical/crawl-engine/internal/proxy"
)

// Config governs the dispatch loop.
type Config struct {
	MaxConcurrentTasks int
	IdleWait           time.Duration
	StopTimeout        time.Duration
	BaseTimeout        time.Duration
	MaxDiscoveredLinks int
	ResultTopic        string
	ContentPrefix      string
}

// ResultEvent is the message published for every completed fetch.
type ResultEvent struct {
	TaskID        string    `json:"task_id"`
	URL           string    `json:"url"`
	FinalURL      string    `json:"final_url,omitempty"`
	Priority      float64   `json:"priority"`
	Depth         int       `json:"depth"`
	Title         string    `json:"title,omitempty"`
	Description   string    `json:"description,omitempty"`
	PublishedDate string    `json:"published_date,omitempty"`
	ContentURI    string    `json:"content_uri,omitempty"`
	ContentSize   int       `json:"content_size"`
	LinksFound    int       `json:"links_found"`
	Agent         string    `json:"agent"`
	DurationMS    int64     `json:"duration_ms"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Dispatcher owns the crawl loop. One instance per process.
type Dispatcher struct {
	cfg Config

	frontier *frontier.Frontier
	pool     *proxy.Pool
	behavior *behavior.Generator

	staticAgent   engine.FetchAgent
	headlessAgent engine.FetchAgent // nil when rendering is disabled

	publisher engine.Publisher
	store     engine.BlobStore

	clock  engine.Clock
	rand   engine.Rand
	ids    engine.IDGenerator
	logger *zap.Logger

	tracker *tracker
	active  atomic.Int64
	running atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles the dispatcher's collaborators.
type Deps struct {
	Frontier      *frontier.Frontier
	Pool          *proxy.Pool
	Behavior      *behavior.Generator
	StaticAgent   engine.FetchAgent
	HeadlessAgent engine.FetchAgent
	Publisher     engine.Publisher
	Store         engine.BlobStore
	Clock         engine.Clock
	Rand          engine.Rand
	IDs           engine.IDGenerator
	Logger        *zap.Logger
}

// New builds a Dispatcher.
func New(cfg Config, deps Deps) *Dispatcher {
	return &Dispatcher{
		cfg:           cfg,
		frontier:      deps.Frontier,
		pool:          deps.Pool,
		behavior:      deps.Behavior,
		staticAgent:   deps.StaticAgent,
		headlessAgent: deps.HeadlessAgent,
		publisher:     deps.Publisher,
		store:         deps.Store,
		clock:         deps.Clock,
		rand:          deps.Rand,
		ids:           deps.IDs,
		logger:        deps.Logger,
		tracker:       newTracker(),
	}
}

// Start initializes the agents and launches the dispatch loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already running")
	}

	if err := d.staticAgent.Initialize(ctx); err != nil {
		d.running.Store(false)
		return fmt.Errorf("initialize static agent: %w", err)
	}
	if d.headlessAgent != nil {
		if err := d.headlessAgent.Initialize(ctx); err != nil {
			d.running.Store(false)
			return fmt.Errorf("initialize headless agent: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop(loopCtx)
	}()

	d.logger.Info("dispatcher started",
		zap.Int("max_concurrent", d.cfg.MaxConcurrentTasks),
		zap.Bool("headless", d.headlessAgent != nil))
	return nil
}

// Stop halts the loop and waits for in-flight tasks, bounded by the
// configured stop timeout. Agents are shut down afterwards.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.cfg.StopTimeout):
		d.logger.Warn("stop timeout elapsed with tasks still in flight",
			zap.Int64("active", d.active.Load()))
	case <-ctx.Done():
	}

	if err := d.staticAgent.Shutdown(ctx); err != nil {
		d.logger.Warn("static agent shutdown failed", zap.Error(err))
	}
	if d.headlessAgent != nil {
		if err := d.headlessAgent.Shutdown(ctx); err != nil {
			d.logger.Warn("headless agent shutdown failed", zap.Error(err))
		}
	}
	d.logger.Info("dispatcher stopped")
	return nil
}

// loop pulls tasks while capacity allows. At the concurrency cap it stops
// dequeuing entirely so task order is preserved for the next free slot.
func (d *Dispatcher) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if int(d.active.Load()) >= d.cfg.MaxConcurrentTasks {
			if !d.idle(ctx) {
				return
			}
			continue
		}

		task, ok := d.frontier.Dequeue()
		metrics.SetFrontierSize(d.frontier.Size())
		if !ok {
			if !d.idle(ctx) {
				return
			}
			continue
		}

		d.active.Add(1)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.active.Add(-1)
			d.execute(ctx, task)
		}()
	}
}

func (d *Dispatcher) idle(ctx context.Context) bool {
	timer := time.NewTimer(d.cfg.IdleWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (d *Dispatcher) execute(ctx context.Context, task engine.CrawlTask) {
	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()

	domain := hostOf(task.URL)
	strategy := selectStrategy(task, d.headlessAgent != nil)
	timeout := d.computeTimeout(task)

	execCfg := engine.ExecutionConfig{
		Headers:  buildHeaders(task),
		Timeout:  timeout,
		Cookies:  task.Cookies,
		Referrer: task.Referrer,
	}

	proxyURL, usedProxy := d.pool.Get(domain, task.Protection, task.ForceNewProxy)
	if usedProxy {
		execCfg.ProxyURL = proxyURL
	}

	agent := d.staticAgent
	if strategy.RenderJS {
		agent = d.headlessAgent
		execCfg.Behavior = d.behavior.Generate(task.URL, task.Protection)
	}

	d.logger.Debug("task dispatched",
		zap.String("url", task.URL),
		zap.Float64("priority", task.Priority),
		zap.Bool("render_js", strategy.RenderJS),
		zap.Bool("proxied", usedProxy),
		zap.Duration("timeout", timeout))

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	result, err := agent.Fetch(fetchCtx, task.URL, strategy, execCfg)
	cancel()
	if err != nil {
		result.URL = task.URL
		result.Success = false
		result.ErrorText = err.Error()
		result.ErrorCode = engine.ClassifyError(err.Error())
	}

	if usedProxy {
		d.pool.ReportResult(proxyURL, domain, result.Success, result.Duration)
	}
	metrics.ObserveTaskDuration(result.Agent, result.Duration)

	if result.Success {
		d.handleSuccess(ctx, task, domain, result)
		return
	}
	d.handleFailure(ctx, task, domain, result)
}

func (d *Dispatcher) handleSuccess(ctx context.Context, task engine.CrawlTask, domain string, result engine.FetchResult) {
	metrics.ObserveTask(domain, "success", len(result.Content))

	linksAdmitted := d.discoverLinks(task, result)

	contentURI := d.storeContent(ctx, task, domain, result)

	taskID, err := d.ids.NewID()
	if err != nil {
		d.logger.Warn("id generation failed", zap.Error(err))
	}

	event := ResultEvent{
		TaskID:        taskID,
		URL:           task.URL,
		FinalURL:      result.FinalURL,
		Priority:      task.Priority,
		Depth:         task.Depth,
		Title:         result.Title,
		Description:   result.Description,
		PublishedDate: result.PublishedDate,
		ContentURI:    contentURI,
		ContentSize:   len(result.Content),
		LinksFound:    linksAdmitted,
		Agent:         result.Agent,
		DurationMS:    result.Duration.Milliseconds(),
		FetchedAt:     d.clock.Now(),
	}
	if _, err := d.publisher.Publish(ctx, d.cfg.ResultTopic, event); err != nil {
		d.logger.Error("result publish failed", zap.String("url", task.URL), zap.Error(err))
	}

	d.tracker.recordSuccess(domain, task.URL, len(result.Content), linksAdmitted,
		result.Agent, result.Duration, d.clock.Now())

	d.logger.Info("task completed",
		zap.String("url", task.URL),
		zap.Int("status", result.StatusCode),
		zap.Int("content_bytes", len(result.Content)),
		zap.Int("links_admitted", linksAdmitted),
		zap.String("agent", result.Agent),
		zap.Duration("elapsed", result.Duration))
}

func (d *Dispatcher) handleFailure(ctx context.Context, task engine.CrawlTask, domain string, result engine.FetchResult) {
	class := result.ErrorCode
	if class == "" {
		class = engine.ErrClassUnknown
	}
	metrics.ObserveTask(domain, "failure", 0)
	d.tracker.recordFailure(domain, task.URL, string(class), result.ErrorText,
		result.Duration, d.clock.Now())

	if !shouldRetry(class, task.RetryCount) {
		d.logger.Warn("task abandoned",
			zap.String("url", task.URL),
			zap.String("error_class", string(class)),
			zap.Int("retries", task.RetryCount))
		return
	}

	next, delta := prepareRetry(task, class)
	delay := retryDelay(class, task.RetryCount, d.rand.Float64())
	if next.MinDelay > delay {
		delay = next.MinDelay
	}
	metrics.ObserveRetry(string(class))

	d.logger.Info("task scheduled for retry",
		zap.String("url", task.URL),
		zap.String("error_class", string(class)),
		zap.Int("attempt", task.RetryCount+1),
		zap.Duration("delay", delay))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			if !d.frontier.Requeue(next, delta) {
				d.logger.Warn("retry rejected by frontier", zap.String("url", next.URL))
			}
		}
	}()
}

// discoverLinks derives follow-up tasks from extracted links and admits
// them, capped per page. Returns the number actually admitted.
func (d *Dispatcher) discoverLinks(task engine.CrawlTask, result engine.FetchResult) int {
	if len(result.Links) == 0 {
		return 0
	}

	admitted := 0
	considered := 0
	for _, link := range result.Links {
		if considered >= d.cfg.MaxDiscoveredLinks {
			break
		}
		derived, ok := deriveLinkTask(task, link)
		if !ok {
			continue
		}
		considered++
		if d.frontier.Admit(derived) {
			admitted++
		}
	}
	if admitted > 0 {
		metrics.AddLinksDiscovered(admitted)
	}
	return admitted
}

func (d *Dispatcher) storeContent(ctx context.Context, task engine.CrawlTask, domain string, result engine.FetchResult) string {
	if d.store == nil || len(result.Content) == 0 {
		return ""
	}

	id, err := d.ids.NewID()
	if err != nil {
		d.logger.Warn("id generation failed", zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("%s/%s/%s.html", d.cfg.ContentPrefix, metrics.SanitizeDomain(domain), id)
	uri, err := d.store.PutObject(ctx, path, "text/html; charset=utf-8", result.Content)
	if err != nil {
		d.logger.Error("content store failed", zap.String("url", task.URL), zap.Error(err))
		return ""
	}

	if len(result.Screenshot) > 0 {
		shotPath := fmt.Sprintf("%s/%s/%s.png", d.cfg.ContentPrefix, metrics.SanitizeDomain(domain), id)
		if _, err := d.store.PutObject(ctx, shotPath, "image/png", result.Screenshot); err != nil {
			d.logger.Warn("screenshot store failed", zap.String("url", task.URL), zap.Error(err))
		}
	}
	return uri
}

// computeTimeout scales the base timeout by protection level, retry count,
// and any class-assigned timeout factor from a previous failure.
func (d *Dispatcher) computeTimeout(task engine.CrawlTask) time.Duration {
	base := d.cfg.BaseTimeout + time.Duration(task.Protection.Rank())*5*time.Second
	timeout := float64(base) * (1 + 0.2*float64(task.RetryCount))
	if task.TimeoutFactor > 0 {
		timeout *= task.TimeoutFactor
	}
	return time.Duration(timeout)
}

// Stats summarizes dispatcher state for the operational surface.
type Stats struct {
	IsRunning      bool                   `json:"is_running"`
	ActiveTasks    int64                  `json:"active_tasks"`
	QueueSize      int                    `json:"queue_size"`
	DomainsCrawled int                    `json:"domains_crawled"`
	TotalSuccess   int                    `json:"total_success"`
	TotalFailed    int                    `json:"total_failed"`
	TotalSize      int64                  `json:"total_size"`
	Domains        map[string]DomainStats `json:"domains,omitempty"`
}

// GetStats returns a snapshot of dispatcher counters.
func (d *Dispatcher) GetStats() Stats {
	success, failed, size, domains := d.tracker.totals()
	return Stats{
		IsRunning:      d.running.Load(),
		ActiveTasks:    d.active.Load(),
		QueueSize:      d.frontier.Size(),
		DomainsCrawled: domains,
		TotalSuccess:   success,
		TotalFailed:    failed,
		TotalSize:      size,
		Domains:        d.tracker.Domains(),
	}
}

// History exposes the per-URL attempt log.
func (d *Dispatcher) History(url string) []HistoryEntry {
	return d.tracker.History(url)
}
