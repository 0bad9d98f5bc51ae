// Package frontier implements the priority-ordered crawl frontier.
package frontier

import (
	"container/heap"
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

// entry wraps a task with the insertion sequence used for FIFO tie-breaking.
type entry struct {
	task engine.CrawlTask
	seq  uint64
}

// taskHeap is a max-heap on priority. Equal priorities dequeue in insertion
// order (FIFO), made deterministic by the monotonically increasing sequence.
type taskHeap []entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Stats summarizes frontier contents for the operational surface.
type Stats struct {
	QueueSize            int                            `json:"queue_size"`
	SeenURLs             int                            `json:"seen_urls"`
	TotalEnqueued        int                            `json:"total_enqueued"`
	TotalProcessed       int                            `json:"total_processed"`
	PriorityDistribution map[int]int                    `json:"priority_distribution"`
	ProtectionLevels     map[engine.ProtectionLevel]int `json:"protection_levels"`
}

// Frontier is the scored, deduplicated pending-task set. A single mutex
// serializes every mutation; the potentially slow external scoring call in
// Enqueue happens before the lock is taken.
type Frontier struct {
	mu    sync.Mutex
	tasks taskHeap
	seen  map[string]struct{}
	seq   uint64

	totalEnqueued  int
	totalProcessed int

	cfg    Config
	scorer *Scorer
	clock  engine.Clock
	logger *zap.Logger
}

// New constructs an empty Frontier.
func New(cfg Config, scorer *Scorer, clock engine.Clock, logger *zap.Logger) *Frontier {
	return &Frontier{
		seen:   make(map[string]struct{}),
		cfg:    cfg,
		scorer: scorer,
		clock:  clock,
		logger: logger,
	}
}

// Enqueue scores and admits a URL. The first writer wins: a URL already seen
// is rejected and (zero, false) is returned.
func (f *Frontier) Enqueue(ctx context.Context, rawURL string, meta map[string]string) (engine.CrawlTask, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return engine.CrawlTask{}, false
	}

	f.mu.Lock()
	if _, dup := f.seen[rawURL]; dup {
		f.mu.Unlock()
		return engine.CrawlTask{}, false
	}
	f.seen[rawURL] = struct{}{}
	f.mu.Unlock()

	// Scoring may call out to the semantic collaborator; keep it unlocked.
	priority, protection := f.scorer.Score(ctx, rawURL, meta)

	task := engine.CrawlTask{
		URL:        rawURL,
		Priority:   priority,
		Protection: protection,
		Metadata:   meta,
		CreatedAt:  f.clock.Now(),
	}
	f.insert(task)

	f.logger.Debug("task enqueued",
		zap.String("url", rawURL),
		zap.Float64("priority", priority),
		zap.String("protection", string(protection)))
	return task, true
}

// EnqueueBatch admits multiple URLs, returning the tasks actually enqueued.
func (f *Frontier) EnqueueBatch(ctx context.Context, urls []string, metas []map[string]string) []engine.CrawlTask {
	tasks := make([]engine.CrawlTask, 0, len(urls))
	for i, u := range urls {
		var meta map[string]string
		if i < len(metas) {
			meta = metas[i]
		}
		if task, ok := f.Enqueue(ctx, u, meta); ok {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// Admit inserts a pre-scored task (link discovery supplies its own priority
// and protection). Deduplication still applies.
func (f *Frontier) Admit(task engine.CrawlTask) bool {
	task.URL = strings.TrimSpace(task.URL)
	if task.URL == "" {
		return false
	}
	task.Priority = clamp(task.Priority, 0, 100)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.seen[task.URL]; dup {
		return false
	}
	f.seen[task.URL] = struct{}{}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = f.clock.Now()
	}
	f.pushLocked(task)
	f.totalEnqueued++
	return true
}

// Dequeue removes and returns the highest-priority task. It never blocks;
// an empty frontier returns (zero, false) and the caller backs off.
func (f *Frontier) Dequeue() (engine.CrawlTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tasks.Len() == 0 {
		return engine.CrawlTask{}, false
	}
	e := heap.Pop(&f.tasks).(entry)
	e.task.LastAttempt = f.clock.Now()
	f.totalProcessed++
	return e.task, true
}

// Requeue reinserts a previously dequeued task for another attempt,
// incrementing its retry count and applying the (typically negative) priority
// delta. Tasks past the retry ceiling are permanently dropped and false is
// returned. The URL stays in the seen set either way.
func (f *Frontier) Requeue(task engine.CrawlTask, priorityDelta float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	task.RetryCount++
	task.Priority = clamp(task.Priority+priorityDelta, 0, 100)
	task.LastAttempt = f.clock.Now()

	if task.RetryCount > f.cfg.MaxRetries {
		f.logger.Warn("task exceeded retry ceiling, dropping",
			zap.String("url", task.URL),
			zap.Int("retries", task.RetryCount))
		return false
	}
	f.pushLocked(task)
	return true
}

// Size returns the number of pending tasks.
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks.Len()
}

// IsEmpty reports whether the frontier has no pending tasks.
func (f *Frontier) IsEmpty() bool {
	return f.Size() == 0
}

// Clear drops all pending tasks and forgets every seen URL.
func (f *Frontier) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = nil
	f.seen = make(map[string]struct{})
}

// Stats returns a snapshot of frontier counters and distributions.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := Stats{
		QueueSize:            f.tasks.Len(),
		SeenURLs:             len(f.seen),
		TotalEnqueued:        f.totalEnqueued,
		TotalProcessed:       f.totalProcessed,
		PriorityDistribution: make(map[int]int),
		ProtectionLevels:     make(map[engine.ProtectionLevel]int),
	}
	for _, e := range f.tasks {
		bucket := int(e.task.Priority/10) * 10
		st.PriorityDistribution[bucket]++
		st.ProtectionLevels[e.task.Protection]++
	}
	return st
}

func (f *Frontier) insert(task engine.CrawlTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushLocked(task)
	f.totalEnqueued++
}

func (f *Frontier) pushLocked(task engine.CrawlTask) {
	f.seq++
	heap.Push(&f.tasks, entry{task: task, seq: f.seq})
}
