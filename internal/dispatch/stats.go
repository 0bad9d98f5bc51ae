package dispatch

import (
	"sync"
	"time"
)

// DomainStats accumulates fetch outcomes for one domain.
type DomainStats struct {
	SuccessCount    int           `json:"success_count"`
	FailCount       int           `json:"fail_count"`
	TotalSize       int64         `json:"total_size"`
	TotalTime       time.Duration `json:"-"`
	AvgResponseTime float64       `json:"avg_response_time_ms"`
	LastAccess      time.Time     `json:"last_access"`
}

// HistoryEntry records one fetch attempt for a URL.
type HistoryEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	DataSize     int       `json:"data_size,omitempty"`
	LinksFound   int       `json:"links_found,omitempty"`
	Agent        string    `json:"agent,omitempty"`
	ErrorType    string    `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// maxHistoryPerURL bounds the per-URL attempt log.
const maxHistoryPerURL = 10

// tracker is the dispatcher's bookkeeping for domains and URL history.
type tracker struct {
	mu      sync.Mutex
	domains map[string]*DomainStats
	history map[string][]HistoryEntry

	totalSuccess int
	totalFailed  int
	totalSize    int64
}

func newTracker() *tracker {
	return &tracker{
		domains: make(map[string]*DomainStats),
		history: make(map[string][]HistoryEntry),
	}
}

func (t *tracker) recordSuccess(domain, url string, size, links int, agent string, elapsed time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.domainLocked(domain)
	d.SuccessCount++
	d.TotalSize += int64(size)
	d.TotalTime += elapsed
	d.AvgResponseTime = float64(d.TotalTime.Milliseconds()) / float64(d.SuccessCount+d.FailCount)
	d.LastAccess = now

	t.totalSuccess++
	t.totalSize += int64(size)

	t.appendHistoryLocked(url, HistoryEntry{
		Timestamp:  now,
		Success:    true,
		DataSize:   size,
		LinksFound: links,
		Agent:      agent,
	})
}

func (t *tracker) recordFailure(domain, url, errorType, errorMessage string, elapsed time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.domainLocked(domain)
	d.FailCount++
	d.TotalTime += elapsed
	d.AvgResponseTime = float64(d.TotalTime.Milliseconds()) / float64(d.SuccessCount+d.FailCount)
	d.LastAccess = now

	t.totalFailed++

	t.appendHistoryLocked(url, HistoryEntry{
		Timestamp:    now,
		Success:      false,
		ErrorType:    errorType,
		ErrorMessage: errorMessage,
	})
}

func (t *tracker) domainLocked(domain string) *DomainStats {
	d, ok := t.domains[domain]
	if !ok {
		d = &DomainStats{}
		t.domains[domain] = d
	}
	return d
}

func (t *tracker) appendHistoryLocked(url string, entry HistoryEntry) {
	h := append(t.history[url], entry)
	if len(h) > maxHistoryPerURL {
		h = h[len(h)-maxHistoryPerURL:]
	}
	t.history[url] = h
}

// Domains returns a copy of the per-domain stats.
func (t *tracker) Domains() map[string]DomainStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]DomainStats, len(t.domains))
	for domain, d := range t.domains {
		out[domain] = *d
	}
	return out
}

// History returns the attempt log for a URL.
func (t *tracker) History(url string) []HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]HistoryEntry, len(t.history[url]))
	copy(out, t.history[url])
	return out
}

func (t *tracker) totals() (success, failed int, size int64, domains int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSuccess, t.totalFailed, t.totalSize, len(t.domains)
}
