package proxy

import (
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/engine"
	"github.com/deepmedical/crawl-engine/internal/metrics"
)

// Config governs pool capacity and scoring thresholds.
type Config struct {
	CheckInterval time.Duration
	MaxProxies    int
	MinimumScore  float64
	StateFile     string
}

// highProtectionFloor is the lowest score a proxy may have to front a
// heavily protected site.
const highProtectionFloor = 6.0

// directProbability is the chance a low-protection fetch skips the pool
// entirely and goes direct.
const directProbability = 0.7

// explorationProbability picks a uniformly random candidate instead of the
// weighted choice, so cold proxies keep getting traffic.
const explorationProbability = 0.1

// Stats summarizes pool composition for the operational surface.
type Stats struct {
	Total        int            `json:"total"`
	ByStatus     map[Status]int `json:"by_status"`
	AverageScore float64        `json:"average_score"`
}

// Pool is the scored proxy set. Selection is weighted by score and
// per-domain success history; usage and health feedback move the scores.
type Pool struct {
	mu      sync.Mutex
	proxies map[string]*Record
	lastFor map[string]string // domain -> proxy URL handed out last

	cfg     Config
	sources []Source
	clock   engine.Clock
	rand    engine.Rand
	logger  *zap.Logger
}

// NewPool constructs an empty pool.
func NewPool(cfg Config, sources []Source, clock engine.Clock, rnd engine.Rand, logger *zap.Logger) *Pool {
	return &Pool{
		proxies: make(map[string]*Record),
		lastFor: make(map[string]string),
		cfg:     cfg,
		sources: sources,
		clock:   clock,
		rand:    rnd,
		logger:  logger,
	}
}

// Add registers proxy URLs from the named source, skipping duplicates. A
// full pool keeps only the top-scoring records: a fresh entry displaces the
// current lowest scorer when that scorer sits below the initial score.
func (p *Pool) Add(urls []string, source string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for _, u := range urls {
		if !validProxyURL(u) {
			p.logger.Debug("malformed proxy entry rejected",
				zap.String("source", source), zap.String("entry", u))
			continue
		}
		if _, exists := p.proxies[u]; exists {
			continue
		}
		if len(p.proxies) >= p.cfg.MaxProxies {
			victim := p.lowestScoringLocked()
			if victim == nil || victim.Score >= initialScore {
				continue
			}
			p.removeLocked(victim.URL)
		}
		p.proxies[u] = newRecord(u, source)
		added++
	}
	if added > 0 {
		p.logger.Info("proxies added",
			zap.String("source", source),
			zap.Int("added", added),
			zap.Int("pool_size", len(p.proxies)))
	}
	p.publishSizeLocked()
	return added
}

// Get selects a proxy for the domain at the given protection level. An
// empty, false return means the fetch should go direct. forceNew excludes
// the proxy last handed out for this domain.
func (p *Pool) Get(domain string, protection engine.ProtectionLevel, forceNew bool) (string, bool) {
	if protection == engine.ProtectionLow && p.rand.Float64() < directProbability {
		metrics.ObserveProxySelection("direct")
		return "", false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	floor := p.cfg.MinimumScore
	if protection == engine.ProtectionHigh && highProtectionFloor > floor {
		floor = highProtectionFloor
	}

	candidates := p.candidatesLocked(domain, floor, forceNew)
	if len(candidates) == 0 {
		// Relax the floor rather than refuse a protected fetch outright.
		candidates = p.candidatesLocked(domain, p.cfg.MinimumScore, forceNew)
	}
	if len(candidates) == 0 {
		metrics.ObserveProxySelection("none")
		return "", false
	}

	// Prefer proxies that have worked for this domain, or that are untested
	// against it.
	preferred := candidates[:0:0]
	for _, r := range candidates {
		rate := r.domainSuccessRate(domain)
		if rate < 0 || rate >= 0.5 {
			preferred = append(preferred, r)
		}
	}
	if len(preferred) > 0 {
		candidates = preferred
	}

	var chosen *Record
	if p.rand.Float64() < explorationProbability {
		chosen = candidates[p.rand.Intn(len(candidates))]
		metrics.ObserveProxySelection("exploration")
	} else {
		chosen = p.weightedPickLocked(candidates, domain)
		metrics.ObserveProxySelection("weighted")
	}

	chosen.LastUsed = p.clock.Now()
	p.lastFor[domain] = chosen.URL
	return chosen.URL, true
}

func (p *Pool) candidatesLocked(domain string, floor float64, forceNew bool) []*Record {
	excluded := ""
	if forceNew {
		excluded = p.lastFor[domain]
	}
	var out []*Record
	for _, r := range p.proxies {
		if r.Status == StatusFailed {
			continue
		}
		if r.URL == excluded {
			continue
		}
		if r.Score < floor {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (p *Pool) weightedPickLocked(candidates []*Record, domain string) *Record {
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, r := range candidates {
		rate := r.domainSuccessRate(domain)
		if rate < 0 {
			rate = 0
		}
		w := 0.5 + 0.5*(r.Score/maxScoreVal) + 0.5*rate
		weights[i] = w
		total += w
	}

	target := p.rand.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target <= acc {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// ReportResult feeds usage feedback for a proxy back into its score.
func (p *Pool) ReportResult(proxyURL, domain string, success bool, responseTime time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.proxies[proxyURL]
	if !ok {
		return
	}

	outcome := r.Domains[domain]
	if success {
		r.SuccessCount++
		r.ConsecutiveFail = 0
		outcome.Success++
		r.adjustScore(usageSuccessDelta)
	} else {
		r.FailureCount++
		r.ConsecutiveFail++
		outcome.Failure++
		r.adjustScore(usageFailureDelta)
	}
	r.Domains[domain] = outcome

	if responseTime > 0 {
		r.observeResponseTime(float64(responseTime.Milliseconds()))
	}
	r.refreshStatus(p.cfg.MinimumScore)
	p.publishSizeLocked()
}

// Evict removes proxies that have fallen far enough below the score floor
// that recovery is implausible. Returns how many were removed.
func (p *Pool) Evict() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for url, r := range p.proxies {
		if r.Status == StatusFailed && r.Score < p.cfg.MinimumScore/2 {
			p.removeLocked(url)
			removed++
		}
	}
	if removed > 0 {
		p.logger.Info("proxies evicted", zap.Int("removed", removed), zap.Int("pool_size", len(p.proxies)))
	}
	p.publishSizeLocked()
	return removed
}

// NeedsReload reports whether the active set has shrunk enough that the
// ingestion sources should be consulted again.
func (p *Pool) NeedsReload() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Slow proxies still serve traffic, so anything non-failed counts.
	active := 0
	for _, r := range p.proxies {
		if r.Status != StatusFailed {
			active++
		}
	}
	threshold := p.cfg.MaxProxies / 5
	if threshold < 5 {
		threshold = 5
	}
	return active < threshold
}

// Size returns the number of proxies in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Stats returns a composition snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		Total:    len(p.proxies),
		ByStatus: make(map[Status]int),
	}
	sum := 0.0
	for _, r := range p.proxies {
		st.ByStatus[r.Status]++
		sum += r.Score
	}
	if st.Total > 0 {
		st.AverageScore = sum / float64(st.Total)
	}
	return st
}

// validProxyURL requires a parseable URL with both scheme and host; anything
// less would be handed to fetch agents as an unusable proxy.
func validProxyURL(raw string) bool {
	parsed, err := url.Parse(raw)
	return err == nil && parsed.Scheme != "" && parsed.Host != ""
}

func (p *Pool) lowestScoringLocked() *Record {
	var lowest *Record
	for _, r := range p.proxies {
		if lowest == nil || r.Score < lowest.Score {
			lowest = r
		}
	}
	return lowest
}

// removeLocked drops a proxy and any domain affinities pointing at it.
func (p *Pool) removeLocked(url string) {
	delete(p.proxies, url)
	for domain, last := range p.lastFor {
		if last == url {
			delete(p.lastFor, domain)
		}
	}
}

func (p *Pool) publishSizeLocked() {
	counts := make(map[Status]int)
	for _, r := range p.proxies {
		counts[r.Status]++
	}
	for _, s := range []Status{StatusUntested, StatusActive, StatusSlow, StatusFailed} {
		metrics.SetProxyPoolSize(string(s), counts[s])
	}
}

// affinitySnapshot copies the domain-affinity map for persistence.
func (p *Pool) affinitySnapshot() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]string, len(p.lastFor))
	for domain, u := range p.lastFor {
		out[domain] = u
	}
	return out
}

// snapshot returns a copy of every record for health checking or persistence.
func (p *Pool) snapshot() []*Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Record, 0, len(p.proxies))
	for _, r := range p.proxies {
		cp := *r
		out = append(out, &cp)
	}
	return out
}
