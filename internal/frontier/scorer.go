package frontier

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

// Config holds the scoring tables and retry policy for the frontier.
type Config struct {
	AuthorityDomains   map[string]float64
	RecencyWithinWeek  float64
	RecencyWithinMonth float64
	RecencyWithin6Mo   float64
	RecencyWithinYear  float64
	RecencyOlder       float64
	ContentWeights     map[string]float64
	ContentKeywords    map[string][]string
	MaxContentScore    float64
	DefaultDomainScore float64
	MaxRetries         int
	PenaltyPerRetry    float64
}

// DefaultConfig mirrors the shipped priority rule tables.
func DefaultConfig() Config {
	return Config{
		AuthorityDomains: map[string]float64{
			"gov":            30,
			"edu":            25,
			"org":            20,
			"nejm.org":       40,
			"pubmed":         35,
			"nih.gov":        40,
			"who.int":        40,
			"cdc.gov":        35,
			"mayoclinic.org": 30,
			"medscape.com":   30,
		},
		RecencyWithinWeek:  25,
		RecencyWithinMonth: 20,
		RecencyWithin6Mo:   15,
		RecencyWithinYear:  10,
		RecencyOlder:       0,
		ContentWeights: map[string]float64{
			"clinical_trial":      45,
			"research_paper":      40,
			"treatment_guideline": 45,
			"case_study":          35,
			"news":                20,
		},
		ContentKeywords: map[string][]string{
			"clinical_trial":      {"clinical trial", "临床试验", "phase", "阶段研究", "randomized", "随机对照"},
			"research_paper":      {"research", "研究", "study", "journal", "期刊", "paper", "论文"},
			"treatment_guideline": {"guideline", "指南", "protocol", "方案", "treatment", "治疗方法"},
			"case_study":          {"case study", "病例研究", "case report", "病例报告"},
			"news":                {"news", "新闻", "update", "更新", "latest", "最新"},
		},
		MaxContentScore:    45,
		DefaultDomainScore: 10,
		MaxRetries:         3,
		PenaltyPerRetry:    5,
	}
}

var highProtectionSites = []string{
	"nejm.org", "sciencedirect.com", "nature.com",
	"onlinelibrary.wiley.com", "academic.oup.com",
	"jamanetwork.com", "bmj.com", "thelancet.com",
}

var mediumProtectionSites = []string{
	"pubmed.ncbi.nlm.nih.gov", "medscape.com", "mayoclinic.org",
	"medlineplus.gov", "webmd.com", "uptodate.com",
}

var dateFallbackRE = regexp.MustCompile(`\b(\d{4})[-/](\d{1,2})[-/](\d{1,2})\b`)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02-01-2006",
	"02/01/2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// Scorer computes frontier priorities from the configured rule tables,
// optionally blended with an external semantic relevance score.
type Scorer struct {
	cfg       Config
	relevance engine.RelevanceScorer
	clock     engine.Clock
	logger    *zap.Logger
}

// NewScorer builds a Scorer. relevance may be nil.
func NewScorer(cfg Config, relevance engine.RelevanceScorer, clock engine.Clock, logger *zap.Logger) *Scorer {
	return &Scorer{
		cfg:       cfg,
		relevance: relevance,
		clock:     clock,
		logger:    logger,
	}
}

// Score computes the priority (clamped to [0,100]) and estimated protection
// level for a candidate URL. The external relevance call, if configured, runs
// here so that callers can keep it outside any lock.
func (s *Scorer) Score(ctx context.Context, rawURL string, meta map[string]string) (float64, engine.ProtectionLevel) {
	domainScore := s.domainAuthority(rawURL)
	recencyScore := s.recency(meta["published_date"])
	contentScore := s.contentRelevance(ctx, rawURL, meta)

	retries := 0
	if meta != nil {
		if n, ok := parseRetryCount(meta["retry_count"]); ok {
			retries = n
		}
	}
	score := domainScore + recencyScore + contentScore - float64(retries)*s.cfg.PenaltyPerRetry

	return clamp(score, 0, 100), s.estimateProtection(rawURL, meta)
}

func (s *Scorer) domainAuthority(rawURL string) float64 {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return s.cfg.DefaultDomainScore
	}
	host := strings.ToLower(parsed.Hostname())

	// Containment match first, best weight wins so map order cannot matter.
	best := 0.0
	matched := false
	for authDomain, weight := range s.cfg.AuthorityDomains {
		if strings.Contains(host, authDomain) && weight > best {
			best = weight
			matched = true
		}
	}
	if matched {
		return best
	}

	for suffix, weight := range s.cfg.AuthorityDomains {
		if strings.HasSuffix(host, "."+suffix) && weight > best {
			best = weight
			matched = true
		}
	}
	if matched {
		return best
	}
	return s.cfg.DefaultDomainScore
}

func (s *Scorer) recency(dateStr string) float64 {
	if dateStr == "" {
		return 0
	}
	published, ok := parsePublishDate(dateStr)
	if !ok {
		return 0
	}

	age := s.clock.Now().Sub(published)
	switch {
	case age <= 7*24*time.Hour:
		return s.cfg.RecencyWithinWeek
	case age <= 30*24*time.Hour:
		return s.cfg.RecencyWithinMonth
	case age <= 180*24*time.Hour:
		return s.cfg.RecencyWithin6Mo
	case age <= 365*24*time.Hour:
		return s.cfg.RecencyWithinYear
	default:
		return s.cfg.RecencyOlder
	}
}

func parsePublishDate(dateStr string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t, true
		}
	}
	m := dateFallbackRE.FindStringSubmatch(dateStr)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-1-2", m[1]+"-"+m[2]+"-"+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *Scorer) contentRelevance(ctx context.Context, rawURL string, meta map[string]string) float64 {
	title := meta["title"]
	description := meta["description"]
	combined := strings.ToLower(title + " " + description)

	ruleScore := 0.0
	for category, weight := range s.cfg.ContentWeights {
		for _, kw := range s.cfg.ContentKeywords[category] {
			if strings.Contains(combined, kw) {
				ruleScore += weight
				break
			}
		}
	}

	// Semantic score, when available, replaces the rule score only upward.
	// Any failure degrades silently to the rule-based value.
	if s.relevance != nil && (title != "" || description != "") {
		if llmScore, err := s.relevance.ScoreContent(ctx, rawURL, title, description); err == nil {
			if llmScore > ruleScore {
				ruleScore = llmScore
			}
		} else {
			s.logger.Debug("semantic scoring failed, using rule score",
				zap.String("url", rawURL), zap.Error(err))
		}
	}

	if ruleScore > s.cfg.MaxContentScore {
		return s.cfg.MaxContentScore
	}
	return ruleScore
}

func (s *Scorer) estimateProtection(rawURL string, meta map[string]string) engine.ProtectionLevel {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return engine.ProtectionLow
	}
	host := strings.ToLower(parsed.Hostname())

	for _, site := range highProtectionSites {
		if strings.Contains(host, site) {
			return engine.ProtectionHigh
		}
	}
	for _, site := range mediumProtectionSites {
		if strings.Contains(host, site) {
			return engine.ProtectionMedium
		}
	}
	if meta != nil {
		if meta["has_captcha"] != "" || meta["previous_blocks"] != "" {
			return engine.ProtectionHigh
		}
		if meta["requires_js"] != "" || meta["previous_timeouts"] != "" {
			return engine.ProtectionMedium
		}
	}
	return engine.ProtectionLow
}

func parseRetryCount(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
