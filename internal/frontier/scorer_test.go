package frontier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

type stubRelevance struct {
	score float64
	err   error
}

func (s *stubRelevance) ScoreContent(_ context.Context, _, _, _ string) (float64, error) {
	return s.score, s.err
}

func newTestScorer(relevance engine.RelevanceScorer) (*Scorer, *fixedClock) {
	clock := &fixedClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	return NewScorer(DefaultConfig(), relevance, clock, zap.NewNop()), clock
}

func TestScoreAuthorityDomains(t *testing.T) {
	t.Parallel()
	s, _ := newTestScorer(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
		want float64
	}{
		{"nih", "https://www.nih.gov/research", 40},
		{"pubmed containment", "https://pubmed.ncbi.nlm.nih.gov/12345/", 40},
		{"edu suffix", "https://medicine.stanford.edu/trials", 25},
		{"unknown domain", "https://random-blog.example/post", 10},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, _ := s.Score(ctx, tt.url, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScoreUsesConfiguredKeywordTables(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	cfg := DefaultConfig()
	cfg.ContentWeights = map[string]float64{"oncology": 30}
	cfg.ContentKeywords = map[string][]string{"oncology": {"tumor", "肿瘤"}}
	s := NewScorer(cfg, nil, clock, zap.NewNop())
	ctx := context.Background()

	got, _ := s.Score(ctx, "https://random-blog.example/post", map[string]string{
		"title": "New tumor marker study",
	})
	assert.Equal(t, 40.0, got, "default domain score 10 plus the configured category weight")

	// A category from the shipped defaults no longer matches once replaced.
	got, _ = s.Score(ctx, "https://random-blog.example/post", map[string]string{
		"title": "clinical trial results",
	})
	assert.Equal(t, 10.0, got)
}

func TestScoreRecencyBuckets(t *testing.T) {
	t.Parallel()
	s, clock := newTestScorer(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"this week", 3 * 24 * time.Hour, 25},
		{"this month", 20 * 24 * time.Hour, 20},
		{"six months", 120 * 24 * time.Hour, 15},
		{"this year", 300 * 24 * time.Hour, 10},
		{"ancient", 3 * 365 * 24 * time.Hour, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			published := clock.now.Add(-tt.age).Format("2006-01-02")
			got, _ := s.Score(ctx, "https://random-blog.example/post", map[string]string{
				"published_date": published,
			})
			// 10 is the default domain score for an unknown host.
			assert.Equal(t, 10+tt.want, got)
		})
	}
}

func TestScoreContentKeywords(t *testing.T) {
	t.Parallel()
	s, _ := newTestScorer(nil)
	ctx := context.Background()

	got, _ := s.Score(ctx, "https://random-blog.example/post", map[string]string{
		"title": "Randomized clinical trial of a new therapy",
	})
	// 10 domain + 45 clinical_trial, capped content at 45.
	assert.Equal(t, 55.0, got)

	got, _ = s.Score(ctx, "https://random-blog.example/post", map[string]string{
		"title":       "临床试验阶段研究",
		"description": "治疗方法指南与病例研究",
	})
	// Multiple matching categories still cap at 45.
	assert.Equal(t, 55.0, got)
}

func TestScoreClampedToHundred(t *testing.T) {
	t.Parallel()
	s, clock := newTestScorer(nil)
	ctx := context.Background()

	got, _ := s.Score(ctx, "https://www.nih.gov/trials", map[string]string{
		"title":          "Randomized clinical trial treatment guideline case study",
		"published_date": clock.now.Add(-24 * time.Hour).Format("2006-01-02"),
	})
	assert.LessOrEqual(t, got, 100.0)
	assert.GreaterOrEqual(t, got, 0.0)
}

func TestScoreRetryPenalty(t *testing.T) {
	t.Parallel()
	s, _ := newTestScorer(nil)
	ctx := context.Background()

	fresh, _ := s.Score(ctx, "https://www.nih.gov/trials", nil)
	retried, _ := s.Score(ctx, "https://www.nih.gov/trials", map[string]string{"retry_count": "2"})
	assert.Equal(t, fresh-10, retried)
}

func TestScoreSemanticBlendsUpwardOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := newTestScorer(&stubRelevance{score: 40})
	got, _ := s.Score(ctx, "https://random-blog.example/post", map[string]string{"title": "latest news"})
	// Rule score for "news" is 20; the semantic 40 replaces it.
	assert.Equal(t, 50.0, got)

	s, _ = newTestScorer(&stubRelevance{score: 5})
	got, _ = s.Score(ctx, "https://random-blog.example/post", map[string]string{"title": "latest news"})
	assert.Equal(t, 30.0, got, "a lower semantic score must not undercut the rule score")
}

func TestScoreSemanticFailureFallsBack(t *testing.T) {
	t.Parallel()
	s, _ := newTestScorer(&stubRelevance{err: errors.New("upstream down")})
	got, _ := s.Score(context.Background(), "https://random-blog.example/post", map[string]string{"title": "latest news"})
	assert.Equal(t, 30.0, got)
}

func TestEstimateProtection(t *testing.T) {
	t.Parallel()
	s, _ := newTestScorer(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
		meta map[string]string
		want engine.ProtectionLevel
	}{
		{"journal site", "https://www.nejm.org/doi/full/1", nil, engine.ProtectionHigh},
		{"pubmed", "https://pubmed.ncbi.nlm.nih.gov/1/", nil, engine.ProtectionMedium},
		{"plain site", "https://random-blog.example/post", nil, engine.ProtectionLow},
		{"captcha hint", "https://random-blog.example/post", map[string]string{"has_captcha": "true"}, engine.ProtectionHigh},
		{"js hint", "https://random-blog.example/post", map[string]string{"requires_js": "true"}, engine.ProtectionMedium},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, got := s.Score(ctx, tt.url, tt.meta)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePublishDateFallback(t *testing.T) {
	t.Parallel()

	got, ok := parsePublishDate("Published on 2026/3/9 by staff")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), got)

	_, ok = parsePublishDate("no date here")
	assert.False(t, ok)
}
