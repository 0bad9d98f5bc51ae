package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type halfRand struct{}

func (halfRand) Float64() float64 { return 0.5 }
func (halfRand) Intn(n int) int   { return n / 2 }

func newTestGenerator() *Generator {
	clock := &fixedClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	return NewGenerator(clock, halfRand{}, zap.NewNop())
}

func TestCategorize(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()

	tests := []struct {
		url  string
		want string
	}{
		{"https://pubmed.ncbi.nlm.nih.gov/12345/", CategoryMedical},
		{"https://www.nejm.org/doi/1", CategoryMedical},
		{"https://www.bbc.com/world", CategoryNews},
		{"https://arxiv.org/abs/1234.5678", CategoryAcademic},
		{"https://www.amazon.com/dp/B000", CategoryEcommerce},
		{"https://unknown-site.example/clinical-guidelines", CategoryMedical},
		{"https://unknown-site.example/latest-news-today", CategoryNews},
		{"https://unknown-site.example/about", CategoryGeneral},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, g.Categorize(tt.url), tt.url)
	}
}

func TestGenerateMedicalProfile(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()

	p := g.Generate("https://www.nejm.org/doi/1", engine.ProtectionLow)
	require.NotNil(t, p)
	assert.Equal(t, CategoryMedical, p.SiteCategory)
	assert.Equal(t, 1800*time.Millisecond, p.ScrollInterval)
	assert.Equal(t, 500, p.ScrollPixels)
	assert.Equal(t, 0.4, p.PauseProbability)
	assert.Equal(t, 2.0, p.ReadTimeMultiplier)
	assert.Contains(t, p.HoverSelectors, ".abstract")

	assert.NotEmpty(t, p.Interactions)
	assert.False(t, p.MouseTracks, "low protection gets no augmentation")
	assert.Nil(t, p.ScrollTracking)
	assert.Nil(t, p.Network)
}

func TestGenerateInteractionsScaleWithScrollDepth(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()

	p := g.Generate("https://www.bbc.com/world", engine.ProtectionLow)
	scrolls := 0
	for _, step := range p.Interactions {
		if step.Type == "scroll" {
			require.Greater(t, step.Amount, 0)
			scrolls++
		}
	}
	assert.GreaterOrEqual(t, scrolls, 3)
	assert.LessOrEqual(t, scrolls, 10)
}

func TestGenerateMediumAugmentation(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()

	p := g.Generate("https://www.nejm.org/doi/1", engine.ProtectionMedium)
	assert.True(t, p.MouseTracks)
	require.NotNil(t, p.ScrollTracking)
	assert.True(t, p.ScrollTracking.VariableSpeed)
	assert.False(t, p.ScrollTracking.DirectionChanges)
	assert.InDelta(t, 2.0*1.3, p.ReadTimeMultiplier, 1e-9)
	assert.Nil(t, p.Network, "network noise is a high-protection feature")
	assert.Empty(t, p.SessionID)
}

func TestGenerateHighAugmentation(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()

	p := g.Generate("https://www.nejm.org/doi/1", engine.ProtectionHigh)
	assert.True(t, p.CursorNaturalMove)
	assert.True(t, p.EmulateFocusBlur)
	require.NotNil(t, p.ScrollTracking)
	assert.True(t, p.ScrollTracking.DirectionChanges)
	assert.True(t, p.ScrollTracking.ReadPauses)

	require.NotNil(t, p.Network)
	assert.Equal(t, [2]int{50, 150}, p.Network.LatencyRangeMs)
	require.NotNil(t, p.FingerprintNoise)
	assert.True(t, p.FingerprintNoise.Canvas)

	assert.NotEmpty(t, p.SessionID)
	assert.Greater(t, p.InitialDelay, time.Duration(0))
	assert.Greater(t, p.ReadTimeMultiplier, 2.0*1.5, "high protection stretches read time")
}

func TestGenerateGeneralProfileSamplesPatterns(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()

	p := g.Generate("https://unknown-site.example/about", engine.ProtectionLow)
	assert.Equal(t, CategoryGeneral, p.SiteCategory)
	assert.Greater(t, p.ScrollPixels, 0)
	assert.Greater(t, p.ClickProbability, 0.0)
	assert.NotEmpty(t, p.HoverSelectors)
}
