// Package behavior synthesizes human-like interaction profiles for rendered
// fetches. Profiles are generated fresh per dispatch and never persisted.
package behavior

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

// Site categories with distinct browsing rhythms.
const (
	CategoryMedical   = "medical"
	CategoryNews      = "news"
	CategoryAcademic  = "academic"
	CategoryEcommerce = "ecommerce"
	CategoryGeneral   = "general"
)

// baseProfile holds the per-category rhythm constants before augmentation.
type baseProfile struct {
	scrollInterval time.Duration
	scrollPixels   int
	pauseProb      float64
	pauseMin       time.Duration
	pauseMax       time.Duration
	clickProb      float64
	hoverSelectors []string
	readMultiplier float64
}

var categoryProfiles = map[string]baseProfile{
	CategoryMedical: {
		scrollInterval: 1800 * time.Millisecond,
		scrollPixels:   500,
		pauseProb:      0.4,
		pauseMin:       2 * time.Second,
		pauseMax:       8 * time.Second,
		clickProb:      0.35,
		hoverSelectors: []string{"figure", "table", ".abstract", ".methods", ".results", ".discussion"},
		readMultiplier: 2.0,
	},
	CategoryNews: {
		scrollInterval: 700 * time.Millisecond,
		scrollPixels:   700,
		pauseProb:      0.1,
		pauseMin:       500 * time.Millisecond,
		pauseMax:       2 * time.Second,
		clickProb:      0.15,
		hoverSelectors: []string{"a.headline", ".thumbnail", ".news-item"},
		readMultiplier: 0.6,
	},
	CategoryEcommerce: {
		scrollInterval: time.Second,
		scrollPixels:   600,
		pauseProb:      0.3,
		pauseMin:       time.Second,
		pauseMax:       3 * time.Second,
		clickProb:      0.3,
		hoverSelectors: []string{"img.product", ".price", ".rating", ".description"},
		readMultiplier: 0.8,
	},
	CategoryAcademic: {
		scrollInterval: 2 * time.Second,
		scrollPixels:   400,
		pauseProb:      0.5,
		pauseMin:       3 * time.Second,
		pauseMax:       10 * time.Second,
		clickProb:      0.4,
		hoverSelectors: []string{"cite", ".abstract", ".conclusion", ".reference", ".formula"},
		readMultiplier: 2.5,
	},
}

// General-category rhythms are sampled from these patterns instead of fixed.
var generalScrollPatterns = [][2]float64{
	{0.8, 300}, {1.2, 500}, {1.5, 800}, {2.0, 1200},
}

var generalClickPatterns = [][2]float64{
	{0.15, 1.0}, {0.25, 1.5}, {0.40, 2.0}, {0.60, 3.0},
}

var generalHoverSelectors = []string{"a", "button", "input", "img", ".card", ".item"}

var categoryDomains = map[string][]string{
	CategoryMedical: {
		"pubmed", "nih.gov", "nejm.org", "thelancet", "bmj",
		"mayo", "medscape", "webmd", "healthline", "medicalnewstoday",
	},
	CategoryNews: {
		"news", "cnn", "bbc", "nytimes", "washingtonpost", "reuters", "bloomberg",
	},
	CategoryAcademic: {
		"scholar", "sciencedirect", "researchgate", "academia.edu",
		"springer", "ieee", "arxiv",
	},
	CategoryEcommerce: {
		"amazon", "alibaba", "ebay", "walmart", "shop", "store",
	},
}

var categoryPathKeywords = map[string][]string{
	CategoryMedical:   {"health", "medical", "medicine", "clinical", "patient"},
	CategoryNews:      {"news", "article", "story"},
	CategoryAcademic:  {"paper", "journal", "research", "abstract"},
	CategoryEcommerce: {"product", "shop", "cart", "store"},
}

// Generator synthesizes behavior profiles. Randomness and time are injected
// so profile synthesis is reproducible under test.
type Generator struct {
	clock  engine.Clock
	rand   engine.Rand
	logger *zap.Logger
}

func NewGenerator(clock engine.Clock, rnd engine.Rand, logger *zap.Logger) *Generator {
	return &Generator{clock: clock, rand: rnd, logger: logger}
}

// Generate builds a profile for the URL, scaled up with the protection level.
func (g *Generator) Generate(rawURL string, protection engine.ProtectionLevel) *engine.BehaviorProfile {
	category := g.Categorize(rawURL)
	profile := g.buildBase(category)
	profile.Interactions = g.synthesizeInteractions(profile)

	switch protection {
	case engine.ProtectionMedium:
		g.augmentMedium(profile)
	case engine.ProtectionHigh:
		g.augmentHigh(profile)
	}

	g.logger.Debug("behavior profile generated",
		zap.String("url", rawURL),
		zap.String("category", category),
		zap.String("protection", string(protection)),
		zap.Int("interactions", len(profile.Interactions)))
	return profile
}

// Categorize maps a URL to a site category by host, falling back to path
// keywords, then general.
func (g *Generator) Categorize(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return CategoryGeneral
	}
	host := strings.ToLower(parsed.Hostname())
	for _, category := range []string{CategoryMedical, CategoryAcademic, CategoryNews, CategoryEcommerce} {
		for _, hint := range categoryDomains[category] {
			if strings.Contains(host, hint) {
				return category
			}
		}
	}

	path := strings.ToLower(parsed.Path)
	for _, category := range []string{CategoryMedical, CategoryAcademic, CategoryNews, CategoryEcommerce} {
		for _, kw := range categoryPathKeywords[category] {
			if strings.Contains(path, kw) {
				return category
			}
		}
	}
	return CategoryGeneral
}

func (g *Generator) buildBase(category string) *engine.BehaviorProfile {
	if base, ok := categoryProfiles[category]; ok {
		return &engine.BehaviorProfile{
			SiteCategory:       category,
			ScrollInterval:     base.scrollInterval,
			ScrollPixels:       base.scrollPixels,
			PauseProbability:   base.pauseProb,
			PauseDuration:      [2]time.Duration{base.pauseMin, base.pauseMax},
			ClickProbability:   base.clickProb,
			HoverSelectors:     base.hoverSelectors,
			ReadTimeMultiplier: base.readMultiplier,
			Timestamp:          g.clock.Now(),
		}
	}

	scroll := generalScrollPatterns[g.rand.Intn(len(generalScrollPatterns))]
	click := generalClickPatterns[g.rand.Intn(len(generalClickPatterns))]
	return &engine.BehaviorProfile{
		SiteCategory:       CategoryGeneral,
		ScrollInterval:     time.Duration(scroll[0] * float64(time.Second)),
		ScrollPixels:       int(scroll[1]),
		PauseProbability:   g.randRange(0.1, 0.3),
		PauseDuration:      [2]time.Duration{500 * time.Millisecond, time.Duration(click[1] * float64(time.Second))},
		ClickProbability:   click[0],
		HoverSelectors:     generalHoverSelectors,
		ReadTimeMultiplier: g.randRange(0.8, 1.5),
		Timestamp:          g.clock.Now(),
	}
}

// synthesizeInteractions emits 3-10 scroll/wait primitives with occasional
// hovers and clicks, scaled to the profile's scroll depth.
func (g *Generator) synthesizeInteractions(p *engine.BehaviorProfile) []engine.InteractionStep {
	count := 3 + g.rand.Intn(8)
	steps := make([]engine.InteractionStep, 0, count*2)

	for i := 0; i < count; i++ {
		amount := int(g.randRange(300, 800) * float64(p.ScrollPixels) / 500)
		steps = append(steps, engine.InteractionStep{
			Type:   "scroll",
			Amount: amount,
		})
		steps = append(steps, engine.InteractionStep{
			Type:     "wait",
			Duration: g.randDuration(p.PauseDuration[0], p.PauseDuration[1]),
		})
		if g.rand.Float64() < 0.3 && len(p.HoverSelectors) > 0 {
			steps = append(steps, engine.InteractionStep{
				Type:     "hover",
				Selector: p.HoverSelectors[g.rand.Intn(len(p.HoverSelectors))],
				Duration: g.randDuration(300*time.Millisecond, time.Second),
			})
		}
		if g.rand.Float64() < p.ClickProbability {
			steps = append(steps, engine.InteractionStep{
				Type:        "click",
				Selector:    p.HoverSelectors[g.rand.Intn(len(p.HoverSelectors))],
				DelayBefore: g.randDuration(200*time.Millisecond, 800*time.Millisecond),
			})
		}
	}
	return steps
}

func (g *Generator) augmentMedium(p *engine.BehaviorProfile) {
	p.MouseTracks = true
	p.PauseDuration[0] = time.Duration(float64(p.PauseDuration[0]) * 1.2)
	p.PauseDuration[1] = time.Duration(float64(p.PauseDuration[1]) * 1.2)
	p.ReadTimeMultiplier *= 1.3
	p.ScrollTracking = &engine.ScrollTracking{
		VariableSpeed:       true,
		NaturalAcceleration: true,
		Jitter:              g.randRange(5, 15),
	}
}

func (g *Generator) augmentHigh(p *engine.BehaviorProfile) {
	p.MouseTracks = true
	p.CursorNaturalMove = true
	p.RandomUIInteractions = true
	p.EmulateFocusBlur = true
	p.PauseDuration[0] = time.Duration(float64(p.PauseDuration[0]) * 1.5)
	p.PauseDuration[1] = time.Duration(float64(p.PauseDuration[1]) * 1.5)
	p.ReadTimeMultiplier *= 1.8
	p.ScrollTracking = &engine.ScrollTracking{
		VariableSpeed:       true,
		NaturalAcceleration: true,
		DirectionChanges:    true,
		ReadPauses:          true,
		Jitter:              g.randRange(10, 25),
	}

	extra := []engine.InteractionStep{
		{Type: "text_selection", Probability: 0.3},
		{Type: "right_click", Probability: 0.1},
		{Type: "browser_resize", Probability: 0.15},
	}
	for _, step := range extra {
		if g.rand.Float64() < step.Probability {
			p.Interactions = append(p.Interactions, step)
		}
	}

	g.jitterPass(p)
}

// jitterPass perturbs every numeric rhythm so no two high-protection fetches
// share an identical profile, and attaches the network/fingerprint noise.
func (g *Generator) jitterPass(p *engine.BehaviorProfile) {
	scale := func() float64 { return g.randRange(0.9, 1.1) }

	p.ScrollInterval = time.Duration(float64(p.ScrollInterval) * scale())
	p.ScrollPixels = int(float64(p.ScrollPixels) * scale())
	p.PauseProbability *= scale()
	p.ClickProbability *= scale()
	p.ReadTimeMultiplier *= scale()
	p.PauseDuration[0] = time.Duration(float64(p.PauseDuration[0]) * scale())
	p.PauseDuration[1] = time.Duration(float64(p.PauseDuration[1]) * scale())

	p.InitialDelay = g.randDuration(500*time.Millisecond, 2500*time.Millisecond)
	p.Network = &engine.NetworkPattern{
		LatencyRangeMs:    [2]int{50, 150},
		Jitter:            g.randRange(5, 30),
		BandwidthVariance: g.randRange(0.1, 0.3),
	}
	p.FingerprintNoise = &engine.FingerprintNoise{
		Canvas: g.rand.Float64() < 0.7,
		WebGL:  g.rand.Float64() < 0.6,
		Audio:  g.rand.Float64() < 0.5,
	}
	p.SessionID = fmt.Sprintf("session_%d_%07d", g.clock.Now().UnixMilli(), g.rand.Intn(10000000))
}

func (g *Generator) randRange(lo, hi float64) float64 {
	return lo + g.rand.Float64()*(hi-lo)
}

func (g *Generator) randDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(g.rand.Float64()*float64(hi-lo))
}
