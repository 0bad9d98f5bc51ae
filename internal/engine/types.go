// Package engine defines core types shared across subsystems.
package engine

import (
	"net/http"
	"time"
)

// ProtectionLevel classifies how aggressively a target resists automated access.
type ProtectionLevel string

// Protection levels, ordered from least to most defended.
const (
	ProtectionLow    ProtectionLevel = "low"
	ProtectionMedium ProtectionLevel = "medium"
	ProtectionHigh   ProtectionLevel = "high"
)

// Rank returns a comparable ordering for protection levels.
func (p ProtectionLevel) Rank() int {
	switch p {
	case ProtectionHigh:
		return 2
	case ProtectionMedium:
		return 1
	default:
		return 0
	}
}

// CrawlTask is a scored frontier entry for a single URL.
type CrawlTask struct {
	URL         string            `json:"url"`
	Priority    float64           `json:"priority"`
	Protection  ProtectionLevel   `json:"protection_level"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Depth       int               `json:"depth"`
	RetryCount  int               `json:"retry_count"`
	CreatedAt   time.Time         `json:"created_at"`
	LastAttempt time.Time         `json:"last_attempt,omitempty"`

	// Retry hints set when a failed task is cloned for another attempt.
	MinDelay      time.Duration `json:"min_delay,omitempty"`
	ForceNewProxy bool          `json:"force_new_proxy,omitempty"`
	TimeoutFactor float64       `json:"timeout_factor,omitempty"`

	Cookies  string `json:"cookies,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

// Clone returns a deep copy of the task, safe to mutate independently.
func (t CrawlTask) Clone() CrawlTask {
	cp := t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// Strategy tells a fetch agent how to retrieve a page.
type Strategy struct {
	RenderJS               bool `json:"render_js"`
	WaitForFullLoad        bool `json:"wait_for_full_load"`
	EmulateUserInteraction bool `json:"emulate_user_interaction"`
	ExtractMetadata        bool `json:"extract_metadata"`
	ExtractLinks           bool `json:"extract_links"`
	CaptureScreenshot      bool `json:"capture_screenshot"`
}

// ExecutionConfig bundles the per-task anti-detection environment.
type ExecutionConfig struct {
	ProxyURL string           `json:"proxy_url,omitempty"`
	Headers  http.Header      `json:"headers,omitempty"`
	Timeout  time.Duration    `json:"timeout"`
	Behavior *BehaviorProfile `json:"behavior,omitempty"`
	Cookies  string           `json:"cookies,omitempty"`
	Referrer string           `json:"referrer,omitempty"`
}

// ExtractedLink is a single anchor discovered on a fetched page.
type ExtractedLink struct {
	URL     string `json:"url"`
	Text    string `json:"text,omitempty"`
	Context string `json:"context,omitempty"`
}

// FetchResult is what a fetch agent reports for one attempt.
type FetchResult struct {
	Success       bool            `json:"success"`
	URL           string          `json:"url"`
	FinalURL      string          `json:"final_url,omitempty"`
	StatusCode    int             `json:"status_code,omitempty"`
	Content       []byte          `json:"-"`
	Title         string          `json:"title,omitempty"`
	Description   string          `json:"description,omitempty"`
	PublishedDate string          `json:"published_date,omitempty"`
	Links         []ExtractedLink `json:"extracted_links,omitempty"`
	Screenshot    []byte          `json:"-"`
	Duration      time.Duration   `json:"duration"`
	Agent         string          `json:"agent,omitempty"`

	// ErrorCode is set for degraded-but-completed fetches (Success == false
	// without a raised error). Raised errors go through ClassifyError instead.
	ErrorCode ErrorClass `json:"error_code,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
}

// InteractionStep is one primitive in a synthesized behavior script.
type InteractionStep struct {
	Type        string        `json:"type"` // scroll, wait, hover, click, text_selection, right_click, browser_resize
	Amount      int           `json:"amount,omitempty"`
	Selector    string        `json:"selector,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	DelayBefore time.Duration `json:"delay_before,omitempty"`
	Probability float64       `json:"probability,omitempty"`
}

// ScrollTracking captures scroll-emulation augmentation flags.
type ScrollTracking struct {
	VariableSpeed       bool    `json:"variable_speed"`
	NaturalAcceleration bool    `json:"natural_acceleration"`
	DirectionChanges    bool    `json:"direction_changes,omitempty"`
	ReadPauses          bool    `json:"read_pauses,omitempty"`
	Jitter              float64 `json:"jitter,omitempty"`
}

// NetworkPattern simulates latency and bandwidth variance.
type NetworkPattern struct {
	LatencyRangeMs    [2]int  `json:"latency_range_ms"`
	Jitter            float64 `json:"jitter"`
	BandwidthVariance float64 `json:"bandwidth_variance"`
}

// FingerprintNoise toggles per-surface fingerprint randomization.
type FingerprintNoise struct {
	Canvas bool `json:"canvas"`
	WebGL  bool `json:"webgl"`
	Audio  bool `json:"audio"`
}

// BehaviorProfile is a synthesized human-like interaction plan for one fetch.
// Profiles are ephemeral: generated per dispatch, never persisted.
type BehaviorProfile struct {
	SiteCategory       string            `json:"site_category"`
	ScrollInterval     time.Duration     `json:"scroll_interval"`
	ScrollPixels       int               `json:"scroll_pixels"`
	PauseProbability   float64           `json:"pause_probability"`
	PauseDuration      [2]time.Duration  `json:"pause_duration"`
	ClickProbability   float64           `json:"click_probability"`
	HoverSelectors     []string          `json:"hover_selectors"`
	ReadTimeMultiplier float64           `json:"read_time_multiplier"`
	Interactions       []InteractionStep `json:"interactions"`

	MouseTracks          bool            `json:"mouse_tracks,omitempty"`
	CursorNaturalMove    bool            `json:"cursor_natural_movement,omitempty"`
	RandomUIInteractions bool            `json:"random_ui_interactions,omitempty"`
	EmulateFocusBlur     bool            `json:"emulate_focus_blur,omitempty"`
	ScrollTracking       *ScrollTracking `json:"scroll_tracking,omitempty"`

	InitialDelay     time.Duration     `json:"initial_delay,omitempty"`
	Network          *NetworkPattern   `json:"network_pattern,omitempty"`
	FingerprintNoise *FingerprintNoise `json:"browser_fingerprint_noise,omitempty"`
	SessionID        string            `json:"session_id,omitempty"`
	Timestamp        time.Time         `json:"timestamp,omitempty"`
}
