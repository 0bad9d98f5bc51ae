// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Frontier   FrontierConfig   `mapstructure:"frontier"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Relevance  RelevanceConfig  `mapstructure:"relevance"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DispatcherConfig governs the dispatch loop and retry behavior.
type DispatcherConfig struct {
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	IdleWait           time.Duration `mapstructure:"idle_wait"`
	StopTimeout        time.Duration `mapstructure:"stop_timeout"`
	BaseTimeoutSeconds int           `mapstructure:"base_timeout_seconds"`
	MaxDiscoveredLinks int           `mapstructure:"max_discovered_links"`
	ContentPrefix      string        `mapstructure:"content_prefix"`
}

// FrontierConfig holds the priority scoring tables.
type FrontierConfig struct {
	AuthorityDomains   map[string]float64  `mapstructure:"authority_domains"`
	RecencyWeights     RecencyWeights      `mapstructure:"recency_weights"`
	ContentWeights     map[string]float64  `mapstructure:"content_weights"`
	ContentKeywords    map[string][]string `mapstructure:"content_keywords"`
	MaxContentScore    float64             `mapstructure:"max_content_score"`
	DefaultDomainScore float64             `mapstructure:"default_domain_score"`
	MaxRetries         int                 `mapstructure:"max_retries"`
	PenaltyPerRetry    float64             `mapstructure:"penalty_per_retry"`
	StateFile          string              `mapstructure:"state_file"`
}

// RecencyWeights maps publish-date age buckets to score weights.
type RecencyWeights struct {
	WithinWeek    float64 `mapstructure:"within_week"`
	WithinMonth   float64 `mapstructure:"within_month"`
	Within6Months float64 `mapstructure:"within_6months"`
	WithinYear    float64 `mapstructure:"within_year"`
	Older         float64 `mapstructure:"older"`
}

// ProxySource describes one proxy ingestion source.
type ProxySource struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"` // file, http, database
	Path string `mapstructure:"path"`
	URL  string `mapstructure:"url"`
}

// ProxyConfig governs the proxy pool.
type ProxyConfig struct {
	Sources       []ProxySource `mapstructure:"sources"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	MaxProxies    int           `mapstructure:"max_proxies"`
	MinimumScore  float64       `mapstructure:"minimum_score"`
	StateFile     string        `mapstructure:"state_file"`
}

// AgentsConfig configures the two fetch agent implementations.
type AgentsConfig struct {
	UserAgent string         `mapstructure:"user_agent"`
	Headless  HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the chromedp rendering agent.
type HeadlessConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	MaxParallel int     `mapstructure:"max_parallel"`
	DomainQPS   float64 `mapstructure:"domain_qps"`
}

// RelevanceConfig configures the external semantic scoring collaborator.
type RelevanceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PublisherConfig holds metadata for result publication.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"` // memory, pubsub
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig selects the content blob store backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // memory, local, gcs
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to the relational database used as a proxy source.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)

	v.SetDefault("dispatcher.max_concurrent_tasks", 10)
	v.SetDefault("dispatcher.idle_wait", 500*time.Millisecond)
	v.SetDefault("dispatcher.stop_timeout", 10*time.Second)
	v.SetDefault("dispatcher.base_timeout_seconds", 20)
	v.SetDefault("dispatcher.max_discovered_links", 100)
	v.SetDefault("dispatcher.content_prefix", "pages")

	v.SetDefault("frontier.authority_domains", map[string]float64{
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
	})
	v.SetDefault("frontier.recency_weights.within_week", 25)
	v.SetDefault("frontier.recency_weights.within_month", 20)
	v.SetDefault("frontier.recency_weights.within_6months", 15)
	v.SetDefault("frontier.recency_weights.within_year", 10)
	v.SetDefault("frontier.recency_weights.older", 0)
	v.SetDefault("frontier.content_weights", map[string]float64{
		"clinical_trial":      45,
		"research_paper":      40,
		"treatment_guideline": 45,
		"case_study":          35,
		"news":                20,
	})
	v.SetDefault("frontier.content_keywords", map[string][]string{
		"clinical_trial":      {"clinical trial", "临床试验", "phase", "阶段研究", "randomized", "随机对照"},
		"research_paper":      {"research", "研究", "study", "journal", "期刊", "paper", "论文"},
		"treatment_guideline": {"guideline", "指南", "protocol", "方案", "treatment", "治疗方法"},
		"case_study":          {"case study", "病例研究", "case report", "病例报告"},
		"news":                {"news", "新闻", "update", "更新", "latest", "最新"},
	})
	v.SetDefault("frontier.max_content_score", 45)
	v.SetDefault("frontier.default_domain_score", 10)
	v.SetDefault("frontier.max_retries", 3)
	v.SetDefault("frontier.penalty_per_retry", 5)
	v.SetDefault("frontier.state_file", "state/frontier.json")

	v.SetDefault("proxy.check_interval", time.Hour)
	v.SetDefault("proxy.max_proxies", 100)
	v.SetDefault("proxy.minimum_score", 3.0)
	v.SetDefault("proxy.state_file", "state/proxies.json")

	v.SetDefault("agents.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("agents.headless.enabled", false)
	v.SetDefault("agents.headless.max_parallel", 2)
	v.SetDefault("agents.headless.domain_qps", 0.5)

	v.SetDefault("relevance.enabled", false)
	v.SetDefault("relevance.timeout", 10*time.Second)
	v.SetDefault("relevance.model", "deepseek-chat")

	v.SetDefault("publisher.backend", "memory")
	v.SetDefault("publisher.topic_name", "crawl-results")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "state/blobs")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Dispatcher.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("dispatcher.max_concurrent_tasks must be > 0")
	}
	if c.Dispatcher.BaseTimeoutSeconds <= 0 {
		return fmt.Errorf("dispatcher.base_timeout_seconds must be > 0")
	}
	if c.Proxy.MaxProxies <= 0 {
		return fmt.Errorf("proxy.max_proxies must be > 0")
	}
	if c.Proxy.MinimumScore < 0 || c.Proxy.MinimumScore > 10 {
		return fmt.Errorf("proxy.minimum_score must be in [0,10]")
	}
	if c.Agents.Headless.Enabled && c.Agents.Headless.MaxParallel <= 0 {
		return fmt.Errorf("agents.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Relevance.Enabled && c.Relevance.Endpoint == "" {
		return fmt.Errorf("relevance.endpoint must be set when relevance scoring is enabled")
	}
	if c.Publisher.Backend == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.TopicName == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic_name must be set for the pubsub backend")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	return nil
}
