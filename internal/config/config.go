package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Sizing struct {
	MinBuyUSD  float64 `yaml:"min_buy_usd"`
	MaxBuyUSD  float64 `yaml:"max_buy_usd"`
	MinSellUSD float64 `yaml:"min_sell_usd"`
	MaxSellUSD float64 `yaml:"max_sell_usd"`
}

type Statistics struct {
	SkillThreshold float64 `yaml:"skill_threshold"` // quadrant skill cutoff
	LuckyZ         float64 `yaml:"lucky_z"`         // |z| beyond which a return counts as lucky
	MinHistory     int     `yaml:"min_history"`     // points required before classifying
	Denoise        string  `yaml:"denoise"`         // none | wavelet | emd | hybrid
}

type KB struct {
	Root          string `yaml:"root"`
	BufferPath    string `yaml:"buffer_path"`
	JournalPath   string `yaml:"journal_path"`
	BuyRules      int    `yaml:"buy_rules_cap"`
	SellRules     int    `yaml:"sell_rules_cap"`
	HoldRules     int    `yaml:"hold_rules_cap"`
	RecentLessons int    `yaml:"recent_lessons_cap"`
	Lessons       int    `yaml:"lessons_cap"`
	Patterns      int    `yaml:"market_patterns_cap"`
	Errors        int    `yaml:"critical_errors_cap"`
	NeverRepeat   int    `yaml:"never_repeat_cap"`
}

type LLM struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"base_url"`
	Model              string `yaml:"model"`
	APIKeyEnv          string `yaml:"api_key_env"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms"`
}

type Broker struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Root struct {
	Symbols    []string   `yaml:"symbols"`
	Sizing     Sizing     `yaml:"sizing"`
	Statistics Statistics `yaml:"statistics"`
	KB         KB         `yaml:"kb"`
	LLM        LLM        `yaml:"llm"`
	Broker     Broker     `yaml:"broker"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.ApplyDefaults()
	return c, nil
}

// ApplyDefaults fills zero values. Thresholds mirror the tuned constants
// the scorer and classifier were calibrated against; they are config so
// operators can move them without a rebuild.
func (c *Root) ApplyDefaults() {
	if c.Sizing.MinBuyUSD == 0 {
		c.Sizing.MinBuyUSD = 1
	}
	if c.Sizing.MaxBuyUSD == 0 {
		c.Sizing.MaxBuyUSD = 10000
	}
	if c.Sizing.MinSellUSD == 0 {
		c.Sizing.MinSellUSD = 1
	}
	if c.Sizing.MaxSellUSD == 0 {
		c.Sizing.MaxSellUSD = 10000
	}

	if c.Statistics.SkillThreshold == 0 {
		c.Statistics.SkillThreshold = 60
	}
	if c.Statistics.LuckyZ == 0 {
		c.Statistics.LuckyZ = 1.0
	}
	if c.Statistics.MinHistory == 0 {
		c.Statistics.MinHistory = 10
	}
	if c.Statistics.Denoise == "" {
		c.Statistics.Denoise = "wavelet"
	}

	if c.KB.Root == "" {
		c.KB.Root = "kb"
	}
	if c.KB.BufferPath == "" {
		c.KB.BufferPath = "kb/decision_buffer.json"
	}
	if c.KB.JournalPath == "" {
		c.KB.JournalPath = "kb/journal.db"
	}
	if c.KB.BuyRules == 0 {
		c.KB.BuyRules = 15
	}
	if c.KB.SellRules == 0 {
		c.KB.SellRules = 15
	}
	if c.KB.HoldRules == 0 {
		c.KB.HoldRules = 10
	}
	if c.KB.RecentLessons == 0 {
		c.KB.RecentLessons = 5
	}
	if c.KB.Lessons == 0 {
		c.KB.Lessons = 20
	}
	if c.KB.Patterns == 0 {
		c.KB.Patterns = 10
	}
	if c.KB.Errors == 0 {
		c.KB.Errors = 25
	}
	if c.KB.NeverRepeat == 0 {
		c.KB.NeverRepeat = 15
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.deepseek.com"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "deepseek-chat"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "LLM_API_KEY"
	}
	if c.LLM.RateLimitPerMinute == 0 {
		c.LLM.RateLimitPerMinute = 10
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 2
	}
	if c.LLM.BackoffBaseMs == 0 {
		c.LLM.BackoffBaseMs = 500
	}

	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "http://localhost:8090"
	}
	if c.Broker.APIKeyEnv == "" {
		c.Broker.APIKeyEnv = "BROKER_API_KEY"
	}
	if c.Broker.TimeoutSeconds == 0 {
		c.Broker.TimeoutSeconds = 10
	}
}

// Default returns a config with every default applied, for callers that
// run without a config file (tests, one-shot CLI invocations).
func Default() Root {
	var c Root
	c.ApplyDefaults()
	return c
}
