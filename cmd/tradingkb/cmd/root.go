package cmd

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quantpulse/tradingkb/internal/analyzer"
	"github.com/quantpulse/tradingkb/internal/broker"
	"github.com/quantpulse/tradingkb/internal/buffer"
	"github.com/quantpulse/tradingkb/internal/config"
	"github.com/quantpulse/tradingkb/internal/dedup"
	"github.com/quantpulse/tradingkb/internal/journal"
	"github.com/quantpulse/tradingkb/internal/kb"
	"github.com/quantpulse/tradingkb/internal/llm"
	"github.com/quantpulse/tradingkb/internal/review"
	"github.com/quantpulse/tradingkb/internal/stats"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "tradingkb",
	Short: "Decision evaluation and knowledge consolidation for the trading loop",
	Long: `tradingkb grades every trading decision on process quality independent
of outcome, separates skill from luck statistically, and consolidates
the day's lessons into a persistent knowledge base.`,
	SilenceUsage: true,
}

// Execute loads .env, then runs the selected subcommand.
func Execute() error {
	godotenv.Load()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config/config.yaml", "path to yaml config")
}

// loadConfig falls back to pure defaults when the default config path is
// absent, so the tool works out of the box.
func loadConfig() (config.Root, error) {
	c, err := config.Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return config.Root{}, err
	}
	return c, nil
}

type app struct {
	cfg    config.Root
	buf    *buffer.DecisionBuffer
	store  *kb.Store
	jrnl   *journal.Journal
	market broker.Client
	rev    *review.Reviewer
}

func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	caps := kb.Caps{
		BuyRules:      cfg.KB.BuyRules,
		SellRules:     cfg.KB.SellRules,
		HoldRules:     cfg.KB.HoldRules,
		RecentLessons: cfg.KB.RecentLessons,
		Lessons:       cfg.KB.Lessons,
		Patterns:      cfg.KB.Patterns,
		Errors:        cfg.KB.Errors,
		NeverRepeat:   cfg.KB.NeverRepeat,
	}
	store, err := kb.Open(cfg.KB.Root, caps)
	if err != nil {
		return nil, err
	}
	jrnl, err := journal.Open(cfg.KB.JournalPath)
	if err != nil {
		return nil, err
	}

	buf := buffer.New(cfg.KB.BufferPath)
	market := broker.Client(broker.NewHTTP(broker.Config{
		BaseURL: cfg.Broker.BaseURL,
		APIKey:  os.Getenv(cfg.Broker.APIKeyEnv),
		Timeout: time.Duration(cfg.Broker.TimeoutSeconds) * time.Second,
	}))

	var gen llm.Generator = llm.Disabled{}
	var dd dedup.Deduplicator = dedup.PatternKeyDeduplicator{}
	var lg review.LessonGenerator
	if cfg.LLM.Enabled {
		client := llm.NewClient(llm.Config{
			BaseURL:            cfg.LLM.BaseURL,
			Model:              cfg.LLM.Model,
			APIKey:             os.Getenv(cfg.LLM.APIKeyEnv),
			RateLimitPerMinute: cfg.LLM.RateLimitPerMinute,
			TimeoutSeconds:     cfg.LLM.TimeoutSeconds,
			MaxRetries:         cfg.LLM.MaxRetries,
			BackoffBaseMs:      cfg.LLM.BackoffBaseMs,
		})
		gen = client
		dd = dedup.LLMDeduplicator{Gen: gen}
		lg = review.LessonGenerator{Gen: gen}
	}

	grader := analyzer.New(analyzer.SizingBands{
		MinBuy:  cfg.Sizing.MinBuyUSD,
		MaxBuy:  cfg.Sizing.MaxBuyUSD,
		MinSell: cfg.Sizing.MinSellUSD,
		MaxSell: cfg.Sizing.MaxSellUSD,
	})

	rev := review.New(review.Config{
		SkillThreshold: cfg.Statistics.SkillThreshold,
		LuckyZ:         cfg.Statistics.LuckyZ,
		MinHistory:     cfg.Statistics.MinHistory,
		Denoise:        stats.Method(cfg.Statistics.Denoise),
	}, buf, grader, store, jrnl, market, dd, lg)

	return &app{cfg: cfg, buf: buf, store: store, jrnl: jrnl, market: market, rev: rev}, nil
}

func (a *app) close() {
	a.jrnl.Close()
}
