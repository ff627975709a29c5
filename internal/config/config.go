package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"birdtrade/internal/rule"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeLive  Mode = "live"
	ModePaper Mode = "paper"
)

type Config struct {
	Mode              Mode
	RulesPath         string
	PostsSource       string
	PostsToken        string
	Workers           int
	Buffer            int
	OrderTimeout      time.Duration
	StatusInterval    time.Duration
	EmptyFilter       rule.EmptyFilterPolicy
	MaxPostAge        time.Duration
	ClockSkew         time.Duration
	ReconcileInterval time.Duration
	CancelPending     bool
	DecisionsPath     string
	CheckpointPath    string
	SkipSeen          bool
	LogFile           string
	LogLevel          string
	BaseURL           string
	PaperBaseURL      string
	RequestsPerSecond float64
	APIKey            string
	APISecret         string
}

// Load parses the trade command's flags, reads .env without overriding the
// environment, and validates the result.
func Load(args []string) (Config, error) {
	var cfg Config
	var mode, emptyFilter, envFile string

	flags := flag.NewFlagSet("trade", flag.ContinueOnError)
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file with credentials")
	flags.StringVar(&mode, "mode", string(ModePaper), "run mode: live or paper")
	flags.StringVar(&cfg.RulesPath, "rules", "rules.yaml", "path to rules file")
	flags.StringVar(&cfg.PostsSource, "posts", "", "post stream: ws:// or wss:// URL, NDJSON file, or - for stdin")
	flags.IntVar(&cfg.Workers, "workers", 4, "max rule executions in flight")
	flags.IntVar(&cfg.Buffer, "buffer", 64, "posts buffered between stream and workers")
	flags.DurationVar(&cfg.OrderTimeout, "order-timeout", 10*time.Second, "timeout per order submission")
	flags.DurationVar(&cfg.StatusInterval, "status-interval", time.Hour, "balance report interval, 0 disables")
	flags.StringVar(&emptyFilter, "empty-filter", string(rule.EmptyFilterDisabled), "rules without handles or keywords: disabled or all")
	flags.DurationVar(&cfg.MaxPostAge, "max-post-age", 10*time.Minute, "ignore posts older than this unless a rule sets post_ttl")
	flags.DurationVar(&cfg.ClockSkew, "clock-skew", time.Minute, "accept posts stamped up to this far in the future")
	flags.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", time.Minute, "open order check for order_ttl and cancel_after, 0 disables")
	flags.BoolVar(&cfg.CancelPending, "cancel-pending", true, "cancel the previous run's open orders at startup")
	flags.StringVar(&cfg.DecisionsPath, "decisions-path", "decisions.ndjson", "path to decisions log")
	flags.StringVar(&cfg.CheckpointPath, "checkpoint-path", "checkpoint.json", "path to checkpoint file")
	flags.BoolVar(&cfg.SkipSeen, "skip-seen", false, "ignore posts not newer than the checkpoint for their author")
	flags.StringVar(&cfg.LogFile, "log-file", "", "also write logs to this file")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&cfg.BaseURL, "base-url", "https://api.alpaca.markets", "live trading base URL")
	flags.StringVar(&cfg.PaperBaseURL, "paper-base-url", "https://paper-api.alpaca.markets", "paper trading base URL")
	flags.Float64Var(&cfg.RequestsPerSecond, "requests-per-second", 3, "exchange API request rate")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	if err := loadDotEnv(envFile); err != nil {
		return cfg, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg.Mode = Mode(mode)
	cfg.EmptyFilter = rule.EmptyFilterPolicy(emptyFilter)
	cfg.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.APISecret = os.Getenv("APCA_API_SECRET_KEY")
	cfg.PostsToken = os.Getenv("POSTS_STREAM_TOKEN")
	if cfg.PostsSource == "" {
		cfg.PostsSource = os.Getenv("POSTS_STREAM_URL")
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ExchangeBaseURL is the trading endpoint for the configured mode.
func (c Config) ExchangeBaseURL() string {
	if c.Mode == ModePaper {
		return c.PaperBaseURL
	}
	return c.BaseURL
}

// DryRun reports whether orders are logged instead of submitted.
func (c Config) DryRun() bool {
	return c.Mode == ModePaper
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func validate(cfg Config) error {
	if cfg.Mode != ModeLive && cfg.Mode != ModePaper {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	if cfg.RulesPath == "" {
		return fmt.Errorf("rules path is required")
	}
	if cfg.PostsSource == "" {
		return fmt.Errorf("posts source is required")
	}
	if _, err := rule.ParseEmptyFilterPolicy(string(cfg.EmptyFilter)); err != nil {
		return err
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if cfg.Buffer < 0 {
		return fmt.Errorf("buffer must be >= 0")
	}
	if cfg.OrderTimeout <= 0 {
		return fmt.Errorf("order-timeout must be > 0")
	}
	if cfg.StatusInterval < 0 {
		return fmt.Errorf("status-interval must be >= 0")
	}
	if cfg.MaxPostAge < 0 {
		return fmt.Errorf("max-post-age must be >= 0")
	}
	if cfg.ClockSkew < 0 {
		return fmt.Errorf("clock-skew must be >= 0")
	}
	if cfg.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile-interval must be >= 0")
	}
	if cfg.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests-per-second must be > 0")
	}
	for _, u := range []string{cfg.BaseURL, cfg.PaperBaseURL} {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid base URL: %q", u)
		}
	}
	return nil
}
