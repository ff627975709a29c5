package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"birdtrade/internal/config"
	"birdtrade/internal/engine"
	"birdtrade/internal/exchange"
	"birdtrade/internal/gate"
	"birdtrade/internal/logging"
	"birdtrade/internal/rule"
	"birdtrade/internal/social"
	"birdtrade/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const usage = `usage: birdtrade <command> [flags]

commands:
  trade   follow the post stream and place orders for matching rules
  check   load a rules file and print its warnings
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	switch args[0] {
	case "trade":
		return trade(args[1:])
	case "check":
		return check(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

func check(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: birdtrade check <rules.yaml>")
		return 2
	}
	settings, err := config.LoadRules(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "rules error: %v\n", err)
		return 1
	}
	for _, w := range settings.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Printf("%d rules, currencies %s\n", len(settings.Rules), strings.Join(settings.Currencies, ","))
	return 0
}

func trade(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 2
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer closeLog()
	log := logger.Sugar()

	settings, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Errorw("rules error", "error", err)
		return 1
	}
	for _, w := range settings.Warnings {
		log.Warnw("rules warning", "warning", w)
	}

	runID := generateRunID()
	log = log.With("run_id", runID)
	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath, runID)
	if err != nil {
		log.Errorw("decision logger error", "error", err)
		return 1
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			log.Warnw("failed to close decision logger", "error", err)
		}
	}()

	store := state.NewStore()
	if err := store.Load(cfg.CheckpointPath); err == nil {
		log.Infow("loaded checkpoint", "path", cfg.CheckpointPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warnw("ignoring unreadable checkpoint", "path", cfg.CheckpointPath, "error", err)
	}
	prevRunID := store.SetRunID(runID)
	if err := store.Save(cfg.CheckpointPath); err != nil {
		log.Warnw("failed to save checkpoint", "path", cfg.CheckpointPath, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	alpacaClient := exchange.NewAlpaca(exchange.AlpacaConfig{
		APIKey:            cfg.APIKey,
		APISecret:         cfg.APISecret,
		BaseURL:           cfg.ExchangeBaseURL(),
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, log.Named("alpaca"))
	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.OrderTimeout)
	err = alpacaClient.Ping(pingCtx)
	cancelPing()
	if err != nil {
		log.Errorw("exchange unreachable", "error", err)
		return 1
	}

	var ex exchange.Exchange = alpacaClient
	var orders exchange.OrderManager = alpacaClient
	if cfg.DryRun() {
		dryRun := exchange.NewDryRun(alpacaClient, log.Named("dry_run"))
		ex, orders = dryRun, dryRun
	}

	if cfg.CancelPending && prevRunID != "" {
		n, err := engine.CancelPending(ctx, orders, prevRunID+"-", log.Named("orders"))
		if err != nil {
			log.Warnw("cancel pending orders failed", "previous_run_id", prevRunID, "error", err)
		} else {
			log.Infow("pending orders checked", "previous_run_id", prevRunID, "cancelled", n)
		}
	}
	var tracker *engine.OrderTracker
	if cfg.ReconcileInterval > 0 {
		tracker = engine.NewOrderTracker()
	}

	header := http.Header{}
	if cfg.PostsToken != "" {
		header.Set("Authorization", "Bearer "+cfg.PostsToken)
	}
	stream, err := social.Open(ctx, cfg.PostsSource, social.WebSocketOptions{
		Header: header,
		Buffer: cfg.Buffer,
		Logger: log.Named("stream"),
	})
	if err != nil {
		log.Errorw("post stream unavailable", "source", cfg.PostsSource, "error", err)
		return 1
	}
	defer stream.Close()

	executor := engine.NewExecutor(ex, engine.ExecutorConfig{
		Spec:         settings.Spec,
		Currencies:   settings.Currencies,
		OrderTimeout: cfg.OrderTimeout,
		RunID:        runID,
		Tracker:      tracker,
	}, log.Named("executor"))
	loop := engine.NewLoop(engine.LoopConfig{
		Rules:      settings.Rules,
		Matcher:    rule.Matcher{EmptyFilter: cfg.EmptyFilter},
		Gate:       gate.Gate{Log: log.Named("gate")},
		MaxPostAge: cfg.MaxPostAge,
		ClockSkew:  cfg.ClockSkew,
		Workers:    cfg.Workers,
		Buffer:     cfg.Buffer,
		SkipSeen:   cfg.SkipSeen,
	}, executor, decisions, store, log.Named("loop"))

	go engine.StatusLoop(ctx, ex, store, settings.Currencies, cfg.StatusInterval, log.Named("status"))
	if tracker != nil {
		reconciler := engine.Reconciler{
			Exchange:     ex,
			Orders:       orders,
			Tracker:      tracker,
			Store:        store,
			OrderTimeout: cfg.OrderTimeout,
			Log:          log.Named("orders"),
		}
		go reconciler.Loop(ctx, cfg.ReconcileInterval)
	}

	log.Infow("starting trader", "mode", cfg.Mode, "rules", len(settings.Rules), "posts", cfg.PostsSource, "workers", cfg.Workers)
	runErr := loop.Run(ctx, stream)

	if err := store.Save(cfg.CheckpointPath); err != nil {
		log.Warnw("failed to save checkpoint", "path", cfg.CheckpointPath, "error", err)
	}
	if runErr != nil {
		log.Errorw("post stream stopped", "error", runErr)
		return 1
	}
	log.Infow("trader shutdown complete")
	return 0
}

func newLogger(cfg config.Config) (*zap.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if cfg.LogFile == "" {
		logger, err := logging.NewLogger(level)
		if err != nil {
			return nil, nil, err
		}
		return logger, func() { _ = logger.Sync() }, nil
	}
	logger, closeFile, err := logging.NewLoggerWithFile(cfg.LogFile, level)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() {
		_ = logger.Sync()
		_ = closeFile()
	}, nil
}

func generateRunID() string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	return timestamp + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}
