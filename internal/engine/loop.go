package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"birdtrade/internal/gate"
	"birdtrade/internal/rule"
	"birdtrade/internal/social"
	"birdtrade/internal/state"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Recorder receives every rule result.
type Recorder interface {
	Record(author string, res RuleResult)
}

type LoopConfig struct {
	Rules      []rule.Rule
	Matcher    rule.Matcher
	Gate       gate.Gate
	MaxPostAge time.Duration
	ClockSkew  time.Duration
	// Workers bounds how many rule executions run at once.
	Workers int
	// Buffer is how many posts may wait between the stream and the workers.
	Buffer   int
	SkipSeen bool
}

type Loop struct {
	cfg      LoopConfig
	executor *Executor
	recorder Recorder
	store    *state.Store
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewLoop(cfg LoopConfig, executor *Executor, recorder Recorder, store *state.Store, log *zap.SugaredLogger) *Loop {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if store == nil {
		store = state.NewStore()
	}
	return &Loop{
		cfg:      cfg,
		executor: executor,
		recorder: recorder,
		store:    store,
		log:      log,
		now:      time.Now,
	}
}

// Run consumes stream until it ends or ctx is done. Rule executions already
// started when ctx ends run to completion before Run returns. A clean end of
// stream returns nil; a lost connection returns social.ErrDisconnected.
func (l *Loop) Run(ctx context.Context, stream social.Stream) error {
	posts := make(chan social.Post, l.cfg.Buffer)
	readErr := make(chan error, 1)
	go func() {
		defer close(posts)
		readErr <- l.read(ctx, stream, posts)
	}()

	var workers errgroup.Group
	workers.SetLimit(l.cfg.Workers)
	jobCtx := context.WithoutCancel(ctx)

	// A reader blocked in a read that ignores ctx (stdin) must not hold up
	// shutdown, so the dispatcher watches ctx itself.
	stopped := false
consume:
	for {
		select {
		case post, ok := <-posts:
			if !ok {
				break consume
			}
			l.dispatch(jobCtx, &workers, post)
		case <-ctx.Done():
			stopped = true
			break consume
		}
	}
	if n := len(posts); stopped && n > 0 {
		l.log.Warnw("shutdown: buffered posts not processed", "count", n)
	}

	_ = workers.Wait()
	if stopped {
		select {
		case err := <-readErr:
			return err
		default:
			return nil
		}
	}
	return <-readErr
}

func (l *Loop) read(ctx context.Context, stream social.Stream, out chan<- social.Post) error {
	for {
		post, err := stream.Next(ctx)
		if err != nil {
			var decodeErr *social.DecodeError
			switch {
			case ctx.Err() != nil:
				l.log.Infow("stream consumption stopped", "reason", ctx.Err())
				return nil
			case errors.Is(err, io.EOF):
				l.log.Infow("stream ended")
				return nil
			case errors.As(err, &decodeErr):
				l.log.Warnw("skipping undecodable post", "error", err)
				continue
			case errors.Is(err, social.ErrDisconnected):
				l.log.Errorw("stream disconnected", "error", err)
				return err
			default:
				l.log.Errorw("stream read failed", "error", err)
				return fmt.Errorf("read post stream: %w", err)
			}
		}

		select {
		case out <- post:
		case <-ctx.Done():
			l.log.Warnw("shutdown: post not processed", "post_id", post.ID, "author", post.Author)
			return nil
		}
	}
}

// dispatch matches post against every rule in stream order and hands each
// match to a worker. It blocks while all workers are busy.
func (l *Loop) dispatch(ctx context.Context, workers *errgroup.Group, post social.Post) {
	log := l.log.With("post_id", post.ID, "author", post.Author)
	if l.cfg.SkipSeen && l.store.Seen(post) {
		log.Infow("skipping seen post")
		return
	}
	l.store.Observe(post, l.now())

	now := l.now()
	matched := 0
	for i, r := range l.cfg.Rules {
		if !l.cfg.Matcher.Match(r, post) {
			continue
		}
		ttl := r.PostTTL
		if ttl == 0 {
			ttl = l.cfg.MaxPostAge
		}
		approved, err := l.cfg.Gate.Evaluate(post, gate.GateContext{
			Now:          now,
			PostTTL:      ttl,
			AllowReplies: r.AllowReplies,
			ClockSkew:    l.cfg.ClockSkew,
		})
		if err != nil {
			log.Infow("rule gated", "rule_index", i, "rule", r.String(), "reason", err.Error())
			continue
		}
		log.Debugw("rule matched", "rule_index", i, "rule", r.String(), "gate", approved.Reason)

		matched++
		workers.Go(func() error {
			l.runRule(ctx, i, r, post)
			return nil
		})
	}
	if matched == 0 {
		log.Debugw("no rule matched")
		return
	}
	l.store.AddMatched(int64(matched))
}

func (l *Loop) runRule(ctx context.Context, index int, r rule.Rule, post social.Post) {
	defer func() {
		if p := recover(); p != nil {
			l.log.Errorw("rule execution panicked", "post_id", post.ID, "rule_index", index, "rule", r.String(), "panic", p)
		}
	}()
	res := l.executor.Execute(ctx, index, r, post)
	failed := res.Failed()
	l.store.AddOrders(int64(len(res.Orders)-failed), int64(failed))
	if l.recorder != nil {
		l.recorder.Record(post.Author, res)
	}
}
