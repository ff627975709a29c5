package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"birdtrade/internal/exchange"
	"birdtrade/internal/expr"
	"birdtrade/internal/order"
	"birdtrade/internal/rule"
	"birdtrade/internal/social"

	"go.uber.org/zap"
)

type RuleState string

const (
	RuleSkipped RuleState = "skipped"
	RuleDone    RuleState = "done"
)

// Error kinds recorded with failed results.
const (
	KindSyntax           = "syntax"
	KindUnknownReference = "unknown_reference"
	KindEvaluation       = "evaluation"
	KindIncompleteOrder  = "incomplete_order"
	KindInvalidOrder     = "invalid_order"
	KindSubmission       = "submission"
)

type OrderResult struct {
	Index   int
	Success bool
	OrderID string
	// Fields are the resolved values sent to the exchange, when resolution
	// got that far.
	Fields map[string]string
	Err    error
	Kind   string
}

type RuleResult struct {
	RuleIndex int
	Rule      string
	PostID    string
	State     RuleState
	// Reason explains a skipped rule: condition_false or condition_error.
	Reason string
	Err    error
	Kind   string
	Orders []OrderResult
}

// Failed counts orders that were not accepted.
func (r RuleResult) Failed() int {
	n := 0
	for _, o := range r.Orders {
		if !o.Success {
			n++
		}
	}
	return n
}

type Executor struct {
	exchange     exchange.Exchange
	spec         order.FieldSpec
	currencies   map[string]bool
	orderTimeout time.Duration
	log          *zap.SugaredLogger
	runID        string
	orderSeqNum  uint64
	tracker      *OrderTracker
}

type ExecutorConfig struct {
	Spec         order.FieldSpec
	Currencies   []string
	OrderTimeout time.Duration
	// RunID prefixes generated client order ids. Empty leaves client_oid to
	// the template.
	RunID string
	// Tracker, when set, receives accepted orders that must be cancelled
	// after the rule's order_ttl or their cancel_after.
	Tracker *OrderTracker
}

func NewExecutor(ex exchange.Exchange, cfg ExecutorConfig, log *zap.SugaredLogger) *Executor {
	currencies := make(map[string]bool, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		currencies[strings.ToUpper(c)] = true
	}
	return &Executor{
		exchange:     ex,
		spec:         cfg.Spec,
		currencies:   currencies,
		orderTimeout: cfg.OrderTimeout,
		log:          log,
		runID:        cfg.RunID,
		tracker:      cfg.Tracker,
	}
}

// Execute runs one matched rule for post. The condition is checked once, then
// every order is attempted in sequence; a failed order never stops the ones
// after it.
func (e *Executor) Execute(ctx context.Context, ruleIndex int, r rule.Rule, post social.Post) RuleResult {
	res := RuleResult{RuleIndex: ruleIndex, Rule: r.String(), PostID: post.ID}
	log := e.log.With("post_id", post.ID, "rule_index", ruleIndex, "rule", r.String())
	evalCtx := NewEvalContext(ctx, e.exchange, post, e.currencies)

	holds, err := r.Condition.Holds(evalCtx)
	if err != nil {
		res.State = RuleSkipped
		res.Reason = "condition_error"
		res.Err = err
		res.Kind = ErrorKind(err)
		log.Warnw("condition failed", "condition", r.Condition.String(), "kind", res.Kind, "error", err)
		return res
	}
	if !holds {
		res.State = RuleSkipped
		res.Reason = "condition_false"
		log.Infow("condition false", "condition", r.Condition.String())
		return res
	}

	for i, tmpl := range r.Orders {
		evalCtx.NextOrder()
		result := e.executeOrder(ctx, i, r, tmpl, evalCtx)
		if result.Success {
			log.Infow("order submitted", "order", i, "order_id", result.OrderID, "fields", result.Fields)
		} else {
			log.Errorw("order failed", "order", i, "kind", result.Kind, "fields", result.Fields, "error", result.Err)
		}
		res.Orders = append(res.Orders, result)
	}
	res.State = RuleDone
	return res
}

func (e *Executor) executeOrder(ctx context.Context, index int, r rule.Rule, tmpl order.Template, env expr.Env) OrderResult {
	result := OrderResult{Index: index}
	fail := func(err error) OrderResult {
		result.Err = err
		result.Kind = ErrorKind(err)
		return result
	}

	compiled, err := order.Compile(tmpl, e.spec)
	if err != nil {
		return fail(err)
	}
	req, err := compiled.Resolve(env)
	if err != nil {
		return fail(err)
	}
	if _, ok := req.Get(order.FieldClientOID); !ok && e.runID != "" {
		fields := req.Fields()
		fields[order.FieldClientOID] = e.nextClientOrderID()
		req = order.NewRequest(fields)
	}
	result.Fields = req.Fields()

	submitCtx := ctx
	if e.orderTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, e.orderTimeout)
		defer cancel()
	}
	orderID, err := e.exchange.SubmitOrder(submitCtx, req)
	if err != nil {
		var subErr *exchange.SubmissionError
		if !errors.As(err, &subErr) {
			err = &exchange.SubmissionError{Request: req, Err: err}
		}
		return fail(err)
	}
	result.Success = true
	result.OrderID = orderID
	e.track(orderID, req, r)
	return result
}

// track hands a resting order to the tracker. cancel_after wins over the
// rule's order_ttl.
func (e *Executor) track(orderID string, req order.Request, r rule.Rule) {
	if e.tracker == nil || req.Type() == order.TypeMarket {
		return
	}
	ttl := r.OrderTTL
	if v, ok := req.Get(order.FieldCancelAfter); ok {
		d, err := order.CancelAfter(v)
		if err != nil {
			e.log.Warnw("ignoring cancel_after", "order_id", orderID, "error", err)
		} else {
			ttl = d
		}
	}
	if ttl <= 0 {
		return
	}
	e.tracker.Track(TrackedOrder{
		ID:       orderID,
		Request:  req,
		Rule:     r.String(),
		TTL:      ttl,
		Fallback: r.MarketFallback,
	})
}

func (e *Executor) nextClientOrderID() string {
	seq := atomic.AddUint64(&e.orderSeqNum, 1)
	return fmt.Sprintf("%s-%d", e.runID, seq)
}

// ErrorKind classifies a per-rule or per-order failure.
func ErrorKind(err error) string {
	var (
		syntaxErr     *expr.SyntaxError
		unknownErr    *expr.UnknownReferenceError
		evalErr       *expr.EvaluationError
		incompleteErr *order.IncompleteOrderError
		invalidErr    *order.InvalidOrderError
		submitErr     *exchange.SubmissionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &syntaxErr):
		return KindSyntax
	case errors.As(err, &unknownErr):
		return KindUnknownReference
	case errors.As(err, &evalErr):
		return KindEvaluation
	case errors.As(err, &incompleteErr):
		return KindIncompleteOrder
	case errors.As(err, &invalidErr):
		return KindInvalidOrder
	case errors.As(err, &submitErr):
		return KindSubmission
	default:
		return "unknown"
	}
}
