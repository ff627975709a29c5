package engine

import (
	"context"
	"strings"
	"sync"

	"birdtrade/internal/exchange"
	"birdtrade/internal/expr"
	"birdtrade/internal/social"

	"github.com/shopspring/decimal"
)

// EvalContext binds placeholders for one rule match. Balances are fetched on
// first reference and reused for every order of the rule; quotes are fetched
// at most once per order.
type EvalContext struct {
	ctx        context.Context
	exchange   exchange.Exchange
	vars       expr.MapEnv
	currencies map[string]bool

	mu        sync.Mutex
	available map[string]decimal.Decimal
	quotes    map[string]exchange.Quote
}

func NewEvalContext(ctx context.Context, ex exchange.Exchange, post social.Post, currencies map[string]bool) *EvalContext {
	return &EvalContext{
		ctx:      ctx,
		exchange: ex,
		vars: expr.MapEnv{
			"tweet":  expr.String(post.Text),
			"text":   expr.String(post.Text),
			"author": expr.String(post.Author),
		},
		currencies: currencies,
		available:  map[string]decimal.Decimal{},
		quotes:     map[string]exchange.Quote{},
	}
}

func (c *EvalContext) Resolve(ref expr.Reference) (expr.Value, error) {
	switch ref.Name {
	case "available":
		if ref.Key == "" {
			break
		}
		d, err := c.balance(ref)
		if err != nil {
			return expr.Value{}, err
		}
		return expr.Number(d), nil
	case "inside_bid", "inside_ask":
		if ref.Key == "" {
			return expr.Value{}, &expr.UnknownReferenceError{Ref: ref.String() + " outside an order"}
		}
		q, err := c.quote(ref)
		if err != nil {
			return expr.Value{}, err
		}
		if ref.Name == "inside_bid" {
			return expr.Number(q.Bid), nil
		}
		return expr.Number(q.Ask), nil
	}
	return c.vars.Resolve(ref)
}

// NextOrder forgets quotes so the next order sees fresh prices. Balances are
// kept.
func (c *EvalContext) NextOrder() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes = map[string]exchange.Quote{}
}

func (c *EvalContext) balance(ref expr.Reference) (decimal.Decimal, error) {
	currency := strings.ToUpper(ref.Key)
	if !c.currencies[currency] {
		return decimal.Decimal{}, &expr.UnknownReferenceError{Ref: ref.String()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.available[currency]; ok {
		return d, nil
	}
	d, err := c.exchange.Available(c.ctx, currency)
	if err != nil {
		return decimal.Decimal{}, &expr.EvaluationError{Msg: "fetch available " + currency, Err: err}
	}
	c.available[currency] = d
	return d, nil
}

func (c *EvalContext) quote(ref expr.Reference) (exchange.Quote, error) {
	productID := strings.ToUpper(ref.Key)
	base, quote, err := exchange.SplitProduct(productID)
	if err != nil || !c.currencies[base] || !c.currencies[quote] {
		return exchange.Quote{}, &expr.UnknownReferenceError{Ref: ref.String()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.quotes[productID]; ok {
		return q, nil
	}
	q, err := c.exchange.Quote(c.ctx, productID)
	if err != nil {
		return exchange.Quote{}, &expr.EvaluationError{Msg: "fetch quote " + productID, Err: err}
	}
	c.quotes[productID] = q
	return q, nil
}
