package exchange

import (
	"context"
	"fmt"
	"sync/atomic"

	"birdtrade/internal/order"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DryRun reads balances and quotes from the wrapped exchange but never
// places orders.
type DryRun struct {
	inner Exchange
	seq   atomic.Int64
	log   *zap.SugaredLogger
}

func NewDryRun(inner Exchange, log *zap.SugaredLogger) *DryRun {
	return &DryRun{inner: inner, log: log}
}

func (d *DryRun) Available(ctx context.Context, currency string) (decimal.Decimal, error) {
	return d.inner.Available(ctx, currency)
}

func (d *DryRun) Quote(ctx context.Context, productID string) (Quote, error) {
	return d.inner.Quote(ctx, productID)
}

func (d *DryRun) SubmitOrder(ctx context.Context, req order.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &SubmissionError{Request: req, Err: err}
	}
	id := fmt.Sprintf("dry-run-%d", d.seq.Add(1))
	d.log.Infow("dry run order", "order_id", id, "order", req.String())
	return id, nil
}

// OpenOrders is empty: nothing is ever placed.
func (d *DryRun) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	return nil, ctx.Err()
}

func (d *DryRun) CancelOrder(ctx context.Context, orderID string) error {
	d.log.Infow("dry run cancel", "order_id", orderID)
	return ctx.Err()
}
