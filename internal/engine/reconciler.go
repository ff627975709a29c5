package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"birdtrade/internal/exchange"
	"birdtrade/internal/order"
	"birdtrade/internal/state"

	"go.uber.org/zap"
)

// TrackedOrder is an accepted order that must not rest past TTL.
type TrackedOrder struct {
	ID       string
	Request  order.Request
	Rule     string
	TTL      time.Duration
	Fallback bool
	PlacedAt time.Time
}

// OrderTracker remembers orders with a time limit until they leave the book
// or expire.
type OrderTracker struct {
	mu     sync.Mutex
	orders map[string]TrackedOrder
	now    func() time.Time
}

func NewOrderTracker() *OrderTracker {
	return &OrderTracker{orders: map[string]TrackedOrder{}, now: time.Now}
}

func (t *OrderTracker) Track(o TrackedOrder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o.PlacedAt.IsZero() {
		o.PlacedAt = t.now()
	}
	t.orders[o.ID] = o
}

func (t *OrderTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.orders)
}

type expiredOrder struct {
	tracked TrackedOrder
	open    exchange.OpenOrder
}

// sweep forgets orders that are no longer open and removes and returns the
// ones past their TTL.
func (t *OrderTracker) sweep(open map[string]exchange.OpenOrder) []expiredOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var expired []expiredOrder
	for id, tracked := range t.orders {
		o, ok := open[id]
		if !ok {
			delete(t.orders, id)
			continue
		}
		if now.Sub(tracked.PlacedAt) >= tracked.TTL {
			delete(t.orders, id)
			expired = append(expired, expiredOrder{tracked: tracked, open: o})
		}
	}
	return expired
}

// CancelPending cancels open orders whose client order id starts with
// prefix. It returns how many were cancelled.
func CancelPending(ctx context.Context, orders exchange.OrderManager, prefix string, log *zap.SugaredLogger) (int, error) {
	if prefix == "" {
		return 0, nil
	}
	open, err := orders.OpenOrders(ctx)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, o := range open {
		if !strings.HasPrefix(o.ClientOrderID, prefix) {
			continue
		}
		if err := orders.CancelOrder(ctx, o.ID); err != nil {
			log.Errorw("cancel pending order failed", "order_id", o.ID, "client_order_id", o.ClientOrderID, "error", err)
			continue
		}
		log.Warnw("cancelled pending order", "order_id", o.ID, "client_order_id", o.ClientOrderID, "product_id", o.ProductID)
		cancelled++
	}
	return cancelled, nil
}

// Reconciler cancels tracked orders that outlived their TTL and, for rules
// with market_fallback, replaces the unfilled size with a market order.
type Reconciler struct {
	Exchange     exchange.Exchange
	Orders       exchange.OrderManager
	Tracker      *OrderTracker
	Store        *state.Store
	OrderTimeout time.Duration
	Log          *zap.SugaredLogger
}

func (r Reconciler) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r Reconciler) reconcileOnce(ctx context.Context) {
	if r.Tracker.Len() == 0 {
		return
	}
	orders, err := r.Orders.OpenOrders(ctx)
	if err != nil {
		r.Log.Warnw("reconcile open orders failed", "error", err)
		return
	}
	open := make(map[string]exchange.OpenOrder, len(orders))
	for _, o := range orders {
		open[o.ID] = o
	}

	var expired, fallbacks int64
	for _, e := range r.Tracker.sweep(open) {
		log := r.Log.With("order_id", e.tracked.ID, "rule", e.tracked.Rule, "ttl", e.tracked.TTL)
		if err := r.Orders.CancelOrder(ctx, e.tracked.ID); err != nil {
			log.Errorw("cancel expired order failed", "error", err)
			continue
		}
		expired++
		log.Warnw("order expired and cancelled", "filled", e.open.Filled.String())

		if !e.tracked.Fallback || e.tracked.Request.Type() != order.TypeLimit {
			continue
		}
		if r.placeFallback(ctx, e, log) {
			fallbacks++
		}
	}
	if r.Store != nil && (expired > 0 || fallbacks > 0) {
		r.Store.AddExpired(expired, fallbacks)
	}
}

func (r Reconciler) placeFallback(ctx context.Context, e expiredOrder, log *zap.SugaredLogger) bool {
	remaining := e.open.Remaining()
	if e.open.Size.IsZero() {
		size, ok, err := e.tracked.Request.Decimal(order.FieldSize)
		if err != nil || !ok {
			log.Errorw("market fallback has no size", "error", err)
			return false
		}
		remaining = size.Sub(e.open.Filled)
	}
	if !remaining.IsPositive() {
		return false
	}

	fields := map[string]string{
		order.FieldProductID: e.tracked.Request.ProductID(),
		order.FieldSide:      e.tracked.Request.Side(),
		order.FieldType:      order.TypeMarket,
		order.FieldSize:      remaining.String(),
	}
	if oid, ok := e.tracked.Request.Get(order.FieldClientOID); ok {
		fields[order.FieldClientOID] = oid + "-fb"
	}
	req := order.NewRequest(fields)

	submitCtx := ctx
	if r.OrderTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, r.OrderTimeout)
		defer cancel()
	}
	id, err := r.Exchange.SubmitOrder(submitCtx, req)
	if err != nil {
		log.Errorw("market fallback failed", "order", req.String(), "error", err)
		return false
	}
	log.Infow("market fallback submitted", "fallback_order_id", id, "order", req.String())
	return true
}
