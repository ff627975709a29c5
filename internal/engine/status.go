package engine

import (
	"context"
	"time"

	"birdtrade/internal/exchange"
	"birdtrade/internal/state"

	"go.uber.org/zap"
)

// StatusLoop periodically logs balances for currencies and the store's
// counters until ctx is done.
func StatusLoop(ctx context.Context, ex exchange.Exchange, store *state.Store, currencies []string, interval time.Duration, log *zap.SugaredLogger) {
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
			reportOnce(ctx, ex, store, currencies, log)
		}
	}
}

func reportOnce(ctx context.Context, ex exchange.Exchange, store *state.Store, currencies []string, log *zap.SugaredLogger) {
	fields := make([]interface{}, 0, 2*len(currencies)+12)
	for _, currency := range currencies {
		amount, err := ex.Available(ctx, currency)
		if err != nil {
			log.Warnw("status balance failed", "currency", currency, "error", err)
			continue
		}
		fields = append(fields, currency, amount.String())
	}
	if store != nil {
		counters := store.Snapshot().Counters
		fields = append(fields,
			"posts", counters.Posts,
			"matched", counters.Matched,
			"orders_placed", counters.OrdersPlaced,
			"orders_failed", counters.OrdersFailed,
			"orders_expired", counters.OrdersExpired,
			"fallback_orders", counters.FallbackOrders,
		)
	}
	log.Infow("status", fields...)
}
