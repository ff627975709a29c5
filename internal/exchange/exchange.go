package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"birdtrade/internal/order"

	"github.com/shopspring/decimal"
)

// DefaultCurrencies are always recognized in {available[...]} placeholders.
var DefaultCurrencies = []string{"BTC", "ETH", "LTC", "USD"}

type Quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Exchange is the account and market the rules trade against.
type Exchange interface {
	Available(ctx context.Context, currency string) (decimal.Decimal, error)
	Quote(ctx context.Context, productID string) (Quote, error)
	SubmitOrder(ctx context.Context, req order.Request) (string, error)
}

// OpenOrder is an order still resting on the book.
type OpenOrder struct {
	ID            string
	ClientOrderID string
	ProductID     string
	Side          string
	Type          string
	Size          decimal.Decimal
	Filled        decimal.Decimal
	SubmittedAt   time.Time
}

// Remaining is the unfilled part of the order.
func (o OpenOrder) Remaining() decimal.Decimal {
	return o.Size.Sub(o.Filled)
}

// OrderManager lists and cancels resting orders.
type OrderManager interface {
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// SubmissionError wraps a transport failure, timeout or rejection of an order.
type SubmissionError struct {
	Request order.Request
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit order %s %s: %v", e.Request.Side(), e.Request.ProductID(), e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// JoinProduct is the inverse of SplitProduct.
func JoinProduct(base, quote string) string {
	return strings.ToUpper(base) + "-" + strings.ToUpper(quote)
}

// SplitProduct splits "ETH-USD" into base and quote currencies.
func SplitProduct(productID string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(strings.ToUpper(productID), "-")
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("invalid product id %q", productID)
	}
	return base, quote, nil
}
