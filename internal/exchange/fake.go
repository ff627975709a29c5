package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"birdtrade/internal/order"

	"github.com/shopspring/decimal"
)

// Fake is an in-memory exchange for tests and offline replays.
type Fake struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	quotes    map[string]Quote
	failures  map[int]error
	submitted []order.Request
	attempts  int
	lookups   map[string]int
	open      []OpenOrder
	cancelled []string
	// SubmitHook runs before each submission is recorded; a non-nil error
	// fails it.
	SubmitHook func(ctx context.Context, req order.Request) error
}

func NewFake() *Fake {
	return &Fake{
		balances: map[string]decimal.Decimal{},
		quotes:   map[string]Quote{},
		failures: map[int]error{},
		lookups:  map[string]int{},
	}
}

func (f *Fake) SetBalance(currency string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[strings.ToUpper(currency)] = amount
}

func (f *Fake) SetQuote(productID string, q Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[strings.ToUpper(productID)] = q
}

// FailSubmission makes the n-th submission attempt (1-based) fail with err.
func (f *Fake) FailSubmission(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[n] = err
}

func (f *Fake) Available(ctx context.Context, currency string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Decimal{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	currency = strings.ToUpper(currency)
	f.lookups[currency]++
	return f.balances[currency], nil
}

func (f *Fake) Quote(ctx context.Context, productID string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[strings.ToUpper(productID)]
	if !ok {
		return Quote{}, fmt.Errorf("no quote for %s", productID)
	}
	return q, nil
}

func (f *Fake) SubmitOrder(ctx context.Context, req order.Request) (string, error) {
	f.mu.Lock()
	f.attempts++
	n := f.attempts
	failure := f.failures[n]
	hook := f.SubmitHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return "", &SubmissionError{Request: req, Err: err}
		}
	}
	if failure != nil {
		return "", &SubmissionError{Request: req, Err: failure}
	}
	if err := ctx.Err(); err != nil {
		return "", &SubmissionError{Request: req, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	id := fmt.Sprintf("fake-%d", n)
	if t := req.Type(); t == order.TypeLimit || t == order.TypeStop {
		size, _, _ := req.Decimal(order.FieldSize)
		oid, _ := req.Get(order.FieldClientOID)
		f.open = append(f.open, OpenOrder{
			ID:            id,
			ClientOrderID: oid,
			ProductID:     req.ProductID(),
			Side:          req.Side(),
			Type:          t,
			Size:          size,
			SubmittedAt:   time.Now(),
		})
	}
	return id, nil
}

// AddOpenOrder puts an order on the book as if an earlier process placed it.
func (f *Fake) AddOpenOrder(o OpenOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = append(f.open, o)
}

// Fill records a partial fill; a full fill takes the order off the book.
func (f *Fake) Fill(orderID string, qty decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.open {
		if f.open[i].ID != orderID {
			continue
		}
		f.open[i].Filled = f.open[i].Filled.Add(qty)
		if !f.open[i].Remaining().IsPositive() {
			f.open = append(f.open[:i], f.open[i+1:]...)
		}
		return
	}
}

func (f *Fake) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OpenOrder, len(f.open))
	copy(out, f.open)
	return out, nil
}

func (f *Fake) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.open {
		if f.open[i].ID == orderID {
			f.open = append(f.open[:i], f.open[i+1:]...)
			f.cancelled = append(f.cancelled, orderID)
			return nil
		}
	}
	return fmt.Errorf("order %s is not open", orderID)
}

// Cancelled returns the ids of cancelled orders in order.
func (f *Fake) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// Submitted returns the accepted orders in submission order.
func (f *Fake) Submitted() []order.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]order.Request, len(f.submitted))
	copy(out, f.submitted)
	return out
}

func (f *Fake) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// Lookups reports how many times Available was asked for currency.
func (f *Fake) Lookups(currency string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups[strings.ToUpper(currency)]
}
