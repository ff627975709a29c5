package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"birdtrade/internal/order"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AlpacaIgnoredFields are order fields Alpaca crypto orders have no
// equivalent for. They are dropped from submitted orders.
var AlpacaIgnoredFields = map[string]bool{
	order.FieldPostOnly:         true,
	order.FieldSTP:              true,
	order.FieldOverdraftEnabled: true,
	order.FieldFundingAmount:    true,
}

type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	// RequestsPerSecond bounds calls across balances, quotes and orders.
	RequestsPerSecond float64
	Burst             int
	// CashCurrency is reported from account cash rather than a position.
	CashCurrency string
}

// Alpaca trades crypto pairs through the Alpaca trading and market data APIs.
type Alpaca struct {
	trading *alpaca.Client
	data    *marketdata.Client
	limiter *rate.Limiter
	cash    string
	log     *zap.SugaredLogger
}

func NewAlpaca(cfg AlpacaConfig, log *zap.SugaredLogger) *Alpaca {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.CashCurrency == "" {
		cfg.CashCurrency = "USD"
	}
	return &Alpaca{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cash:    strings.ToUpper(cfg.CashCurrency),
		log:     log,
	}
}

// Ping checks credentials and connectivity.
func (a *Alpaca) Ping(ctx context.Context) error {
	_, err := a.account(ctx)
	return err
}

func (a *Alpaca) Available(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if currency == a.cash {
		acct, err := a.account(ctx)
		if err != nil {
			return decimal.Decimal{}, err
		}
		a.log.Debugw("cash fetched", "currency", currency, "cash", acct.Cash)
		return acct.Cash, nil
	}

	symbol := currency + a.cash
	pos, err := call(ctx, a.limiter, func() (*alpaca.Position, error) {
		return a.trading.GetPosition(symbol)
	})
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return decimal.Zero, nil
		}
		a.log.Errorw("fetch position failed", "symbol", symbol, "error", err)
		return decimal.Decimal{}, fmt.Errorf("fetch %s position: %w", symbol, err)
	}
	a.log.Debugw("position fetched", "symbol", symbol, "qty", pos.Qty)
	return pos.Qty, nil
}

func (a *Alpaca) Quote(ctx context.Context, productID string) (Quote, error) {
	symbol, err := cryptoSymbol(productID)
	if err != nil {
		return Quote{}, err
	}
	q, err := call(ctx, a.limiter, func() (*marketdata.CryptoQuote, error) {
		return a.data.GetLatestCryptoQuote(symbol, marketdata.GetLatestCryptoQuoteRequest{})
	})
	if err != nil {
		a.log.Errorw("fetch quote failed", "symbol", symbol, "error", err)
		return Quote{}, fmt.Errorf("fetch %s quote: %w", symbol, err)
	}
	return Quote{
		Bid: decimal.NewFromFloat(q.BidPrice),
		Ask: decimal.NewFromFloat(q.AskPrice),
	}, nil
}

type placed struct {
	order *alpaca.Order
	err   error
}

// SubmitOrder places the order and waits until ctx is done. A reply that
// arrives after the deadline is still logged.
func (a *Alpaca) SubmitOrder(ctx context.Context, req order.Request) (string, error) {
	orderReq, err := placeOrderRequest(req)
	if err != nil {
		return "", &SubmissionError{Request: req, Err: err}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return "", &SubmissionError{Request: req, Err: err}
	}

	done := make(chan placed, 1)
	go func() {
		o, err := a.trading.PlaceOrder(orderReq)
		done <- placed{order: o, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			a.log.Errorw("place order failed", "side", orderReq.Side, "symbol", orderReq.Symbol, "type", orderReq.Type, "error", res.err)
			return "", &SubmissionError{Request: req, Err: res.err}
		}
		a.log.Infow("place order success", "order_id", res.order.ID, "side", orderReq.Side, "symbol", orderReq.Symbol, "type", orderReq.Type, "status", res.order.Status)
		return res.order.ID, nil
	case <-ctx.Done():
		go func() {
			res := <-done
			if res.err != nil {
				a.log.Warnw("late order reply: failed", "symbol", orderReq.Symbol, "side", orderReq.Side, "error", res.err)
				return
			}
			a.log.Warnw("late order reply: accepted after timeout", "order_id", res.order.ID, "symbol", orderReq.Symbol, "side", orderReq.Side, "status", res.order.Status)
		}()
		return "", &SubmissionError{Request: req, Err: ctx.Err()}
	}
}

func (a *Alpaca) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	orders, err := call(ctx, a.limiter, func() ([]alpaca.Order, error) {
		return a.trading.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	})
	if err != nil {
		a.log.Errorw("fetch open orders failed", "error", err)
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	a.log.Debugw("open orders fetched", "count", len(orders))
	out := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		open := OpenOrder{
			ID:            o.ID,
			ClientOrderID: o.ClientOrderID,
			ProductID:     productID(o.Symbol),
			Side:          string(o.Side),
			Type:          string(o.Type),
			Filled:        o.FilledQty,
			SubmittedAt:   o.SubmittedAt,
		}
		if o.Qty != nil {
			open.Size = *o.Qty
		}
		out = append(out, open)
	}
	return out, nil
}

func (a *Alpaca) CancelOrder(ctx context.Context, orderID string) error {
	_, err := call(ctx, a.limiter, func() (struct{}, error) {
		return struct{}{}, a.trading.CancelOrder(orderID)
	})
	if err != nil {
		a.log.Errorw("cancel order failed", "order_id", orderID, "error", err)
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	a.log.Infow("order cancelled", "order_id", orderID)
	return nil
}

func (a *Alpaca) account(ctx context.Context) (*alpaca.Account, error) {
	acct, err := call(ctx, a.limiter, a.trading.GetAccount)
	if err != nil {
		a.log.Errorw("fetch account failed", "error", err)
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	return acct, nil
}

// call runs fn after the limiter admits it and abandons the wait when ctx ends.
func call[T any](ctx context.Context, limiter *rate.Limiter, fn func() (T, error)) (T, error) {
	var zero T
	if err := limiter.Wait(ctx); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func cryptoSymbol(productID string) (string, error) {
	base, quote, err := SplitProduct(productID)
	if err != nil {
		return "", err
	}
	return base + "/" + quote, nil
}

// productID turns "ETH/USD" back into "ETH-USD".
func productID(symbol string) string {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok {
		return symbol
	}
	return JoinProduct(base, quote)
}

func placeOrderRequest(req order.Request) (alpaca.PlaceOrderRequest, error) {
	symbol, err := cryptoSymbol(req.ProductID())
	if err != nil {
		return alpaca.PlaceOrderRequest{}, err
	}
	out := alpaca.PlaceOrderRequest{
		Symbol: symbol,
		Side:   alpaca.Side(req.Side()),
	}
	if v, ok := req.Get(order.FieldClientOID); ok {
		out.ClientOrderID = v
	}

	tif, err := timeInForce(req)
	if err != nil {
		return alpaca.PlaceOrderRequest{}, err
	}
	out.TimeInForce = tif

	size, hasSize, err := req.Decimal(order.FieldSize)
	if err != nil {
		return alpaca.PlaceOrderRequest{}, err
	}
	if hasSize {
		out.Qty = &size
	}
	funds, hasFunds, err := req.Decimal(order.FieldFunds)
	if err != nil {
		return alpaca.PlaceOrderRequest{}, err
	}
	if hasFunds && !hasSize {
		out.Notional = &funds
	}
	price, hasPrice, err := req.Decimal(order.FieldPrice)
	if err != nil {
		return alpaca.PlaceOrderRequest{}, err
	}

	switch req.Type() {
	case order.TypeLimit:
		out.Type = alpaca.Limit
		out.LimitPrice = &price
	case order.TypeMarket:
		out.Type = alpaca.Market
	case order.TypeStop:
		out.Type = alpaca.Stop
		if !hasPrice {
			return alpaca.PlaceOrderRequest{}, fmt.Errorf("stop order needs a price")
		}
		out.StopPrice = &price
	default:
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("unsupported order type %q", req.Type())
	}
	return out, nil
}

func timeInForce(req order.Request) (alpaca.TimeInForce, error) {
	v, ok := req.Get(order.FieldTimeInForce)
	if !ok {
		return alpaca.GTC, nil
	}
	switch strings.ToLower(v) {
	// gtt orders rest as gtc; their cancel_after is enforced by the bot.
	case "gtc", "gtt":
		return alpaca.GTC, nil
	case "ioc":
		return alpaca.IOC, nil
	case "fok":
		return alpaca.FOK, nil
	case "day":
		return alpaca.Day, nil
	default:
		return "", fmt.Errorf("unsupported time in force: %s", v)
	}
}
