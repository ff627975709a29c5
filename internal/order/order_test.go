package order

import (
	"testing"
	"time"

	"birdtrade/internal/expr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env() expr.MapEnv {
	return expr.MapEnv{
		"tweet":               expr.String("going long on everything"),
		"available[USD]":      expr.Number(decimal.RequireFromString("1000")),
		"available[BTC]":      expr.Number(decimal.RequireFromString("0.123456789")),
		"inside_bid[ETH-BTC]": expr.Number(decimal.RequireFromString("0.0512345")),
		"inside_ask[BTC-USD]": expr.Number(decimal.RequireFromString("250")),
	}
}

func mustTemplate(t *testing.T, raw map[string]string) Template {
	t.Helper()
	tmpl, err := NewTemplate(raw)
	require.NoError(t, err)
	return tmpl
}

func TestParseFieldClassification(t *testing.T) {
	assert.False(t, ParseField(FieldSize, "0.01").IsExpression())
	assert.True(t, ParseField(FieldSize, "1000/2").IsExpression())
	assert.True(t, ParseField(FieldFunds, "{available[USD]}/2").IsExpression())
	assert.False(t, ParseField(FieldSide, "buy").IsExpression())
	assert.True(t, ParseField(FieldSide, "{side}").IsExpression())
}

func TestNewTemplateRejectsInvalidConfiguration(t *testing.T) {
	_, err := NewTemplate(map[string]string{"side": "buy", "leverage": "10"})
	assert.ErrorContains(t, err, "leverage")

	_, err = NewTemplate(map[string]string{"side": "hold"})
	assert.Error(t, err)

	_, err = NewTemplate(map[string]string{"type": "iceberg"})
	assert.Error(t, err)

	_, err = NewTemplate(map[string]string{"cancel_after": "week"})
	assert.ErrorContains(t, err, "cancel_after")
}

func TestCancelAfter(t *testing.T) {
	d, err := CancelAfter("hour")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)
	_, err = CancelAfter("")
	assert.Error(t, err)
}

func TestCompileFillsDefaults(t *testing.T) {
	spec := DefaultFieldSpec()
	spec.Defaults[FieldSize] = "0.01"

	compiled, err := Compile(mustTemplate(t, map[string]string{
		"product_id": "BTC-USD",
		"side":       "buy",
	}), spec)
	require.NoError(t, err)

	size, ok := compiled.Field(FieldSize)
	require.True(t, ok)
	assert.Equal(t, "0.01", size.Text())
	typ, _ := compiled.Field(FieldType)
	assert.Equal(t, TypeLimit, typ.Text())
}

func TestCompileTemplateOverridesDefault(t *testing.T) {
	spec := DefaultFieldSpec()
	spec.Defaults[FieldSize] = "0.01"

	compiled, err := Compile(mustTemplate(t, map[string]string{
		"product_id": "BTC-USD",
		"side":       "buy",
		"size":       "{available[USD]}/2",
	}), spec)
	require.NoError(t, err)

	size, _ := compiled.Field(FieldSize)
	assert.True(t, size.IsExpression())
	assert.Equal(t, "{available[USD]}/2", size.Text())
}

func TestCompileMissingRequiredField(t *testing.T) {
	spec := DefaultFieldSpec()
	_, err := Compile(mustTemplate(t, map[string]string{"size": "1"}), spec)

	var incomplete *IncompleteOrderError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{FieldProductID, FieldSide}, incomplete.Missing)
}

func TestResolveMarketFundsOrder(t *testing.T) {
	compiled, err := Compile(mustTemplate(t, map[string]string{
		"product_id": "ETH-USD",
		"side":       "buy",
		"type":       "market",
		"funds":      "{available[USD]}/2",
		"price":      "100",
		"post_only":  "true",
	}), DefaultFieldSpec())
	require.NoError(t, err)

	req, err := compiled.Resolve(env())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"product_id": "ETH-USD",
		"side":       "buy",
		"type":       "market",
		"funds":      "500",
	}, req.Fields())
}

func TestResolveRoundsDown(t *testing.T) {
	compiled, err := Compile(mustTemplate(t, map[string]string{
		"product_id": "ETH-BTC",
		"side":       "sell",
		"price":      "{inside_bid}",
		"size":       "{available[BTC]}",
	}), DefaultFieldSpec())
	require.NoError(t, err)

	req, err := compiled.Resolve(env())
	require.NoError(t, err)
	price, _ := req.Get(FieldPrice)
	size, _ := req.Get(FieldSize)
	assert.Equal(t, "0.05123", price)
	assert.Equal(t, "0.12345678", size)
}

func TestResolveRoundsLiteralAmounts(t *testing.T) {
	compiled, err := Compile(mustTemplate(t, map[string]string{
		"product_id": "BTC-USD",
		"side":       "buy",
		"price":      "100.123456",
		"size":       "0.123456789123",
	}), DefaultFieldSpec())
	require.NoError(t, err)

	req, err := compiled.Resolve(env())
	require.NoError(t, err)
	price, _ := req.Get(FieldPrice)
	size, _ := req.Get(FieldSize)
	assert.Equal(t, "100.12", price)
	assert.Equal(t, "0.12345678", size)

	compiled, err = Compile(mustTemplate(t, map[string]string{
		"product_id": "BTC-USD",
		"side":       "buy",
		"price":      "100.10",
		"size":       "0.010",
	}), DefaultFieldSpec())
	require.NoError(t, err)
	req, err = compiled.Resolve(env())
	require.NoError(t, err)
	price, _ = req.Get(FieldPrice)
	size, _ = req.Get(FieldSize)
	assert.Equal(t, "100.10", price)
	assert.Equal(t, "0.010", size)
}

func TestResolveMaxBalanceUsesResolvedPrice(t *testing.T) {
	compiled, err := Compile(mustTemplate(t, map[string]string{
		"product_id": "BTC-USD",
		"side":       "buy",
		"price":      "{inside_ask} * 2",
		"size":       "{max_balance}",
	}), DefaultFieldSpec())
	require.NoError(t, err)

	req, err := compiled.Resolve(env())
	require.NoError(t, err)
	size, _, err := req.Decimal(FieldSize)
	require.NoError(t, err)
	assert.Equal(t, "2", size.String())
}

func TestResolveQuoteNeedsKnownProduct(t *testing.T) {
	compiled, err := Compile(mustTemplate(t, map[string]string{
		"product_id": "LTC-USD",
		"side":       "buy",
		"price":      "{inside_ask}",
		"size":       "1",
	}), DefaultFieldSpec())
	require.NoError(t, err)

	_, err = compiled.Resolve(env())
	var unknown *expr.UnknownReferenceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "{inside_ask}", unknown.Ref)
}

func TestResolveLimitNeedsPriceAndSize(t *testing.T) {
	compiled, err := Compile(mustTemplate(t, map[string]string{
		"product_id": "BTC-USD",
		"side":       "buy",
		"funds":      "10",
	}), DefaultFieldSpec())
	require.NoError(t, err)

	_, err = compiled.Resolve(env())
	var incomplete *IncompleteOrderError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{FieldPrice, FieldSize}, incomplete.Missing)
}

func TestResolveMalformedExpression(t *testing.T) {
	tmpl := mustTemplate(t, map[string]string{
		"product_id": "BTC-USD",
		"side":       "sell",
		"type":       "market",
		"size":       "{available[BTC]/2",
	})
	assert.Contains(t, tmpl.ParseErrors(), FieldSize)

	compiled, err := Compile(tmpl, DefaultFieldSpec())
	require.NoError(t, err)
	_, err = compiled.Resolve(env())
	var syntaxErr *expr.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

func TestResolveRejectsNonPositiveAmount(t *testing.T) {
	compiled, err := Compile(mustTemplate(t, map[string]string{
		"product_id": "BTC-USD",
		"side":       "sell",
		"type":       "market",
		"size":       "{available[BTC]} - 1",
	}), DefaultFieldSpec())
	require.NoError(t, err)

	_, err = compiled.Resolve(env())
	var invalid *InvalidOrderError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, FieldSize, invalid.Field)
}
