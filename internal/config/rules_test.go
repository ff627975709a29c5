package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"birdtrade/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `
exchange:
  currencies: [xrp]
  defaults:
    type: market
  price_precision:
    xrp-usd: 4
rules:
  - name: long
    handles: ["@BirdPersonBorg"]
    condition: "'long' in {tweet}"
    post_ttl: 2m
    orders:
      - product_id: ETH-USD
        side: buy
        funds: "{available[USD]}/2"
      - product_id: XRP-EUR
        side: buy
        size: 0.010
        post_only: true
  - name: disabled
    orders:
      - product_id: BTC-USD
        side: sell
        size: "{available[BTC]/2"
`

func TestParseRules(t *testing.T) {
	settings, err := ParseRules([]byte(sampleRules))
	require.NoError(t, err)

	require.Len(t, settings.Rules, 2)
	long := settings.Rules[0]
	assert.Equal(t, []string{"birdpersonborg"}, long.Handles)
	assert.Equal(t, 2*time.Minute, long.PostTTL)
	require.Len(t, long.Orders, 2)

	size, ok := long.Orders[1].Field(order.FieldSize)
	require.True(t, ok)
	assert.Equal(t, "0.010", size.Text())
	assert.False(t, size.IsExpression())
	funds, _ := long.Orders[0].Field(order.FieldFunds)
	assert.True(t, funds.IsExpression())

	assert.Equal(t, order.TypeMarket, settings.Spec.Defaults[order.FieldType])
	assert.Equal(t, int32(4), settings.Spec.PricePrecision["XRP-USD"])
	assert.Equal(t, int32(5), settings.Spec.PricePrecision["ETH-BTC"])
	assert.Equal(t, []string{"BTC", "ETH", "EUR", "LTC", "USD", "XRP"}, settings.Currencies)

	require.Len(t, settings.Warnings, 3)
	joined := strings.Join(settings.Warnings, "\n")
	assert.Contains(t, joined, "no handles or keywords")
	assert.Contains(t, joined, "field size")
	assert.Contains(t, joined, "post_only is not supported")
}

func TestParseRulesOrderLifecycle(t *testing.T) {
	settings, err := ParseRules([]byte(`
rules:
  - handles: [a]
    order_ttl: 90s
    market_fallback: true
    orders:
      - product_id: BTC-USD
        side: buy
        price: "{inside_ask}"
        size: 1
        cancel_after: hour
  - handles: [b]
    market_fallback: true
    orders:
      - product_id: BTC-USD
        side: buy
        price: 100
        size: 1
`))
	require.NoError(t, err)
	require.Len(t, settings.Rules, 2)
	assert.Equal(t, 90*time.Second, settings.Rules[0].OrderTTL)
	assert.True(t, settings.Rules[0].MarketFallback)
	require.Len(t, settings.Warnings, 1)
	assert.Contains(t, settings.Warnings[0], "market_fallback has no effect")

	_, err = ParseRules([]byte(`
rules:
  - handles: [a]
    order_ttl: -1s
    orders:
      - product_id: BTC-USD
        side: buy
        funds: 10
`))
	assert.Error(t, err)
}

func TestParseRulesWarnsOnUnresolvablePlaceholders(t *testing.T) {
	settings, err := ParseRules([]byte(`
rules:
  - handles: [a]
    condition: "{available[DOGE]} > 0 and {inside_bid} > 1 and {inside_ask[ETH-USD]} > 1 and {author} == 'a'"
    orders:
      - product_id: BTC-USD
        type: market
        side: buy
        funds: "{max_balance} * {inside_bid} + {balance}"
`))
	require.NoError(t, err)
	joined := strings.Join(settings.Warnings, "\n")
	require.Len(t, settings.Warnings, 3, joined)
	assert.Contains(t, joined, "unknown currency in {available[DOGE]}")
	assert.Contains(t, joined, "{inside_bid} needs a product outside an order")
	assert.Contains(t, joined, "unknown placeholder {balance}")
}

func TestParseRulesRejectsInvalidConfiguration(t *testing.T) {
	cases := map[string]string{
		"no rules": `rules: []`,
		"unknown key": `
rules:
  - handles: [a]
    orders:
      - product_id: BTC-USD
        side: buy
        leverage: 10
`,
		"bad side": `
rules:
  - handles: [a]
    orders:
      - product_id: BTC-USD
        side: hodl
`,
		"bad type": `
rules:
  - handles: [a]
    orders:
      - product_id: BTC-USD
        side: buy
        type: iceberg
`,
		"no orders": `
rules:
  - handles: [a]
`,
		"nested value": `
rules:
  - handles: [a]
    orders:
      - product_id: [BTC-USD]
`,
		"bad default": `
exchange:
  defaults:
    margin: true
rules:
  - handles: [a]
    orders:
      - product_id: BTC-USD
`,
	}
	for name, doc := range cases {
		_, err := ParseRules([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestParseRulesWarnsOnMissingRequiredFields(t *testing.T) {
	settings, err := ParseRules([]byte(`
rules:
  - keywords: [moon]
    orders:
      - side: buy
        funds: 10
`))
	require.NoError(t, err)
	require.Len(t, settings.Warnings, 1)
	assert.Contains(t, settings.Warnings[0], "product_id")
}

func TestLoadRulesReportsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o600))

	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestExampleRulesLoadCleanly(t *testing.T) {
	settings, err := LoadRules(filepath.Join("..", "..", "rules.example.yaml"))
	require.NoError(t, err)
	assert.Len(t, settings.Rules, 3)
	assert.Empty(t, settings.Warnings)
	assert.Equal(t, "gtc", settings.Spec.Defaults[order.FieldTimeInForce])
}
