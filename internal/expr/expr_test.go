package expr

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func num(s string) Value {
	return Number(decimal.RequireFromString(s))
}

func testEnv() MapEnv {
	return MapEnv{
		"tweet":          String("Going LONG on ETHBTC today"),
		"available[USD]": num("1000"),
		"available[BTC]": num("0.5"),
		"inside_bid":     num("199.5"),
		"inside_ask":     num("200.25"),
	}
}

func TestArithmetic(t *testing.T) {
	cases := map[string]string{
		"1 + 2 * 3":                         "7",
		"(1 + 2) * 3":                       "9",
		"-2 * 3":                            "-6",
		"10 / 4":                            "2.5",
		"2 - -3":                            "5",
		"{available[USD]} / 2":              "500",
		"{available[BTC]} * 0.1":            "0.05",
		"min(3, 1, 2) + max(4, 5)":          "6",
		"abs(-1.5)":                         "1.5",
		"floor_to(1.23456789, 3)":           "1.234",
		"floor_to(1.5, 18)":                 "1.5",
		"({inside_ask} + {inside_bid}) / 2": "199.875",
	}
	for src, want := range cases {
		got, err := Eval(src, testEnv())
		require.NoError(t, err, src)
		d, ok := got.Num()
		require.True(t, ok, src)
		assert.True(t, d.Equal(decimal.RequireFromString(want)), "%s = %s, want %s", src, d, want)
	}
}

func TestBooleanLogic(t *testing.T) {
	cases := map[string]bool{
		"'LONG' in {tweet}":                                 true,
		"'long' in {tweet}":                                 false,
		"'long' in {tweet}.lower()":                         true,
		"'short' not in lower({tweet})":                     true,
		`"ETHBTC" in {tweet} and "long" in {tweet}.lower()`: true,
		"not ('ETHUSD' in {tweet})":                         true,
		"{inside_bid} < {inside_ask}":                       true,
		"{available[USD]} >= 1000 and {available[BTC]} > 1": false,
		"{available[BTC]} > 1 or {available[USD]} == 1000":  true,
		"match('(?i)long\\s+on', {tweet})":                  true,
		"match('^short', {tweet})":                          false,
		"true != false":                                     true,
		"'a' + 'b' == 'ab'":                                 true,
	}
	for src, want := range cases {
		got, err := Eval(src, testEnv())
		require.NoError(t, err, src)
		b, ok := got.Truth()
		require.True(t, ok, src)
		assert.Equal(t, want, b, src)
	}
}

func TestShortCircuitSkipsRightOperand(t *testing.T) {
	got, err := Eval("false and {missing} > 1", testEnv())
	require.NoError(t, err)
	b, _ := got.Truth()
	assert.False(t, b)

	got, err = Eval("true or 1 / 0 > 1", testEnv())
	require.NoError(t, err)
	b, _ = got.Truth()
	assert.True(t, b)
}

func TestSyntaxErrors(t *testing.T) {
	for _, src := range []string{
		"{available[BTC]/2",
		"{available[BTC}",
		"{available[]}",
		"1 +",
		"(1 + 2",
		"1 2",
		"",
		"   ",
		"import('os')",
		"'unterminated",
		"1 < 2 < 3",
		"{tweet}.strip()",
		"1 % 2",
		"1.2.3",
	} {
		_, err := Parse(src)
		var syntaxErr *SyntaxError
		assert.ErrorAs(t, err, &syntaxErr, "%q", src)
	}
}

func TestUnknownReference(t *testing.T) {
	_, err := Eval("{available[DOGE]} / 2", testEnv())
	var unknown *UnknownReferenceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "{available[DOGE]}", unknown.Ref)
	assert.Equal(t, "{available[DOGE]} / 2", unknown.Expr)
}

func TestEvaluationErrors(t *testing.T) {
	for _, src := range []string{
		"1 / 0",
		"{available[USD]} / ({inside_bid} - {inside_bid})",
		"'a' < 1",
		"{tweet} == 1",
		"{tweet} * 2",
		"not 1",
		"1 and true",
		"match('(', {tweet})",
		"floor_to(1, -1)",
		"floor_to(1, 19)",
		"floor_to(1.5, 3000000000)",
		"-{tweet}",
	} {
		_, err := Eval(src, testEnv())
		var evalErr *EvaluationError
		assert.ErrorAs(t, err, &evalErr, "%q", src)
	}
}

func mustParse(t *testing.T, src string) *Expression {
	t.Helper()
	e, err := Parse(src)
	require.NoError(t, err)
	return e
}

func TestEvalIsDeterministic(t *testing.T) {
	e := mustParse(t, "{available[USD]} / 3 * {inside_ask} - {inside_bid}")
	first, err := e.Eval(testEnv())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := e.Eval(testEnv())
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
}

func TestTypedEvaluation(t *testing.T) {
	e := mustParse(t, "{available[USD]} / 2")
	d, err := e.EvalNumber(testEnv())
	require.NoError(t, err)
	assert.Equal(t, "500", d.String())

	_, err = e.EvalBool(testEnv())
	var evalErr *EvaluationError
	assert.ErrorAs(t, err, &evalErr)
}

func TestReferences(t *testing.T) {
	e := mustParse(t, "{available[USD]} / {inside_ask} + {available[USD]} * 0 + floor_to({available[BTC]}, 2)")
	assert.Equal(t, []Reference{
		{Name: "available", Key: "USD"},
		{Name: "inside_ask"},
		{Name: "available", Key: "BTC"},
	}, e.References())
}
