// Package expr evaluates the small arithmetic and boolean language used in rule
// conditions and order fields. Expressions are parsed into a tree once and can be
// evaluated any number of times; nothing outside the grammar can be executed.
//
// Placeholders in braces refer to values supplied by an Env:
//
//	{tweet}            post text (string)
//	{available[USD]}   available balance of a currency (number)
//	{inside_bid}       best bid of the order's product (number)
//	{inside_ask}       best ask of the order's product (number)
//
// Operators, loosest first: or, and, not, comparisons (== != < <= > >= in, not in),
// + -, * /, unary minus. Functions: match(pattern, text), lower, upper, min, max,
// abs, floor_to(x, places). Strings also support .lower() and .upper().
package expr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Reference names a placeholder, e.g. {available[BTC]} is {Name: "available", Key: "BTC"}.
type Reference struct {
	Name string
	Key  string
}

func (r Reference) String() string {
	if r.Key == "" {
		return "{" + r.Name + "}"
	}
	return "{" + r.Name + "[" + r.Key + "]}"
}

// Env resolves placeholders. Implementations return *UnknownReferenceError for
// names or keys they do not recognize.
type Env interface {
	Resolve(ref Reference) (Value, error)
}

// MapEnv is a fixed Env keyed by the placeholder text without braces,
// e.g. "tweet" or "available[USD]".
type MapEnv map[string]Value

func (m MapEnv) Resolve(ref Reference) (Value, error) {
	key := strings.TrimSuffix(strings.TrimPrefix(ref.String(), "{"), "}")
	v, ok := m[key]
	if !ok {
		return Value{}, &UnknownReferenceError{Ref: ref.String()}
	}
	return v, nil
}

type Expression struct {
	src  string
	root node
	refs []Reference
}

func Parse(src string) (*Expression, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, &SyntaxError{Expr: src, Pos: 0, Msg: "empty expression"}
	}
	p := &parser{src: src, tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s", describe(t))
	}

	var refs []Reference
	seen := map[Reference]bool{}
	for _, t := range tokens {
		if t.kind == tokRef && !seen[t.ref] {
			seen[t.ref] = true
			refs = append(refs, t.ref)
		}
	}
	return &Expression{src: src, root: root, refs: refs}, nil
}

func (e *Expression) String() string {
	return e.src
}

// References lists the distinct placeholders in source order.
func (e *Expression) References() []Reference {
	out := make([]Reference, len(e.refs))
	copy(out, e.refs)
	return out
}

func (e *Expression) Eval(env Env) (Value, error) {
	v, err := e.root.eval(env)
	if err != nil {
		return Value{}, e.annotate(err)
	}
	return v, nil
}

func (e *Expression) EvalNumber(env Env) (decimal.Decimal, error) {
	v, err := e.Eval(env)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, ok := v.Num()
	if !ok {
		return decimal.Decimal{}, &EvaluationError{Expr: e.src, Msg: fmt.Sprintf("expected number, got %s", v.Kind())}
	}
	return d, nil
}

func (e *Expression) EvalBool(env Env) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.Truth()
	if !ok {
		return false, &EvaluationError{Expr: e.src, Msg: fmt.Sprintf("expected bool, got %s", v.Kind())}
	}
	return b, nil
}

// annotate attaches the source text to errors raised below the root so the
// caller can log a self-contained message.
func (e *Expression) annotate(err error) error {
	var unknown *UnknownReferenceError
	if errors.As(err, &unknown) {
		if unknown.Expr == "" {
			unknown.Expr = e.src
		}
		return unknown
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Expr == "" {
			evalErr.Expr = e.src
		}
		return evalErr
	}
	return &EvaluationError{Expr: e.src, Msg: "lookup failed", Err: err}
}

// Eval parses and evaluates src in one step.
func Eval(src string, env Env) (Value, error) {
	e, err := Parse(src)
	if err != nil {
		return Value{}, err
	}
	return e.Eval(env)
}
