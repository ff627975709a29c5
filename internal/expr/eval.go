package expr

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type node interface {
	eval(env Env) (Value, error)
}

type literalNode struct {
	value Value
}

func (n *literalNode) eval(Env) (Value, error) {
	return n.value, nil
}

type refNode struct {
	ref Reference
}

func (n *refNode) eval(env Env) (Value, error) {
	if env == nil {
		return Value{}, &UnknownReferenceError{Ref: n.ref.String()}
	}
	return env.Resolve(n.ref)
}

type negNode struct {
	operand node
	plus    bool
}

func (n *negNode) eval(env Env) (Value, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return Value{}, err
	}
	d, ok := v.Num()
	if !ok {
		return Value{}, evalErrorf("unary operator on %s", v.Kind())
	}
	if n.plus {
		return v, nil
	}
	return Number(d.Neg()), nil
}

type notNode struct {
	operand node
}

func (n *notNode) eval(env Env) (Value, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return Value{}, err
	}
	b, ok := v.Truth()
	if !ok {
		return Value{}, evalErrorf("not applied to %s", v.Kind())
	}
	return Bool(!b), nil
}

type logicalNode struct {
	op          string
	left, right node
}

func (n *logicalNode) eval(env Env) (Value, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return Value{}, err
	}
	lb, ok := l.Truth()
	if !ok {
		return Value{}, evalErrorf("%s applied to %s", n.op, l.Kind())
	}
	if (n.op == "and" && !lb) || (n.op == "or" && lb) {
		return Bool(lb), nil
	}
	r, err := n.right.eval(env)
	if err != nil {
		return Value{}, err
	}
	rb, ok := r.Truth()
	if !ok {
		return Value{}, evalErrorf("%s applied to %s", n.op, r.Kind())
	}
	return Bool(rb), nil
}

type arithNode struct {
	op          string
	left, right node
}

func (n *arithNode) eval(env Env) (Value, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return Value{}, err
	}
	r, err := n.right.eval(env)
	if err != nil {
		return Value{}, err
	}
	if n.op == "+" {
		ls, lok := l.Str()
		rs, rok := r.Str()
		if lok && rok {
			return String(ls + rs), nil
		}
	}
	a, aok := l.Num()
	b, bok := r.Num()
	if !aok || !bok {
		return Value{}, evalErrorf("operator %s on %s and %s", n.op, l.Kind(), r.Kind())
	}
	switch n.op {
	case "+":
		return Number(a.Add(b)), nil
	case "-":
		return Number(a.Sub(b)), nil
	case "*":
		return Number(a.Mul(b)), nil
	default:
		if b.IsZero() {
			return Value{}, evalErrorf("division by zero")
		}
		return Number(a.Div(b)), nil
	}
}

type compareNode struct {
	op          string
	left, right node
}

func (n *compareNode) eval(env Env) (Value, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return Value{}, err
	}
	r, err := n.right.eval(env)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case "in", "not in":
		needle, lok := l.Str()
		haystack, rok := r.Str()
		if !lok || !rok {
			return Value{}, evalErrorf("%s requires strings, got %s and %s", n.op, l.Kind(), r.Kind())
		}
		found := strings.Contains(haystack, needle)
		return Bool(found == (n.op == "in")), nil
	case "==", "!=":
		if l.Kind() != r.Kind() {
			return Value{}, evalErrorf("cannot compare %s with %s", l.Kind(), r.Kind())
		}
		return Bool(l.Equal(r) == (n.op == "==")), nil
	}

	a, aok := l.Num()
	b, bok := r.Num()
	if !aok || !bok {
		return Value{}, evalErrorf("cannot order %s and %s", l.Kind(), r.Kind())
	}
	c := a.Cmp(b)
	switch n.op {
	case "<":
		return Bool(c < 0), nil
	case "<=":
		return Bool(c <= 0), nil
	case ">":
		return Bool(c > 0), nil
	default:
		return Bool(c >= 0), nil
	}
}

type callNode struct {
	name string
	args []node
}

func (n *callNode) eval(env Env) (Value, error) {
	args := make([]Value, 0, len(n.args))
	for _, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return Value{}, err
		}
		args = append(args, v)
	}
	if m, ok := methods[n.name]; ok && len(args) == 1 {
		return m(args[0])
	}
	return functions[n.name].call(args)
}

type function struct {
	minArgs int
	maxArgs int // -1 means variadic
	call    func(args []Value) (Value, error)
}

var methods = map[string]func(Value) (Value, error){
	"lower": func(v Value) (Value, error) {
		s, ok := v.Str()
		if !ok {
			return Value{}, evalErrorf("lower() on %s", v.Kind())
		}
		return String(strings.ToLower(s)), nil
	},
	"upper": func(v Value) (Value, error) {
		s, ok := v.Str()
		if !ok {
			return Value{}, evalErrorf("upper() on %s", v.Kind())
		}
		return String(strings.ToUpper(s)), nil
	},
}

var functions = map[string]function{
	"lower": {minArgs: 1, maxArgs: 1, call: func(args []Value) (Value, error) { return methods["lower"](args[0]) }},
	"upper": {minArgs: 1, maxArgs: 1, call: func(args []Value) (Value, error) { return methods["upper"](args[0]) }},
	"match": {minArgs: 2, maxArgs: 2, call: matchFunc},
	"abs": {minArgs: 1, maxArgs: 1, call: func(args []Value) (Value, error) {
		d, err := numberArg("abs", args[0])
		if err != nil {
			return Value{}, err
		}
		return Number(d.Abs()), nil
	}},
	"min":      {minArgs: 1, maxArgs: -1, call: extremum("min", -1)},
	"max":      {minArgs: 1, maxArgs: -1, call: extremum("max", 1)},
	"floor_to": {minArgs: 2, maxArgs: 2, call: floorTo},
}

const maxFloorPlaces = 18

// matchFunc reports whether the regular expression finds a match anywhere in text.
func matchFunc(args []Value) (Value, error) {
	pattern, ok := args[0].Str()
	if !ok {
		return Value{}, evalErrorf("match pattern must be a string, got %s", args[0].Kind())
	}
	text, ok := args[1].Str()
	if !ok {
		return Value{}, evalErrorf("match text must be a string, got %s", args[1].Kind())
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Value{}, &EvaluationError{Msg: "invalid regular expression", Err: err}
	}
	return Bool(re.MatchString(text)), nil
}

func extremum(name string, sign int) func([]Value) (Value, error) {
	return func(args []Value) (Value, error) {
		best, err := numberArg(name, args[0])
		if err != nil {
			return Value{}, err
		}
		for _, a := range args[1:] {
			d, err := numberArg(name, a)
			if err != nil {
				return Value{}, err
			}
			if d.Cmp(best) == sign {
				best = d
			}
		}
		return Number(best), nil
	}
}

func floorTo(args []Value) (Value, error) {
	d, err := numberArg("floor_to", args[0])
	if err != nil {
		return Value{}, err
	}
	places, err := numberArg("floor_to", args[1])
	if err != nil {
		return Value{}, err
	}
	if !places.IsInteger() || places.IsNegative() || places.GreaterThan(decimal.NewFromInt(maxFloorPlaces)) {
		return Value{}, evalErrorf("floor_to places must be an integer from 0 to %d", maxFloorPlaces)
	}
	return Number(d.RoundFloor(int32(places.IntPart()))), nil
}

func numberArg(fn string, v Value) (decimal.Decimal, error) {
	d, ok := v.Num()
	if !ok {
		return decimal.Decimal{}, evalErrorf("%s expects numbers, got %s", fn, v.Kind())
	}
	return d, nil
}
