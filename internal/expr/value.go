package expr

import (
	"strconv"

	"github.com/shopspring/decimal"
)

type Kind int

const (
	KindNumber Kind = iota + 1
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is the result of evaluating an expression or any of its operands.
type Value struct {
	kind Kind
	num  decimal.Decimal
	str  string
	b    bool
}

func Number(d decimal.Decimal) Value {
	return Value{kind: KindNumber, num: d}
}

func String(s string) Value {
	return Value{kind: KindString, str: s}
}

func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) Num() (decimal.Decimal, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) Truth() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Text renders the value the way it is sent to the exchange.
func (v Value) Text() string {
	switch v.kind {
	case KindNumber:
		return v.num.String()
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num.Equal(o.num)
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}
