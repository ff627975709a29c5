package order

import (
	"strings"

	"birdtrade/internal/expr"

	"github.com/shopspring/decimal"
)

// Field is one order value: either a literal passed through as-is, or an
// expression resolved against live context when the order is placed.
type Field struct {
	text     string
	isExpr   bool
	program  *expr.Expression
	parseErr error
}

func Literal(text string) Field {
	return Field{text: text}
}

// Expression keeps a parse failure instead of returning it so a bad field only
// fails the order that uses it, at the time it is resolved.
func Expression(src string) Field {
	program, err := expr.Parse(src)
	return Field{text: src, isExpr: true, program: program, parseErr: err}
}

// ParseField classifies a raw configured value. Numeric fields are literals only
// when they hold a plain decimal; other fields are expressions only when they
// contain a placeholder.
func ParseField(name, raw string) Field {
	raw = strings.TrimSpace(raw)
	if numericFields[name] {
		if _, err := decimal.NewFromString(raw); err == nil {
			return Literal(raw)
		}
		return Expression(raw)
	}
	if strings.Contains(raw, "{") {
		return Expression(raw)
	}
	return Literal(raw)
}

func (f Field) Text() string {
	return f.text
}

func (f Field) IsExpression() bool {
	return f.isExpr
}

// Err reports the parse error of an expression field, if any.
func (f Field) Err() error {
	return f.parseErr
}

func (f Field) Resolve(env expr.Env) (expr.Value, error) {
	if !f.isExpr {
		return expr.String(f.text), nil
	}
	if f.parseErr != nil {
		return expr.Value{}, f.parseErr
	}
	return f.program.Eval(env)
}

// ResolveNumber evaluates an expression field that must produce a number.
func (f Field) ResolveNumber(env expr.Env) (decimal.Decimal, error) {
	if !f.isExpr {
		return decimal.NewFromString(f.text)
	}
	if f.parseErr != nil {
		return decimal.Decimal{}, f.parseErr
	}
	return f.program.EvalNumber(env)
}

// References lists the placeholders an expression field uses.
func (f Field) References() []expr.Reference {
	if !f.isExpr || f.program == nil {
		return nil
	}
	return f.program.References()
}
