package order

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"birdtrade/internal/expr"

	"github.com/shopspring/decimal"
)

// Request is a fully resolved order: every value is the text sent to the exchange.
type Request struct {
	fields map[string]string
}

func NewRequest(fields map[string]string) Request {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Request{fields: copied}
}

func (r Request) Get(name string) (string, bool) {
	v, ok := r.fields[name]
	return v, ok
}

func (r Request) Fields() map[string]string {
	out := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

func (r Request) ProductID() string { return r.fields[FieldProductID] }
func (r Request) Side() string      { return r.fields[FieldSide] }
func (r Request) Type() string      { return r.fields[FieldType] }

// Decimal returns a numeric field. ok is false when the field is unset.
func (r Request) Decimal(name string) (decimal.Decimal, bool, error) {
	v, ok := r.fields[name]
	if !ok {
		return decimal.Decimal{}, false, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, true, fmt.Errorf("field %s: %w", name, err)
	}
	return d, true, nil
}

func (r Request) String() string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+r.fields[name])
	}
	return strings.Join(parts, " ")
}

// Resolve evaluates every expression field against env. Identity fields are
// resolved first so numeric fields can depend on the product, and price is
// resolved before the amounts so {max_balance} can use it.
func (c Compiled) Resolve(env expr.Env) (Request, error) {
	out := make(map[string]string, len(c.fields))
	fenv := &fieldEnv{base: env}

	for _, name := range c.resolutionOrder() {
		f := c.fields[name]
		if !numericFields[name] {
			v, err := f.Resolve(fenv)
			if err != nil {
				return Request{}, fmt.Errorf("field %s: %w", name, err)
			}
			out[name] = v.Text()
			if name == FieldProductID {
				fenv.productID = out[name]
			}
			continue
		}

		if !f.IsExpression() {
			text := f.Text()
			if d, err := decimal.NewFromString(text); err == nil {
				if rounded := c.round(name, out[FieldProductID], d); !rounded.Equal(d) {
					d, text = rounded, rounded.String()
				}
				if name == FieldPrice {
					fenv.price = &d
				}
			}
			out[name] = text
			continue
		}
		d, err := f.ResolveNumber(fenv)
		if err != nil {
			return Request{}, fmt.Errorf("field %s: %w", name, err)
		}
		d = c.round(name, out[FieldProductID], d)
		if name == FieldPrice {
			fenv.price = &d
		}
		out[name] = d.String()
	}

	if err := c.finish(out); err != nil {
		return Request{}, err
	}
	return Request{fields: out}, nil
}

func (c Compiled) resolutionOrder() []string {
	names := make([]string, 0, len(c.fields))
	for name := range c.fields {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := resolutionRank(names[i]), resolutionRank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
	return names
}

func resolutionRank(name string) int {
	switch {
	case name == FieldProductID:
		return 0
	case name == FieldSide:
		return 1
	case name == FieldType:
		return 2
	case !numericFields[name]:
		return 3
	case name == FieldPrice:
		return 4
	default:
		return 5
	}
}

func (c Compiled) round(name, productID string, d decimal.Decimal) decimal.Decimal {
	switch name {
	case FieldSize:
		return d.RoundFloor(c.spec.SizePrecision)
	case FieldPrice, FieldFunds, FieldFundingAmount:
		return d.RoundFloor(c.spec.priceDigits(productID))
	default:
		return d
	}
}

// finish validates resolved values and drops fields the order type does not take.
func (c Compiled) finish(out map[string]string) error {
	if t := out[FieldType]; !validTypes[t] {
		return &InvalidOrderError{Field: FieldType, Value: t, Reason: "must be one of limit, market or stop"}
	}
	if s := out[FieldSide]; !validSides[s] {
		return &InvalidOrderError{Field: FieldSide, Value: s, Reason: "must be buy or sell"}
	}
	if out[FieldProductID] == "" {
		return &IncompleteOrderError{Missing: []string{FieldProductID}}
	}

	_, hasPrice := out[FieldPrice]
	_, hasSize := out[FieldSize]
	_, hasFunds := out[FieldFunds]
	switch out[FieldType] {
	case TypeLimit:
		var missing []string
		if !hasPrice {
			missing = append(missing, FieldPrice)
		}
		if !hasSize {
			missing = append(missing, FieldSize)
		}
		if len(missing) > 0 {
			return &IncompleteOrderError{Missing: missing, Reason: "limit orders need price and size"}
		}
	default:
		if !hasSize && !hasFunds {
			return &IncompleteOrderError{Missing: []string{FieldSize + " or " + FieldFunds}, Reason: out[FieldType] + " orders need size or funds"}
		}
	}

	if out[FieldType] == TypeMarket {
		delete(out, FieldPrice)
		delete(out, FieldPostOnly)
	}

	for _, name := range []string{FieldPrice, FieldSize, FieldFunds} {
		v, ok := out[name]
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return &InvalidOrderError{Field: name, Value: v, Reason: "not a number"}
		}
		if !d.IsPositive() {
			return &InvalidOrderError{Field: name, Value: v, Reason: "must be positive"}
		}
	}
	return nil
}

// QuoteRefs name the market prices an order may reference. Without a key they
// refer to the order's own product.
var QuoteRefs = map[string]bool{"inside_bid": true, "inside_ask": true}

// fieldEnv adds {max_balance}: the quote currency balance divided by the
// order's price, or by the inside ask when the order has no price.
type fieldEnv struct {
	base      expr.Env
	productID string
	price     *decimal.Decimal
}

func (e *fieldEnv) Resolve(ref expr.Reference) (expr.Value, error) {
	if QuoteRefs[ref.Name] && ref.Key == "" && e.productID != "" {
		v, err := e.base.Resolve(expr.Reference{Name: ref.Name, Key: e.productID})
		var unknown *expr.UnknownReferenceError
		if errors.As(err, &unknown) {
			unknown.Ref = ref.String()
		}
		return v, err
	}
	if ref.Name != "max_balance" || ref.Key != "" {
		return e.base.Resolve(ref)
	}
	_, quote, ok := strings.Cut(e.productID, "-")
	if !ok {
		return expr.Value{}, &expr.UnknownReferenceError{Ref: ref.String() + " for product " + e.productID}
	}
	balance, err := e.number(expr.Reference{Name: "available", Key: quote})
	if err != nil {
		return expr.Value{}, err
	}
	var price decimal.Decimal
	if e.price != nil {
		price = *e.price
	} else if price, err = e.number(expr.Reference{Name: "inside_ask"}); err != nil {
		return expr.Value{}, err
	}
	if price.IsZero() {
		return expr.Value{}, &expr.EvaluationError{Msg: "max_balance with zero price"}
	}
	return expr.Number(balance.Div(price)), nil
}

func (e *fieldEnv) number(ref expr.Reference) (decimal.Decimal, error) {
	v, err := e.Resolve(ref)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, ok := v.Num()
	if !ok {
		return decimal.Decimal{}, &expr.EvaluationError{Msg: ref.String() + " is not a number"}
	}
	return d, nil
}
